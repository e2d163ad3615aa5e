package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/retrace-app/retrace/internal/store"
)

func recentCmd() *cobra.Command {
	var (
		limit      int
		app        string
		host       string
		since      int64
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the most recent memory records",
		Run: func(cmd *cobra.Command, args []string) {
			runRecent(store.RecentFilter{SinceMillis: since, App: app, URLHost: host}, limit, jsonOutput)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 25, "max results")
	cmd.Flags().StringVar(&app, "app", "", "filter by application name")
	cmd.Flags().StringVar(&host, "host", "", "filter by URL host")
	cmd.Flags().Int64Var(&since, "since", 0, "only records at or after this epoch-millis timestamp")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runRecent(filter store.RecentFilter, limit int, jsonOutput bool) {
	cfg := loadConfig()
	records := openStore(cfg)
	defer records.Close()

	results, err := records.Recent(filter, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(results) == 0 {
		fmt.Println("No records.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tAPP\tHOST\tTITLE\tTEXT")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			formatTS(r.Timestamp), r.App, r.URLHost, truncate(r.WindowTitle, 30), truncate(r.OCRText, 50))
	}
	w.Flush()
}
