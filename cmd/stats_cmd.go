package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory store statistics",
		Run: func(cmd *cobra.Command, args []string) {
			runStats(jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runStats(jsonOutput bool) {
	cfg := loadConfig()
	records := openStore(cfg)
	defer records.Close()

	st, err := records.Stats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(st, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Printf("Records:  %d\n", st.Count)
	fmt.Printf("Oldest:   %s\n", formatTS(st.OldestTS))
	fmt.Printf("Newest:   %s\n", formatTS(st.NewestTS))

	if len(st.PerApp) == 0 {
		return
	}

	apps := make([]string, 0, len(st.PerApp))
	for app := range st.PerApp {
		apps = append(apps, app)
	}
	sort.Slice(apps, func(i, j int) bool { return st.PerApp[apps[i]] > st.PerApp[apps[j]] })

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "APP\tRECORDS")
	for _, app := range apps {
		fmt.Fprintf(w, "%s\t%d\n", app, st.PerApp[app])
	}
	w.Flush()
}
