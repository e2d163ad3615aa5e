package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func searchCmd() *cobra.Command {
	var (
		limit      int
		offset     int
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Keyword-search the memory store",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runSearch(strings.Join(args, " "), limit, offset, jsonOutput)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max results")
	cmd.Flags().IntVar(&offset, "offset", 0, "result offset")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runSearch(query string, limit, offset int, jsonOutput bool) {
	cfg := loadConfig()
	records := openStore(cfg)
	defer records.Close()

	results, err := records.Query(query, limit, offset)
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
		fmt.Println("No results.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tTIME\tAPP\tTITLE\tTEXT")
	for _, r := range results {
		fmt.Fprintf(w, "%.3f\t%s\t%s\t%s\t%s\n",
			r.Score, formatTS(r.Timestamp), r.App, truncate(r.WindowTitle, 30), truncate(r.OCRText, 60))
	}
	w.Flush()
}

// truncate returns the first n characters of s.
func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
