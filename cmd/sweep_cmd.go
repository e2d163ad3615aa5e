package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/retrace-app/retrace/internal/vector"
)

func sweepCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete records older than the retention window",
		Long: "Removes memory records whose timestamp falls outside retention_days.\n" +
			"Source media artifacts are never touched: artifact retention is a\n" +
			"separate policy from record retention.",
		Run: func(cmd *cobra.Command, args []string) {
			runSweep(dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be deleted without deleting")
	return cmd
}

func runSweep(dryRun bool) {
	cfg := loadConfig()
	if cfg.RetentionDays <= 0 {
		fmt.Println("retention_days is 0, nothing to sweep.")
		return
	}

	records := openStore(cfg)
	defer records.Close()

	cutoff := time.Now().AddDate(0, 0, -cfg.RetentionDays).UnixMilli()

	if dryRun {
		n, err := records.CountOlderThan(cutoff)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Would delete %d records older than %s.\n", n, formatTS(cutoff))
		return
	}

	n, err := records.RetentionSweep(cutoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Deleted %d records older than %s.\n", n, formatTS(cutoff))

	coll, err := vector.OpenCollection(vectorPath(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening vector collection: %v\n", err)
		os.Exit(1)
	}
	defer coll.Close()

	vn, err := coll.DeleteOlderThan(cutoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Deleted %d vector entries.\n", vn)
}
