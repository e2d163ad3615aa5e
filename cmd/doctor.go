package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/retrace-app/retrace/internal/capture"
	"github.com/retrace-app/retrace/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment, stores and external services",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("retrace doctor")
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfg := loadConfig()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:       %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	dataDir := cfg.ResolvedDataDir()
	fmt.Printf("  Data dir:     %s", dataDir)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		fmt.Printf(" (NOT WRITABLE: %v)\n", err)
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Printf("  Store:        %s", storePath(cfg))
	if s, err := store.Open(storePath(cfg)); err != nil {
		fmt.Printf(" (FAILED: %v)\n", err)
	} else {
		st, _ := s.Stats()
		s.Close()
		if st != nil {
			fmt.Printf(" (OK, %d records)\n", st.Count)
		} else {
			fmt.Println(" (OK)")
		}
	}

	fmt.Printf("  Capture src:  %s", cfg.Capture.BaseURL)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := capture.NewClient(cfg.Capture.BaseURL).Health(ctx); err != nil {
		fmt.Printf(" (DOWN: %v)\n", err)
	} else {
		fmt.Println(" (OK)")
	}
	cancel()

	fmt.Printf("  Embeddings:   ")
	if cfg.Embedding.APIKey == "" {
		fmt.Println("not configured (semantic search disabled)")
	} else {
		fmt.Printf("%s (credential set)\n", cfg.Embedding.Model)
	}
}
