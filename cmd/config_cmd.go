package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/retrace-app/retrace/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and manage configuration",
	}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configPathCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Run: func(cmd *cobra.Command, args []string) {
			path := resolveConfigPath()
			if _, err := os.Stat(path); err == nil {
				fmt.Fprintf(os.Stderr, "Config already exists at %s\n", path)
				os.Exit(1)
			}
			if err := config.Save(path, config.Default()); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Wrote default config to %s\n", path)
		},
	}
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration (secrets redacted)",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			redacted := *cfg
			if redacted.Embedding.APIKey != "" {
				redacted.Embedding.APIKey = "***"
			}
			if redacted.HTTP.Token != "" {
				redacted.HTTP.Token = "***"
			}
			data, _ := json.MarshalIndent(redacted, "", "  ")
			fmt.Println(string(data))
		},
	}
}

func configPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	}
}
