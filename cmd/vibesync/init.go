package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

var initSocketURL string

func init() {
	initCmd.Flags().StringVar(&initSocketURL, "socket-url", "", "Push channel URL (defaults to the API host)")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <base-url>",
	Short: "Store the API base URL in ~/.vibesync/config.toml",
	Long:  "Initialize the vibesync CLI by storing the backend API base URL, e.g. https://example.com/api.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		base := strings.TrimRight(args[0], "/")
		if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid base URL %q", args[0])
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Default.BaseURL = base
		if initSocketURL != "" {
			cfg.Default.SocketURL = initSocketURL
		}
		if cfg.Default.PageSize == 0 {
			cfg.Default.PageSize = 5
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Base URL saved to %s\n", path)
		return nil
	},
}
