package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the current configuration and session, and fetch live account info.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:    %s\n", valueOrDefault(cfg.Default.BaseURL, "(default)"))
		fmt.Printf("  Socket URL:  %s\n", socketURL(cfg))
		if cfg.Default.PageSize > 0 {
			fmt.Printf("  Page size:   %d\n", cfg.Default.PageSize)
		}

		fmt.Println()
		fmt.Println("Auth:")
		if cfg.Auth.Token == "" {
			fmt.Println("  Token:       (not logged in)")
			return nil
		}
		fmt.Printf("  Token:       %s\n", maskKey(cfg.Auth.Token))
		fmt.Printf("  Username:    %s\n", valueOrDefault(cfg.Auth.Username, "(unresolved)"))
		fmt.Printf("  User ID:     %s\n", valueOrDefault(cfg.Auth.UserID, "(unresolved)"))

		fmt.Println()
		fmt.Println("Live status:")
		client := newClient(cfg, cfg.Auth.Token)

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		me, err := client.Auth.Me(ctx)
		if err != nil {
			fmt.Printf("  Error fetching account info: %v\n", err)
			return nil
		}
		fmt.Printf("  Username:  %s\n", me.Username)
		fmt.Printf("  Followers: %s\n", humanize.Comma(int64(len(me.Followers))))
		fmt.Printf("  Following: %s\n", humanize.Comma(int64(len(me.Following))))

		unread, err := client.Messages.UnreadCount(ctx, me.Username)
		if err != nil {
			fmt.Printf("  Unread:    unavailable (%v)\n", err)
			return nil
		}
		fmt.Printf("  Unread:    %s\n", humanize.Comma(int64(unread)))
		return nil
	},
}
