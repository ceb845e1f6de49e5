package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var searchJSON bool

var followCmd = &cobra.Command{
	Use:   "follow <user-id>",
	Short: "Follow or unfollow a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		u, err := client.Users.Follow(ctx, args[0])
		if err != nil {
			return fmt.Errorf("follow failed: %w", err)
		}
		fmt.Printf("%s now has %s followers\n", valueOrDefault(u.Username, args[0]), humanize.Comma(int64(len(u.Followers))))
		return nil
	},
}

var avatarCmd = &cobra.Command{
	Use:   "avatar <path>",
	Short: "Upload a new avatar image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := readImage(args[0])
		if err != nil {
			return err
		}
		client, _, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		u, err := client.Users.UpdateAvatar(ctx, img)
		if err != nil {
			return fmt.Errorf("avatar upload failed: %w", err)
		}
		fmt.Printf("Avatar updated (%s): %s\n", humanize.Bytes(uint64(img.Size)), u.Avatar)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search users",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		users, err := client.Users.Search(ctx, args[0])
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		if searchJSON {
			return printJSON(users)
		}
		if len(users) == 0 {
			fmt.Println("No users found.")
			return nil
		}
		for _, u := range users {
			fmt.Printf("  %s (%s) - %s followers\n", u.Username, u.ID, humanize.Comma(int64(len(u.Followers))))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Output JSON")

	rootCmd.AddCommand(followCmd)
	rootCmd.AddCommand(avatarCmd)
	rootCmd.AddCommand(searchCmd)
}
