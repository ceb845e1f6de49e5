package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	vibesync "github.com/vibestream/vibesync-go"
	"github.com/vibestream/vibesync-go/internal/logger"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <email> <password>",
	Short: "Log in and store the session token",
	Long:  "Log in to Vibestream and store the returned token and identity locally.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		client := newClient(cfg, "")

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		res, err := client.Auth.Login(ctx, args[0], args[1])
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		logger.Log.Debug("login_ok", zap.String("user_id", res.User.ID))

		s := vibesync.Session{
			Token:       res.Token,
			UserID:      res.User.ID,
			Username:    res.User.Username,
			DisplayName: res.User.Username,
		}
		if s.Username == "" {
			client.SetToken(res.Token)
			if s, err = resolveSession(ctx, client, s); err != nil {
				return err
			}
		} else if err := (configSessionStore{}).SaveSession(s); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Println("Login successful!")
		fmt.Printf("  User ID:  %s\n", s.UserID)
		fmt.Printf("  Username: %s\n", s.Username)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := (configSessionStore{}).ClearSession(); err != nil {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}
