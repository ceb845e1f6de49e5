package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	sendJSON          bool
	chatJSON          bool
	notificationsJSON bool
)

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <peer> <text>",
	Short: "Send a private message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		e, _, err := getEngine(ctx)
		if err != nil {
			return err
		}
		m, err := e.SendMessage(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		if sendJSON {
			return printJSON(m)
		}
		fmt.Printf("Message sent to %s\n", m.To)
		fmt.Printf("  Message ID: %s\n", m.ID)
		return nil
	},
}

// ============================================================================
// chat / chats
// ============================================================================

var chatCmd = &cobra.Command{
	Use:   "chat <peer>",
	Short: "Show the conversation with a peer and mark it read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		e, _, err := getEngine(ctx)
		if err != nil {
			return err
		}
		if err := e.OpenConversation(ctx, args[0]); err != nil {
			return err
		}
		thread := e.Store().Conversation()
		if chatJSON {
			return printJSON(thread)
		}
		if len(thread) == 0 {
			fmt.Println("No messages found.")
			return nil
		}
		for _, m := range thread {
			printMessage(m)
		}
		return nil
	},
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List conversations, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		e, _, err := getEngine(ctx)
		if err != nil {
			return err
		}
		if err := e.RefreshMessages(ctx); err != nil {
			return fmt.Errorf("failed to load messages: %w", err)
		}
		self := e.Session().Username
		peers := e.Store().Peers(self)
		if len(peers) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}
		fmt.Printf("%d unread\n", e.Store().UnreadCount(self))
		for _, p := range peers {
			fmt.Printf("  %-16s %s  %s\n", p.Peer, ago(p.LastMessage.CreatedAt), truncate(p.LastMessage.Text, 60))
		}
		return nil
	},
}

var deleteChatCmd = &cobra.Command{
	Use:   "delete-chat <peer>",
	Short: "Delete the conversation with a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout*2)
		defer cancel()

		e, _, err := getEngine(ctx)
		if err != nil {
			return err
		}
		localOnly, err := e.DeleteConversation(ctx, args[0])
		if err != nil {
			return err
		}
		if localOnly {
			fmt.Println("The server did not confirm the deletion.")
			return nil
		}
		fmt.Printf("Conversation with %s deleted\n", args[0])
		return nil
	},
}

// ============================================================================
// notifications
// ============================================================================

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "List notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		e, _, err := getEngine(ctx)
		if err != nil {
			return err
		}
		if err := e.RefreshNotifications(ctx); err != nil {
			return fmt.Errorf("failed to load notifications: %w", err)
		}
		list := e.Store().Notifications()
		if notificationsJSON {
			return printJSON(list)
		}
		if len(list) == 0 {
			fmt.Println("No notifications.")
			return nil
		}
		for _, n := range list {
			from := valueOrDefault(n.From, "Someone")
			line := fmt.Sprintf("  [%s] %s from %s", ago(n.CreatedAt), n.Type, from)
			if n.PostID != "" {
				line += " on " + n.PostID
			}
			if n.Message != "" {
				line += ": " + n.Message
			}
			fmt.Println(line)
		}
		return nil
	},
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "Output JSON")
	chatCmd.Flags().BoolVar(&chatJSON, "json", false, "Output JSON")
	notificationsCmd.Flags().BoolVar(&notificationsJSON, "json", false, "Output JSON")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(chatsCmd)
	rootCmd.AddCommand(deleteChatCmd)
	rootCmd.AddCommand(notificationsCmd)
}
