package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	vibesync "github.com/vibestream/vibesync-go"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	feedUser  string
	feedPages int
	feedJSON  bool

	postImage string
	postJSON  bool

	editImage       string
	editRemoveImage bool
)

// ============================================================================
// feed
// ============================================================================

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Show the global feed or a profile feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout*2)
		defer cancel()

		e, _, err := getEngine(ctx)
		if err != nil {
			return err
		}
		if err := e.SetFeedSubject(ctx, vibesync.FeedSubject{ProfileID: feedUser}); err != nil {
			return fmt.Errorf("failed to load feed: %w", err)
		}
		for i := 1; i < feedPages && e.HasMore(); i++ {
			if _, err := e.LoadMore(ctx); err != nil {
				return fmt.Errorf("failed to load page %d: %w", i+1, err)
			}
		}

		posts := e.Store().Posts()
		if feedJSON {
			return printJSON(posts)
		}
		if len(posts) == 0 {
			fmt.Println("No posts found.")
			return nil
		}
		for _, p := range posts {
			printPost(p)
		}
		if e.HasMore() {
			fmt.Printf("(more available, use --pages %d)\n", feedPages+1)
		}
		return nil
	},
}

// ============================================================================
// post
// ============================================================================

var postCmd = &cobra.Command{
	Use:   "post <text>",
	Short: "Publish a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var img *vibesync.ImageUpload
		if postImage != "" {
			var err error
			if img, err = readImage(postImage); err != nil {
				return err
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		e, _, err := getEngine(ctx)
		if err != nil {
			return err
		}
		p, err := e.CreatePost(ctx, args[0], img)
		if err != nil {
			return err
		}
		if postJSON {
			return printJSON(p)
		}
		printPost(*p)
		return nil
	},
}

// ============================================================================
// like / comment / delete
// ============================================================================

var likeCmd = &cobra.Command{
	Use:   "like <post-id>",
	Short: "Toggle your like on a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		p, err := client.LikePost(ctx, args[0])
		if err != nil {
			return fmt.Errorf("like failed: %w", err)
		}
		state := "Unliked"
		if p.LikedBy(cfg.Auth.UserID) || p.LikedBy(cfg.Auth.Username) {
			state = "Liked"
		}
		fmt.Printf("%s %s (%d likes)\n", state, p.ID, len(p.Likes))
		return nil
	},
}

var commentCmd = &cobra.Command{
	Use:   "comment <post-id> <text>",
	Short: "Comment on a post",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		p, err := client.CommentPost(ctx, args[0], args[1])
		if err != nil {
			return fmt.Errorf("comment failed: %w", err)
		}
		printPost(*p)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <post-id>",
	Short: "Delete one of your posts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		if err := client.DeletePost(ctx, args[0]); err != nil {
			return fmt.Errorf("delete failed: %w", err)
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

// ============================================================================
// edit
// ============================================================================

var editCmd = &cobra.Command{
	Use:   "edit <post-id> <text>",
	Short: "Edit one of your posts",
	Long:  "Edit a post. The known edit endpoints are tried in order until one accepts the change.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		postID := args[0]
		edit := vibesync.PostEdit{Text: args[1], RemoveImage: editRemoveImage}
		if editImage != "" {
			img, err := readImage(editImage)
			if err != nil {
				return err
			}
			edit.Image = img
		}

		client, _, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout*2)
		defer cancel()

		attempts := make([]vibesync.Attempt[*vibesync.Post], 0, len(vibesync.DefaultEditRoutes))
		for _, r := range vibesync.DefaultEditRoutes {
			route := r
			attempts = append(attempts, vibesync.Attempt[*vibesync.Post]{
				Name: route.String(),
				Do: func(ctx context.Context) (*vibesync.Post, error) {
					return client.EditPost(ctx, route, postID, edit)
				},
			})
		}
		p, idx, err := vibesync.FirstSuccess(ctx, "edit post", attempts, vibesync.ChainOptions{
			ShortCircuit: vibesync.IsPermission,
			OnAttempt: func(_ int, name string, err error) {
				if err != nil {
					fmt.Printf("  %s: %v\n", name, err)
				}
			},
		})
		if err != nil {
			return err
		}
		fmt.Printf("Updated via %s\n", attempts[idx].Name)
		printPost(*p)
		return nil
	},
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	feedCmd.Flags().StringVar(&feedUser, "user", "", "Show the feed of one user id")
	feedCmd.Flags().IntVar(&feedPages, "pages", 1, "Number of pages to load")
	feedCmd.Flags().BoolVar(&feedJSON, "json", false, "Output JSON")

	postCmd.Flags().StringVar(&postImage, "image", "", "Attach an image file")
	postCmd.Flags().BoolVar(&postJSON, "json", false, "Output JSON")

	editCmd.Flags().StringVar(&editImage, "image", "", "Replace the image with this file")
	editCmd.Flags().BoolVar(&editRemoveImage, "remove-image", false, "Remove the current image")

	rootCmd.AddCommand(feedCmd)
	rootCmd.AddCommand(postCmd)
	rootCmd.AddCommand(likeCmd)
	rootCmd.AddCommand(commentCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(deleteCmd)
}
