package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	vibesync "github.com/vibestream/vibesync-go"
	"github.com/vibestream/vibesync-go/internal/logger"
)

var watchMetricsAddr string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect the push channel and print live updates",
	Long:  "Bootstrap the session, connect the push channel and print reconciled events and notices until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		reg := prometheus.NewRegistry()
		e, _, err := getEngine(ctx,
			vibesync.WithRealtime(socketURL(cfg), vibesync.RealtimeConfig{AutoReconnect: true, MaxReconnectAttempts: -1}),
			vibesync.WithMetrics(reg),
		)
		if err != nil {
			return err
		}

		if watchMetricsAddr != "" {
			srv := serveMetrics(watchMetricsAddr, reg)
			defer srv.Shutdown(context.Background())
		}

		bctx, cancel := context.WithTimeout(ctx, requestTimeout*2)
		err = e.Bootstrap(bctx)
		cancel()
		if err != nil {
			return fmt.Errorf("bootstrap failed: %w", err)
		}
		self := e.Session().Username
		fmt.Printf("Signed in as %s: %d posts, %d notifications, %d unread messages\n",
			self, len(e.Store().Posts()), len(e.Store().Notifications()), e.Store().UnreadCount(self))

		if err := e.Start(ctx); err != nil {
			logger.Log.Warn("push_connect_failed", zap.Error(err))
			fmt.Fprintf(os.Stderr, "Push channel unavailable: %v\n", err)
		}
		if t := e.Transport(); t != nil {
			t.OnEvent(func(event string, payload json.RawMessage) {
				fmt.Printf("%s  %s\n", time.Now().Format("15:04:05"), describeEvent(e, event, payload))
			})
			t.OnReconnecting(func(attempt int, delay time.Duration) {
				fmt.Fprintf(os.Stderr, "Reconnecting (attempt %d) in %s\n", attempt, delay.Round(time.Millisecond))
			})
			t.OnConnected(func(reconnect bool) {
				if reconnect {
					fmt.Fprintln(os.Stderr, "Reconnected")
				}
			})
		}

		<-ctx.Done()
		e.Stop()
		fmt.Println("Stopped.")
		return nil
	},
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("metrics_server_failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	return srv
}

// describeEvent renders one push event after the engine has applied it.
func describeEvent(e *vibesync.Engine, event string, payload json.RawMessage) string {
	var raw any
	_ = json.Unmarshal(payload, &raw)
	switch event {
	case vibesync.EventChatMessage:
		m := vibesync.NormalizeMessageJSON(payload)
		return fmt.Sprintf("message %s → %s: %s", m.From, m.To, truncate(m.Text, 80))
	case vibesync.EventOnlineUsers:
		return fmt.Sprintf("%d users online", e.Store().Presence().Len())
	case vibesync.EventNewPost, vibesync.EventUpdatePost:
		p := vibesync.NormalizePost(raw)
		return fmt.Sprintf("%s %s by @%s", event, p.ID, p.Author.Username)
	case vibesync.EventNewLike, vibesync.EventNewComment:
		m, _ := raw.(map[string]any)
		postID, _ := m["postId"].(string)
		if p, ok := e.Store().Post(postID); ok {
			return fmt.Sprintf("%s on %s (%d likes, %d comments)", event, postID, len(p.Likes), len(p.Comments))
		}
		return fmt.Sprintf("%s on %s", event, postID)
	case vibesync.EventNotification:
		n := vibesync.NormalizeNotification(raw)
		return fmt.Sprintf("notification: %s from %s", n.Type, valueOrDefault(n.From, "Someone"))
	}
	return event
}

func init() {
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.AddCommand(watchCmd)
}
