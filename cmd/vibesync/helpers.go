package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	vibesync "github.com/vibestream/vibesync-go"
	"github.com/vibestream/vibesync-go/internal/logger"
)

const requestTimeout = 15 * time.Second

// getClient creates an API client authenticated with the stored token.
func getClient() (*vibesync.Client, *Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Auth.Token == "" {
		return nil, nil, fmt.Errorf("not logged in; run 'vibesync login <email> <password>' first")
	}
	return newClient(cfg, cfg.Auth.Token), cfg, nil
}

func newClient(cfg *Config, token string) *vibesync.Client {
	opts := []vibesync.ClientOption{vibesync.WithLogger(logger.Log)}
	if cfg.Default.BaseURL != "" {
		opts = append(opts, vibesync.WithBaseURL(cfg.Default.BaseURL))
	}
	return vibesync.NewClient(token, opts...)
}

// getEngine creates an engine for the stored session and resolves a
// missing username. Notices are printed to stderr.
func getEngine(ctx context.Context, extra ...vibesync.EngineOption) (*vibesync.Engine, *Config, error) {
	client, cfg, err := getClient()
	if err != nil {
		return nil, nil, err
	}
	opts := []vibesync.EngineOption{
		vibesync.WithEngineLogger(logger.Log),
		vibesync.WithSessionStore(configSessionStore{}),
	}
	if cfg.Default.PageSize > 0 {
		opts = append(opts, vibesync.WithPageSize(cfg.Default.PageSize))
	}
	opts = append(opts, extra...)

	e := vibesync.NewEngine(client, sessionFromConfig(cfg), opts...)
	e.OnNotice(printNotice)
	if cfg.Auth.Username == "" {
		s, err := resolveSession(ctx, client, sessionFromConfig(cfg))
		if err != nil {
			return nil, nil, err
		}
		e = vibesync.NewEngine(client, s, opts...)
		e.OnNotice(printNotice)
	}
	return e, cfg, nil
}

// resolveSession fills in the identity for a token-only session and persists it.
func resolveSession(ctx context.Context, client *vibesync.Client, s vibesync.Session) (vibesync.Session, error) {
	u, err := client.Auth.Me(ctx)
	if err != nil {
		return s, fmt.Errorf("failed to resolve current user: %w", err)
	}
	s.UserID, s.Username = u.ID, u.Username
	if s.DisplayName == "" {
		s.DisplayName = u.Username
	}
	if err := (configSessionStore{}).SaveSession(s); err != nil {
		return s, err
	}
	return s, nil
}

// socketURL is the configured push endpoint, or the API host root.
func socketURL(cfg *Config) string {
	if cfg.Default.SocketURL != "" {
		return cfg.Default.SocketURL
	}
	base := cfg.Default.BaseURL
	if base == "" {
		base = vibesync.DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	u.Path = strings.TrimSuffix(strings.TrimRight(u.Path, "/"), "/api")
	return u.String()
}

// readImage opens path as an upload. The content type comes from the
// extension, or from sniffing the first bytes.
func readImage(path string) (*vibesync.ImageUpload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open image: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("cannot read image: %w", err)
	}
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	img := &vibesync.ImageUpload{
		FileName:    filepath.Base(path),
		ContentType: ct,
		Size:        int64(len(data)),
		Reader:      strings.NewReader(string(data)),
	}
	if err := img.Validate(); err != nil {
		return nil, fmt.Errorf("%w (%s)", err, humanize.Bytes(uint64(img.Size)))
	}
	return img, nil
}

// ============================================================================
// Output
// ============================================================================

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printNotice(n vibesync.Notice) {
	line := fmt.Sprintf("[%s] %s", n.Level, n.Title)
	if n.Text != "" {
		line += ": " + n.Text
	}
	fmt.Fprintln(os.Stderr, line)
}

func printPost(p vibesync.Post) {
	author := p.Author.Username
	if author == "" {
		author = p.Author.ID
	}
	edited := ""
	if p.Edited {
		edited = " (edited)"
	}
	fmt.Printf("%s  @%s · %s%s\n", p.ID, author, ago(p.CreatedAt), edited)
	if p.Text != "" {
		fmt.Printf("  %s\n", p.Text)
	}
	if p.Image != "" {
		fmt.Printf("  [image] %s\n", p.Image)
	}
	fmt.Printf("  %s likes, %s comments\n", humanize.Comma(int64(len(p.Likes))), humanize.Comma(int64(len(p.Comments))))
}

func printMessage(m vibesync.Message) {
	state := ""
	if m.DeliveryState != vibesync.DeliveryConfirmed {
		state = " (" + string(m.DeliveryState) + ")"
	}
	fmt.Printf("[%s] %s → %s: %s%s\n", ago(m.CreatedAt), m.From, m.To, m.Text, state)
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "unknown time"
	}
	return humanize.Time(t)
}

// maskKey shows the first 6 and last 4 characters of a token.
func maskKey(key string) string {
	if len(key) <= 12 {
		return "****"
	}
	return key[:6] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
