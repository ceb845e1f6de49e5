package main

import (
	"fmt"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// configKeys documents every key accepted by setConfigValue.
var configKeys = []struct{ key, help string }{
	{"default.base_url", "REST API root, e.g. https://vibestream-backend.onrender.com/api"},
	{"default.socket_url", "push channel URL; derived from base_url when empty"},
	{"default.page_size", "posts per feed page (positive integer)"},
	{"auth.token", "bearer token; normally written by 'vibesync login'"},
	{"auth.user_id", "user id recorded in likes"},
	{"auth.username", "identity joined on the push channel"},
	{"auth.display_name", "name shown for your own posts"},
}

func configKeyHelp() string {
	var b strings.Builder
	for _, k := range configKeys {
		fmt.Fprintf(&b, "  %-20s %s\n", k.key, k.help)
	}
	return b.String()
}

var configShowRaw bool

func init() {
	configShowCmd.Flags().BoolVar(&configShowRaw, "raw", false, "Print the file as stored, token included")
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage endpoints and the stored session",
	Long: "Inspect or change ~/.vibesync/config.toml.\n\n" +
		"VIBESYNC_BASE_URL and VIBESYNC_SOCKET_URL override the [default] section at run time.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with the token masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		if configShowRaw {
			path, err := configPath()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if os.IsNotExist(err) {
				fmt.Println("No configuration file found. Run 'vibesync init <base-url>' to create one.")
				return nil
			}
			if err != nil {
				return fmt.Errorf("cannot read config file: %w", err)
			}
			fmt.Print(string(data))
			return nil
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		out := *cfg
		if out.Auth.Token != "" {
			out.Auth.Token = maskKey(out.Auth.Token)
		}
		data, err := toml.Marshal(out)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		for _, env := range []string{"VIBESYNC_BASE_URL", "VIBESYNC_SOCKET_URL"} {
			if os.Getenv(env) != "" {
				fmt.Printf("# %s is set and overrides the file\n", env)
			}
		}
		if cfg.Default.SocketURL == "" {
			fmt.Printf("# push channel: %s (derived)\n", socketURL(cfg))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one configuration key",
	Long:  "Set a configuration key using section.field notation.\n\nKeys:\n" + configKeyHelp(),
	Example: "  vibesync config set default.socket_url wss://push.example.com/ws\n" +
		"  vibesync config set default.page_size 10\n" +
		"  vibesync config set auth.username alice",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("%w\n\nKeys:\n%s", err, configKeyHelp())
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		if key == "auth.token" {
			value = maskKey(value)
		}
		fmt.Printf("Set %s = %s\n", key, value)
		return nil
	},
}
