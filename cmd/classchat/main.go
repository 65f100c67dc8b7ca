package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"classchat/internal/app"
	"classchat/internal/config"
	"classchat/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "classchat",
		Short: "Terminal chat client for the classroom portal",
		Long: `classchat connects to the portal's chat socket and lets you read and
send direct messages, watch who is online and receive announcements.

Credentials come from --token/--user-id, CLASSCHAT_TOKEN/CLASSCHAT_USER_ID
or a .env file in the working directory.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"classchat version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.PersistentFlags()
	flags.String("config", os.Getenv("CLASSCHAT_CONFIG_FILE"), "Config file (.json, .yaml or .yml)")
	flags.String("base-url", "", "Portal base URL, e.g. https://portal.example.com")
	flags.String("token", "", "Access token")
	flags.Int64("user-id", 0, "User ID (read from the token when omitted)")
	flags.String("metrics-addr", "", "Serve /health, /presence and /metrics on this address")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.Bool("log-json", false, "Log as JSON")

	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newConversationsCmd())
	rootCmd.AddCommand(newBroadcastCmd())
	rootCmd.AddCommand(newOnlineCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "classchat version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
		},
	}
}

// loadConfig layers command-line flags over the file/env/defaults configuration
// and initializes logging
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	configPath, _ := flags.GetString("config")

	cfg, err := config.LoadConfigWithPrecedence(configPath)
	if err != nil {
		return nil, err
	}

	if flags.Changed("base-url") {
		cfg.Server.BaseURL, _ = flags.GetString("base-url")
	}
	if flags.Changed("token") {
		cfg.Auth.Token, _ = flags.GetString("token")
	}
	if flags.Changed("user-id") {
		cfg.Auth.UserID, _ = flags.GetInt64("user-id")
	}
	if flags.Changed("metrics-addr") {
		cfg.Server.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON, _ = flags.GetBool("log-json")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
		Output:     cmd.ErrOrStderr(),
	})
	return cfg, nil
}

// startApp builds the application and logs in. The returned stop function
// shuts it down with a bounded timeout.
func startApp(ctx context.Context, cmd *cobra.Command) (*app.Application, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create application: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return nil, nil, err
	}

	stop := func() {
		// Timeout context prevents hanging shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := application.Stop(shutdownCtx); err != nil {
			log.Errorf("Shutdown error", err)
		}
	}
	return application, stop, nil
}
