// Package cmd implements the hermes CLI.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hermesworks/hermes/internal/config"
)

// Version is set at build time via -ldflags "-X github.com/hermesworks/hermes/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

// Exit codes: 0 success, 1 configuration error, 2 runtime failure,
// 130 interrupted.
const (
	exitOK          = 0
	exitConfig      = 1
	exitRuntime     = 2
	exitInterrupted = 130
)

var rootCmd = &cobra.Command{
	Use:   "hermes",
	Short: "Hermes agent gateway",
	Long:  "Hermes routes chat platform messages to an agent and delivers responses across Telegram, Discord, WhatsApp and local files, with per-session scheduling and cron jobs.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.hermes/gateway.json or $HERMES_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(gatewayCmd())
	rootCmd.AddCommand(cronCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hermes %s\n", Version)
		},
	}
}

func setupLogging() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("HERMES_CONFIG"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "gateway.json"
	}
	return home + "/.hermes/gateway.json"
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Execute runs the root command and maps errors to exit codes.
func Execute() {
	// A .env beside the working directory supplements the environment.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		code := exitRuntime
		switch {
		case errors.Is(err, config.ErrConfig):
			code = exitConfig
		case errors.Is(err, errInterrupted):
			code = exitInterrupted
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(code)
	}
}

var errInterrupted = errors.New("interrupted")
