package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"marketintel/internal/app"
	"marketintel/internal/config"
	"marketintel/internal/util"
	"marketintel/pkg/marketintel"
)

const version = "0.1.0"

var (
	configPath string
	serverURL  string
	outputFmt  string
	logLevel   string
)

// rootCmd is the base command for the marketintel CLI.
var rootCmd = &cobra.Command{
	Use:   "marketintel-cli",
	Short: "Walk-forward backtesting and forecasting for multi-asset portfolios",
	Long: `marketintel-cli runs walk-forward backtests and forecasts either in-process
against the local bar store or against a marketintel-server (--server).`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("marketintel-cli %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.Path(), "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "marketintel-server base URL; empty runs in-process")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openApp builds the in-process components from the configuration.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	logger := util.NewLogger(level, "console")
	util.SetDefault(logger)
	return app.New(ctx, cfg, logger, nil)
}

func client() *marketintel.Client {
	return marketintel.NewClient(serverURL)
}

func remote() bool { return serverURL != "" }

func requireServer(cmd *cobra.Command) error {
	if !remote() {
		return fmt.Errorf("%s needs --server", cmd.Name())
	}
	return nil
}

func jsonOutput() bool { return strings.EqualFold(outputFmt, "json") }

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
