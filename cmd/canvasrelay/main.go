package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"canvasrelay/internal/app"
	"canvasrelay/internal/config"
	"canvasrelay/internal/logging"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. The bare command serves, like "serve".
func newRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "canvasrelay",
		Short: "Real-time collaborative canvas relay",
		Long: `canvasrelay relays drawing events between everyone connected to one shared
canvas over WebSocket and replays the current drawing to late joiners.`,
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfgFile)
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml or json); CANVAS_* env vars override it")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the canvas relay server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfgFile)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "canvasrelay %s\n", version)
		},
	}

	rootCmd.AddCommand(serveCmd, versionCmd)
	return rootCmd
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
// Signal handling ensures graceful shutdown in production environments
func runServe(ctx context.Context, cfgFile string) error {
	// STEP 1: Load configuration (env > file > defaults)
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	// STEP 2: Logger first so every component picks it up
	logging.SetDefault(logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format))
	logger := slog.Default().With(logging.Component("main"))

	// STEP 3: Create application with configuration
	application, err := app.NewApplication(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// The hub outlives the signal so HTTP shutdown happens before connections close
	if err := application.Start(context.WithoutCancel(ctx)); err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("application error: %w", err)
	}

	// STEP 4: Wait for shutdown signal
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	logger.Info("shutting down gracefully")

	// FUNCTIONAL DISCOVERY: Timeout context prevents hanging shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
