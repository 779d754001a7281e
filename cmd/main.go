package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"go-upload-notifier/internal/infrastructure/config"
	"go-upload-notifier/internal/infrastructure/logger"
	"go-upload-notifier/internal/infrastructure/registry"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:          "notifier",
	Short:        "Upload fan-out and real-time notification service",
	SilenceUsage: true,
	RunE:         runServe,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", config.DefaultConfigFile,
		"Path to YAML configuration")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())

	if err := rootCmd.ExecuteContext(WithSignal(context.Background())); err != nil {
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway and the fan-out consumers",
		RunE:  runServe,
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the postgres registry schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if cfg.Postgres.DSN == "" {
				return fmt.Errorf("migrate: postgres dsn is not configured")
			}
			return registry.Migrate(cmd.Context(), cfg.Postgres.DSN)
		},
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	log := logger.NewLogrusLogger(&cfg.Logging)

	app, err := newApplication(cmd.Context(), cfg, log)
	if err != nil {
		log.WithError(err).Error("failed to build application")
		return err
	}

	if err := app.Run(cmd.Context()); err != nil {
		log.Errorf("failed to run application: %v", err)
		return err
	}
	return nil
}

func WithSignal(pctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(pctx)

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

		<-sigc

		cancel()
	}()

	return ctx
}
