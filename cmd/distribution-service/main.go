package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "leadflow/cmd/distribution-service/docs"
	"leadflow/internal/config"
	"leadflow/internal/constants"
	"leadflow/internal/distribution"
	"leadflow/internal/logger"
	"leadflow/pkg/logging"
	"leadflow/pkg/migrations"
)

var (
	configFile string
)

// @title           Lead Distribution Service API
// @version         1.0
// @description     Assigns incoming leads to workspace members according to distribution rules
// @BasePath        /api/v1
// @schemes         http https

func main() {
	rootCmd := &cobra.Command{
		Use:   constants.ServiceName,
		Short: "Lead distribution service",
		Long:  "Distribution service assigns leads to team members using round-robin, percentage, least-loaded, fixed and weighted rules",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(redistributeCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger shared by every command.
func setup() (*config.Config, logger.Logger, error) {
	earlyLog := logging.NewEarlyLog()

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
		if configFile == "" {
			earlyLog.Error("Config file is required. Use --config flag or CONFIG_FILE environment variable")
			return nil, nil, fmt.Errorf("config file is required")
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		earlyLog.Error("Failed to load config: %v", err)
		return nil, nil, err
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		earlyLog.Error("Failed to init logger: %v", err)
		return nil, nil, err
	}
	if sugared, ok := log.(*logger.SugaredLogger); ok {
		sugared.SetServiceName(constants.ServiceName)
	}
	return cfg, log, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the distribution service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting Distribution Service")

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.Fatalf("Failed to initialize application: %v", err)
			}

			runErr := app.Run(ctx)

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer shutdownCancel()
			if err := app.Shutdown(shutdownCtx); err != nil {
				log.ErrorwCtx(shutdownCtx, "Shutdown error", "error", err)
			}

			if runErr != nil {
				log.ErrorwCtx(ctx, "Application error", "error", runErr)
				return runErr
			}
			return nil
		},
	}
}

func redistributeCmd() *cobra.Command {
	var (
		workspaceID string
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "redistribute",
		Short: "Distribute the unassigned leads of one workspace and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			app := NewApp(cfg, log)
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
				defer shutdownCancel()
				if err := app.Shutdown(shutdownCtx); err != nil {
					log.ErrorwCtx(shutdownCtx, "Shutdown error", "error", err)
				}
			}()

			if err := app.InitBroker(constants.ServiceName); err != nil {
				return fmt.Errorf("failed to initialize broker: %w", err)
			}
			if err := app.InitializeEngine(ctx); err != nil {
				return fmt.Errorf("failed to initialize engine: %w", err)
			}

			result, err := app.service.RedistributeUnassigned(
				distribution.WithTrigger(ctx, distribution.TriggerCLI), workspaceID, limit)
			if result != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(result); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&workspaceID, "workspace", "", "Workspace to redistribute (required)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of leads to process (0 uses the configured default)")
	_ = cmd.MarkFlagRequired("workspace")
	return cmd
}

func migrateCmd() *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := context.Background()
			app := NewApp(cfg, log)
			if err := app.initPostgres(ctx); err != nil {
				return err
			}
			defer app.db.Close()

			if down {
				if err := migrations.DownPostgres(app.db); err != nil {
					return err
				}
				log.InfowCtx(ctx, "Migrations rolled back")
				return nil
			}

			version, err := migrations.UpPostgres(app.db)
			if err != nil {
				return err
			}
			log.InfowCtx(ctx, "Migrations applied", "version", version)
			return nil
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "Roll back every migration instead of applying them")
	return cmd
}
