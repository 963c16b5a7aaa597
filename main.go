package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	svc "github.com/krshsl/mockprep/services"
	"github.com/spf13/cobra"
)

func main() {
	// .env is optional; viper reads it as well but os.Getenv callers need it loaded
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := newRootCmd().Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var config *svc.Config

	root := &cobra.Command{
		Use:           "mockprep",
		Short:         "Mock interview practice backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config = svc.LoadConfig()
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level: parseLogLevel(config.Log.Level),
			})))
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API, the live interview channel and the in-process resume worker",
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, stop := signalContext(cmd.Context())
				defer stop()

				server := svc.NewServer(config)
				defer server.Close()
				if err := server.InitializeServices(ctx); err != nil {
					return err
				}
				return server.Start(ctx)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or update the database schema",
			RunE: func(cmd *cobra.Command, args []string) error {
				db, repo, err := svc.OpenDatabase(cmd.Context(), config.Database)
				if err != nil {
					return err
				}
				defer db.Close()

				if err := repo.AutoMigrate(); err != nil {
					return fmt.Errorf("failed to run migrations: %w", err)
				}
				slog.Info("Database migrations completed")
				return nil
			},
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Insert the demo users and their resume data",
			RunE: func(cmd *cobra.Command, args []string) error {
				db, repo, err := svc.OpenDatabase(cmd.Context(), config.Database)
				if err != nil {
					return err
				}
				defer db.Close()

				if err := repo.AutoMigrate(); err != nil {
					return fmt.Errorf("failed to run migrations: %w", err)
				}
				return svc.NewDatabaseSeeder(repo).SeedDatabase(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "worker",
			Short: "Consume resume summary jobs from the message broker",
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, stop := signalContext(cmd.Context())
				defer stop()

				server := svc.NewServer(config)
				defer server.Close()
				if err := server.InitializeServices(ctx); err != nil {
					return err
				}
				return server.RunWorker(ctx)
			},
		},
	)

	return root
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
