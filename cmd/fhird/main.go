package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fhird/fhird/internal/api"
	"github.com/fhird/fhird/internal/config"
	"github.com/fhird/fhird/internal/ops"
	"github.com/fhird/fhird/internal/platform/db"
	"github.com/fhird/fhird/internal/platform/telemetry"
	"github.com/fhird/fhird/internal/search"
	"github.com/fhird/fhird/internal/store"
)

var migrationsDir string

func main() {
	root := &cobra.Command{
		Use:   "fhird",
		Short: "FHIR R4 resource server",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
	}
	migrateCmd.PersistentFlags().StringVar(&migrationsDir, "dir", "migrations", "migrations directory")
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE:  runMigrateUp,
	})
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE:  runMigrateStatus,
	})

	root.AddCommand(serveCmd, migrateCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(ctx context.Context) (*config.Config, zerolog.Logger, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	logger := newLogger(cfg)

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("connect database: %w", err)
	}
	return cfg, logger, pool, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, pool, err := setup(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	engine := search.NewEngine(pool, logger, search.Options{
		DefaultPageSize: cfg.DefaultPageSize,
		MaxPageSize:     cfg.MaxPageSize,
		SubSearchLimit:  cfg.SubSearchLimit,
		SubOpTimeout:    cfg.SubOpTimeout(),
	})
	st := store.New(pool, logger, engine, cfg.UpdateAsCreate)

	registry := ops.NewRegistry()
	ops.NewEverything(st, engine, logger, cfg.SubSearchLimit).Register(registry)
	ops.RegisterValidate(registry)

	metrics := telemetry.NewProvider()
	server := api.New(cfg, logger, pool, st, engine, registry, metrics)

	logger.Info().Str("env", cfg.Env).Msg("starting fhird")
	return server.Start(ctx)
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, logger, pool, err := setup(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	n, err := db.NewMigrator(pool, migrationsDir).Up(ctx)
	if err != nil {
		return err
	}
	logger.Info().Int("applied", n).Msg("migrations complete")
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, _, pool, err := setup(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	statuses, err := db.NewMigrator(pool, migrationsDir).Status(ctx)
	if err != nil {
		return err
	}
	for _, st := range statuses {
		state := "pending"
		if st.Applied {
			state = "applied " + st.AppliedAt.Format(time.RFC3339)
		}
		fmt.Printf("%03d %-40s %s\n", st.Version, st.Name, state)
	}
	return nil
}
