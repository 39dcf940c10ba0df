// Command admin performs operator tasks against the pipeline proxy database.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"pipeline-proxy/internal/config"
	"pipeline-proxy/internal/logging"
	"pipeline-proxy/internal/repository"
	"pipeline-proxy/internal/services"
)

// app holds what the subcommands share. The database is opened on first use
// so flag errors are reported without a connection.
type app struct {
	cfgFile string
	cfg     *config.Config
	logger  *logging.Logger
	pool    *pgxpool.Pool
}

func (a *app) load() error {
	if a.cfg != nil {
		return nil
	}
	cfg, err := config.LoadConfig(a.cfgFile)
	if err != nil {
		return err
	}
	logger, _, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

func (a *app) db(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	if err := a.load(); err != nil {
		return nil, err
	}
	pool, err := repository.Connect(ctx, a.cfg.DSN(), a.cfg.DB.MaxConns)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	return pool, nil
}

func (a *app) store(ctx context.Context) (*repository.PostgresStore, error) {
	pool, err := a.db(ctx)
	if err != nil {
		return nil, err
	}
	return repository.NewPostgresStore(pool), nil
}

func (a *app) runs(ctx context.Context) (*services.RunReconciler, error) {
	store, err := a.store(ctx)
	if err != nil {
		return nil, err
	}
	return services.NewRunReconciler(services.Dependencies{Store: store, Logger: a.logger}), nil
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "admin",
		Short:         "Operator tasks for the pipeline proxy",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "path to config.yaml (default: ./config.yaml)")

	cmd.AddCommand(newMigrateCmd(a))
	cmd.AddCommand(newRunsCmd(a))
	cmd.AddCommand(newIdentityCmd(a))
	return cmd
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, err := a.db(cmd.Context())
			if err != nil {
				return err
			}
			if err := repository.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			a.logger.Info("schema applied", "database", a.cfg.DB.Name)
			return nil
		},
	}
}

func main() {
	a := &app{}
	defer a.close()

	if err := newRootCmd(a).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		a.close()
		os.Exit(1)
	}
}
