package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/news-pipeline/internal/store"
)

// storeRetryPause spaces the reinitialize-and-retry cycles of the store
// decorator.
const storeRetryPause = 2 * time.Second

// initStore opens the configured backend wrapped in the retrying decorator
// and brings the schema up to date.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		inner store.Store
		err   error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "news.db"
		}
		inner, err = store.NewSQLite(dsn)
	case "postgres":
		inner, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	st := store.NewRetrying(inner, store.DefaultStoreAttempts, storeRetryPause)
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// openStore validates the store section and opens it for the inspection
// commands.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	return initStore(ctx)
}

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the run and link store",
}

var storeInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or migrate the store schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Ping(ctx); err != nil {
			return eris.Wrap(err, "store init")
		}
		zap.L().Info("store ready", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

func init() {
	storeCmd.AddCommand(storeInitCmd)
	rootCmd.AddCommand(storeCmd)
}
