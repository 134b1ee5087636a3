package main

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/growthtools/leadscout/internal/store"
)

// openStore connects the configured backend and applies migrations.
func openStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		path := strings.TrimPrefix(cfg.Store.DatabaseURL, "sqlite://")
		st, err = store.NewSQLite(path)
	case "", "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	zap.L().Debug("store ready", zap.String("driver", cfg.Store.Driver))
	return st, nil
}
