package storage

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"

	"github.com/example/ambulance-dispatch/internal/config"
)

// Backend is an opened Store plus what the caller needs to release it. App
// is set for the firebase backend so push messaging can share it.
type Backend struct {
	Store Store
	App   *firebase.App
	Close func() error
}

func Open(ctx context.Context, cfg config.StoreConfig, log *zap.Logger) (Backend, error) {
	nop := func() error { return nil }
	switch cfg.Backend {
	case config.BackendMemory:
		return Backend{Store: NewMemoryStore(), Close: nop}, nil
	case config.BackendFirebase:
		app, err := NewFirebaseApp(ctx, cfg.FirebaseDatabaseURL, cfg.FirebaseCredentialsFile, cfg.FirebaseCredentialsJSON)
		if err != nil {
			return Backend{}, err
		}
		fs, err := NewFirebaseStore(ctx, app, cfg.PollInterval, log)
		if err != nil {
			return Backend{}, err
		}
		return Backend{Store: fs, App: app, Close: nop}, nil
	case config.BackendPostgres:
		ps, err := NewPostgresStore(cfg.PGDSN, cfg.PollInterval, log)
		if err != nil {
			return Backend{}, err
		}
		if cfg.RunMigrations {
			if err := ps.Migrate(ctx); err != nil {
				_ = ps.Close()
				return Backend{}, err
			}
			log.Info("migrations applied")
		}
		return Backend{Store: ps, Close: ps.Close}, nil
	}
	return Backend{}, fmt.Errorf("unknown store backend %q", cfg.Backend)
}
