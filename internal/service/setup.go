package service

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"gitlab.com/dirk.krummacker/addressbooks-service/internal/addressbook"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/backend"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/backend/memory"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/backend/sqlbackend"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/config"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/metrics"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/vcard"
)

// CreateDatabase initializes and returns a database connection with the configured parameters.
// The tables of a SQLite database are created if they do not exist yet.
func CreateDatabase(ctx context.Context, cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlbackend.Open(cfg.DBDriver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if cfg.DBDriver == config.DriverSQLite {
		if err := sqlbackend.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("create tables: %w", err)
		}
	}
	return db, nil
}

// CreateRegistry creates the configured backends in the configured order.
func CreateRegistry(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend.Registry, error) {
	var backends []backend.Backend
	closeAll := func(err error) error {
		for _, b := range backends {
			err = multierr.Append(err, b.Close())
		}
		return err
	}
	for _, bc := range cfg.Backends {
		caps := backend.AllCapabilities
		if bc.ReadOnly {
			caps = backend.ReadOnlyCapabilities
		}
		var b backend.Backend
		switch bc.Type {
		case config.TypeSQL:
			db, err := CreateDatabase(ctx, cfg)
			if err != nil {
				return nil, closeAll(fmt.Errorf("backend %q: %w", bc.Name, err))
			}
			sb, err := sqlbackend.New(bc.Name, caps, db)
			if err != nil {
				db.Close()
				return nil, closeAll(fmt.Errorf("backend %q: %w", bc.Name, err))
			}
			b = sb
		case config.TypeMemory:
			b = memory.New(bc.Name, caps)
		default:
			return nil, closeAll(fmt.Errorf("backend %q has invalid type %q", bc.Name, bc.Type))
		}
		backends = append(backends, b)
		logger.Info("backend registered",
			zap.String("backend", bc.Name),
			zap.String("type", bc.Type),
			zap.Strings("capabilities", caps.Names()))
	}
	registry, err := backend.NewRegistry(backends...)
	if err != nil {
		return nil, closeAll(err)
	}
	return registry, nil
}

// CreateController wires the registry into a controller with its serializer.
func CreateController(cfg *config.Config, registry *backend.Registry, logger *zap.Logger, m *metrics.Metrics) (*addressbook.Controller, error) {
	serializer, err := vcard.NewSerializer(cfg.CacheSize, logger)
	if err != nil {
		return nil, fmt.Errorf("create serializer: %w", err)
	}
	return addressbook.New(registry, serializer, logger, m), nil
}
