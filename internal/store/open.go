package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/consolidate-cli/internal/config"
)

// Open builds a Store from configuration and applies migrations.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite", "":
		s, err = NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
