package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Backend names accepted by Open
const (
	BackendPostgREST = "postgrest"
	BackendPostgres  = "postgres"
	BackendSQLite    = "sqlite"
)

// Options selects and configures a backend
type Options struct {
	Backend     string
	SupabaseURL string
	SupabaseKey string
	DatabaseURL string
	SQLitePath  string
	Timeout     time.Duration
}

// Open builds the Store named by opts.Backend
func Open(ctx context.Context, opts Options, log zerolog.Logger) (Store, error) {
	var (
		store Store
		err   error
	)
	switch opts.Backend {
	case BackendPostgREST:
		store, err = NewRESTStore(RESTConfig{
			URL:     opts.SupabaseURL,
			APIKey:  opts.SupabaseKey,
			Timeout: opts.Timeout,
		}, log)
	case BackendPostgres:
		store, err = NewPostgresStore(ctx, opts.DatabaseURL, log)
	case BackendSQLite:
		store, err = NewSQLiteStore(opts.SQLitePath, log)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}
