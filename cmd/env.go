package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/opencrm-ro/firmdir/internal/activity"
	"github.com/opencrm-ro/firmdir/internal/caen"
	"github.com/opencrm-ro/firmdir/internal/db"
	"github.com/opencrm-ro/firmdir/internal/firm"
	"github.com/opencrm-ro/firmdir/internal/nameindex"
)

// env bundles the connected services a command needs.
type env struct {
	Pool     db.Pool
	Ledger   *activity.Ledger
	Queries  *firm.QueryService
	Firms    *firm.PostgresStore
	Index    *nameindex.Index
	Importer *caen.Importer
}

func initEnv(ctx context.Context) (*env, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, eris.New("store.database_url is not configured (set FIRMDIR_STORE_DATABASE_URL)")
	}
	pool, err := db.Connect(ctx, cfg.Store.DatabaseURL, &db.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, err
	}

	firms := firm.NewPostgresStore(pool)
	ledger := activity.NewLedger(activity.NewPostgresStore(pool))
	return &env{
		Pool:    pool,
		Ledger:  ledger,
		Queries: firm.NewQueryService(firms, ledger),
		Firms:   firms,
		Index: nameindex.New(pool, nameindex.Config{
			SimilarityThreshold: cfg.Search.SimilarityThreshold,
			ProjectionLen:       cfg.Search.ProjectionLen,
			DefaultLimit:        cfg.Search.DefaultLimit,
		}),
		Importer: caen.NewImporter(pool, caen.ImporterConfig{
			MaxErrors:  cfg.Import.MaxErrors,
			RowsPerSec: cfg.Import.RowsPerSec,
		}),
	}, nil
}

func (e *env) Close() {
	e.Pool.Close()
}
