// Package pg bootstraps the PostgreSQL layer: a pgx/v5 connection pool with
// retrying connect, goose migrations applied from an embedded filesystem,
// and a health check suitable for liveness endpoints.
//
// Configuration comes from environment variables through the struct tags on
// [Config]; see pkg/config for the loader. Typical startup:
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil { ... }
//	defer pool.Close()
//	if err := pg.Migrate(ctx, pool, storage.Migrations, cfg, log); err != nil { ... }
package pg
