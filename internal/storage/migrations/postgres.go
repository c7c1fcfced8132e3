package migrations

import (
	"context"
	"fmt"

	"solana-swap-trader/internal/storage/postgres"
)

// RunPostgresMigrations applies the ledger schema. pgx runs a multi-statement
// script in one Exec when it has no parameters.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	scripts, err := load(PostgresFS, "postgres")
	if err != nil {
		return err
	}
	for _, s := range scripts {
		if _, err := pool.Exec(ctx, s.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", s.name, err)
		}
	}
	return nil
}
