// Package loyalty creates empty point wallets for first-time clients. The
// point ledger itself is owned by another subsystem.
package loyalty

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository creates loyalty wallets.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a repository backed by pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("loyalty: pgx pool required")
	}
	return &Repository{pool: pool}
}

// CreateWalletTx inserts an empty wallet for the user inside the caller's
// transaction. Creating a wallet twice for the same user is a no-op.
func (r *Repository) CreateWalletTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	query := `
		INSERT INTO loyalty_wallets (id, user_id, points)
		VALUES ($1, $2, 0)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, query, uuid.New(), userID); err != nil {
		return fmt.Errorf("loyalty: insert wallet: %w", err)
	}
	return nil
}
