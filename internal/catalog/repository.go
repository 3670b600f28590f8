// Package catalog provides read-only lookups of services and their
// categories. The catalog itself is owned elsewhere; the scheduling core only
// consumes it.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrServiceNotFound indicates the referenced service does not exist.
	ErrServiceNotFound = errors.New("catalog: service not found")
	// ErrCategoryNotFound indicates the referenced category does not exist.
	ErrCategoryNotFound = errors.New("catalog: category not found")
)

// Service is a bookable offering.
type Service struct {
	ID          uuid.UUID
	CategoryID  uuid.UUID
	Name        string
	PriceCents  int64
	DurationMin int
	CreatedAt   time.Time
}

// Category groups services.
type Category struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository reads the service catalog.
type Repository struct {
	db querier
}

// NewRepository creates a repository backed by pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("catalog: pgx pool required")
	}
	return &Repository{db: pool}
}

func newRepositoryWithDB(db querier) *Repository {
	return &Repository{db: db}
}

// GetService fetches a service by id.
func (r *Repository) GetService(ctx context.Context, id uuid.UUID) (*Service, error) {
	query := `
		SELECT id, category_id, name, price_cents, duration_min, created_at
		FROM services
		WHERE id = $1
	`
	var svc Service
	if err := r.db.QueryRow(ctx, query, id).Scan(
		&svc.ID,
		&svc.CategoryID,
		&svc.Name,
		&svc.PriceCents,
		&svc.DurationMin,
		&svc.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, fmt.Errorf("catalog: select service: %w", err)
	}
	return &svc, nil
}

// GetCategory fetches a category by id.
func (r *Repository) GetCategory(ctx context.Context, id uuid.UUID) (*Category, error) {
	query := `
		SELECT id, name, created_at
		FROM service_categories
		WHERE id = $1
	`
	var cat Category
	if err := r.db.QueryRow(ctx, query, id).Scan(&cat.ID, &cat.Name, &cat.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("catalog: select category: %w", err)
	}
	return &cat, nil
}
