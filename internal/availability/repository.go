package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository reads the availability index. The scheduler never writes it.
type Repository struct {
	db querier
}

// NewRepository creates a repository backed by pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("availability: pgx pool required")
	}
	return &Repository{db: pool}
}

func newRepositoryWithDB(db querier) *Repository {
	return &Repository{db: db}
}

// ListForDate returns every staff schedule recorded for the given date.
func (r *Repository) ListForDate(ctx context.Context, day time.Time) ([]DaySchedule, error) {
	query := `
		SELECT staff_id, slots
		FROM staff_availability
		WHERE day = $1
	`
	rows, err := r.db.Query(ctx, query, day)
	if err != nil {
		return nil, fmt.Errorf("availability: list for date: %w", err)
	}
	defer rows.Close()

	var schedules []DaySchedule
	for rows.Next() {
		var sched DaySchedule
		var raw []byte
		if err := rows.Scan(&sched.StaffID, &raw); err != nil {
			return nil, fmt.Errorf("availability: scan schedule: %w", err)
		}
		if err := json.Unmarshal(raw, &sched.Slots); err != nil {
			return nil, fmt.Errorf("availability: decode slots: %w", err)
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}
