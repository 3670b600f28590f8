// Package identity reads user and staff records and creates minimal client
// accounts for first-time phone-based bookings. Full identity management
// lives elsewhere; this is the read/create contract the booking core needs.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// ErrUserNotFound indicates the referenced user does not exist.
var ErrUserNotFound = errors.New("identity: user not found")

// User roles recognized by the scheduling core.
const (
	RoleClient = "client"
	RoleStaff  = "staff"
	RoleAdmin  = "admin"
)

// StatusActive is the only status eligible for staff assignment.
const StatusActive = "active"

// User is a person known to the platform.
type User struct {
	ID        uuid.UUID
	Name      string
	Phone     string
	Email     string
	Role      string
	Status    string
	CreatedAt time.Time
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository reads and creates users.
type Repository struct {
	db querier
}

// NewRepository creates a repository backed by pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("identity: pgx pool required")
	}
	return &Repository{db: pool}
}

func newRepositoryWithDB(db querier) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, name, phone, email, role, status, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Name, &u.Phone, &u.Email, &u.Role, &u.Status, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("identity: scan user: %w", err)
	}
	return &u, nil
}

// GetByID fetches any user by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRow(ctx, query, id))
}

// GetClientByPhone fetches a client account by phone number.
func (r *Repository) GetClientByPhone(ctx context.Context, phone string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE phone = $1 AND role = 'client'`
	return scanUser(r.db.QueryRow(ctx, query, phone))
}

// ListActiveStaffIDs returns the ids of staff eligible for assignment.
func (r *Repository) ListActiveStaffIDs(ctx context.Context) (map[uuid.UUID]bool, error) {
	query := `SELECT id FROM users WHERE role = 'staff' AND status = 'active'`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("identity: list active staff: %w", err)
	}
	defer rows.Close()

	ids := make(map[uuid.UUID]bool)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("identity: scan staff id: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// CreateClientTx inserts a minimal client account inside the caller's
// transaction. The account gets a random credential that cannot be used to
// log in until the client completes a real registration.
func (r *Repository) CreateClientTx(ctx context.Context, tx pgx.Tx, name, phone string) (*User, error) {
	hash, err := unusableCredential()
	if err != nil {
		return nil, err
	}
	id := uuid.New()
	query := `
		INSERT INTO users (id, name, phone, role, status, password_hash)
		VALUES ($1, $2, $3, 'client', 'active', $4)
		RETURNING created_at
	`
	var createdAt time.Time
	if err := tx.QueryRow(ctx, query, id, name, phone, hash).Scan(&createdAt); err != nil {
		return nil, fmt.Errorf("identity: insert client: %w", err)
	}
	return &User{
		ID:        id,
		Name:      name,
		Phone:     phone,
		Role:      RoleClient,
		Status:    StatusActive,
		CreatedAt: createdAt,
	}, nil
}

// unusableCredential hashes 32 random bytes. Nobody knows the plaintext, so
// the account exists for booking history but cannot authenticate.
func unusableCredential() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("identity: random credential: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(raw)), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("identity: hash credential: %w", err)
	}
	return string(hash), nil
}
