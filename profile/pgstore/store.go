package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Alijah8/adwood-crm/permission"
	"github.com/Alijah8/adwood-crm/provider"
	"github.com/Alijah8/adwood-crm/session"
)

const profileColumns = "id::text, email, name, role, phone, avatar_url, is_active, created_at, updated_at"

// editableColumns is the write allow-list, in statement order.
var editableColumns = []string{"name", "phone", "avatar_url", "updated_at"}

// Querier is the subset of a pgx pool the store uses.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements [provider.Profiles].
type Store struct {
	db Querier
}

var _ provider.Profiles = (*Store)(nil)

// New returns a store over db, typically a [*pgxpool.Pool].
func New(db Querier) *Store {
	return &Store{db: db}
}

// Open connects a pool to databaseURL and pings it.
func Open(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	return pool, nil
}

// GetProfile implements [provider.Profiles].
func (s *Store) GetProfile(ctx context.Context, id string) (*session.Profile, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, provider.ErrProfileNotFound
	}
	row := s.db.QueryRow(ctx, "SELECT "+profileColumns+" FROM profiles WHERE id = $1", id)
	return scanProfile(row)
}

// UpdateProfile implements [provider.Profiles] and returns the row as
// stored.
func (s *Store) UpdateProfile(ctx context.Context, id string, patch provider.ProfilePatch) (*session.Profile, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, provider.ErrProfileNotFound
	}
	sql, args := buildUpdate(id, patch)
	return scanProfile(s.db.QueryRow(ctx, sql, args...))
}

func buildUpdate(id string, patch provider.ProfilePatch) (string, []any) {
	fields := patch.Fields()
	args := []any{id}
	sets := make([]string, 0, len(editableColumns))
	for _, col := range editableColumns {
		v, ok := fields[col]
		if !ok {
			continue
		}
		args = append(args, v)
		sets = append(sets, col+" = $"+strconv.Itoa(len(args)))
	}
	return "UPDATE profiles SET " + strings.Join(sets, ", ") +
		" WHERE id = $1 RETURNING " + profileColumns, args
}

func scanProfile(row pgx.Row) (*session.Profile, error) {
	var (
		p    session.Profile
		role string
	)
	err := row.Scan(&p.ID, &p.Email, &p.Name, &role, &p.Phone, &p.AvatarURL, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, provider.ErrProfileNotFound
		}
		return nil, fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
	}
	p.Role = permission.Role(role)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}
