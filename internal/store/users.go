package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserStore persists user accounts. Obtain one via [Store.Users].
type UserStore struct {
	pool *pgxpool.Pool
}

const userColumns = `id, username, email, is_admin, created_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.IsAdmin, &u.CreatedAt)
	return u, err
}

// Create inserts a new user. A zero u.ID is replaced with a fresh UUID.
func (s *UserStore) Create(ctx context.Context, u User) (User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}

	const q = `
		INSERT INTO users (id, username, email, is_admin)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + userColumns

	stored, err := scanUser(s.pool.QueryRow(ctx, q, u.ID, u.Username, u.Email, u.IsAdmin))
	if err != nil {
		return User{}, fmt.Errorf("users: create: %w", err)
	}
	return stored, nil
}

// Get returns the user with the given ID, or [ErrNotFound].
func (s *UserStore) Get(ctx context.Context, id uuid.UUID) (User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("users: get: %w", err)
	}
	return u, nil
}

// GetByUsername returns the user with the given username, or [ErrNotFound].
func (s *UserStore) GetByUsername(ctx context.Context, username string) (User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE username = $1`

	u, err := scanUser(s.pool.QueryRow(ctx, q, username))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("users: get by username: %w", err)
	}
	return u, nil
}
