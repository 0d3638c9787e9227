package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"milestone-tracker/internal/model"
)

// ErrDuplicate is returned when an insert hits a unique constraint.
var ErrDuplicate = errors.New("duplicate record")

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// CreateUser inserts a new user and fills in ID and CreatedAt.
func (r *UserRepository) CreateUser(ctx context.Context, u *model.User) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO users (username, password, role)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, u.Username, u.PasswordHash, u.Role).Scan(&u.ID, &u.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// FindByUsername returns nil when no user matches.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, `WHERE username = $1`, username)
}

func (r *UserRepository) FindByID(ctx context.Context, id int) (*model.User, error) {
	return r.findOne(ctx, `WHERE id = $1`, id)
}

// ListByRole 返回指定角色的用户，按 id 排序
func (r *UserRepository) ListByRole(ctx context.Context, role string) ([]model.User, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, username, password, role, created_at
		FROM users
		WHERE role = $1
		ORDER BY id
	`, role)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	users, err := pgx.CollectRows(rows, scanUser)
	if err != nil {
		return nil, fmt.Errorf("failed to scan users: %w", err)
	}
	return users, nil
}

func (r *UserRepository) findOne(ctx context.Context, where string, arg any) (*model.User, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, username, password, role, created_at
		FROM users `+where, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	u, err := pgx.CollectOneRow(rows, scanUser)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

func scanUser(row pgx.CollectableRow) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	return u, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
