package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/community-hub/internal/domain"
)

// ErrDuplicateUser is returned by Create when the username or email is taken.
var ErrDuplicateUser = errors.New("username or email already registered")

// ErrUserNotFound is returned by updates addressing an unknown user.
var ErrUserNotFound = errors.New("user not found")

const uniqueViolation = "23505"

// UserRepository defines persistence access for accounts.
type UserRepository interface {
	FindCredential(ctx context.Context, username string) (domain.CredentialRecord, bool, error)
	FindByID(ctx context.Context, id string) (*domain.User, bool, error)
	Exists(ctx context.Context, username, email string) (bool, error)
	Create(ctx context.Context, user *domain.User) error
	UpdatePasswordHash(ctx context.Context, id, encodedHash string) error
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

func (r *userRepository) FindCredential(ctx context.Context, username string) (domain.CredentialRecord, bool, error) {
	const query = `
        SELECT user_id, password_hash
        FROM users WHERE LOWER(username)=LOWER($1)`

	var rec domain.CredentialRecord
	err := r.pool.QueryRow(ctx, query, strings.TrimSpace(username)).Scan(&rec.SubjectID, &rec.EncodedHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CredentialRecord{}, false, nil
	}
	if err != nil {
		return domain.CredentialRecord{}, false, err
	}
	return rec, true, nil
}

func (r *userRepository) FindByID(ctx context.Context, id string) (*domain.User, bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, false, nil
	}

	const query = `
        SELECT user_id, username, email, password_hash, role, status, created_at, updated_at
        FROM users WHERE user_id=$1`

	var user domain.User
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.Status,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &user, true, nil
}

func (r *userRepository) Exists(ctx context.Context, username, email string) (bool, error) {
	const query = `
        SELECT EXISTS (
            SELECT 1 FROM users WHERE LOWER(username)=LOWER($1) OR LOWER(email)=LOWER($2)
        )`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, username, email).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Status == "" {
		user.Status = domain.UserStatusActive
	}

	const query = `
        INSERT INTO users (user_id, username, email, password_hash, role, status)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Role,
		user.Status,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	return translateWriteError(err)
}

func (r *userRepository) UpdatePasswordHash(ctx context.Context, id, encodedHash string) error {
	const query = `
        UPDATE users SET password_hash=$1, updated_at=NOW()
        WHERE user_id=$2`

	cmd, err := r.pool.Exec(ctx, query, encodedHash, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func translateWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateUser
	}
	return err
}
