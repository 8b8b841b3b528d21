package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/community-hub/internal/domain"
)

func TestMemoryUserRepositoryLifecycle(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	user := &domain.User{Username: "Alice", Email: "alice@example.org", PasswordHash: "h1", Role: domain.RoleRequester}
	require.NoError(t, repo.Create(ctx, user))
	require.NotEmpty(t, user.ID)
	assert.Equal(t, domain.UserStatusActive, user.Status)
	assert.False(t, user.CreatedAt.IsZero())

	rec, ok, err := repo.FindCredential(ctx, " alice ")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, user.ID, rec.SubjectID)
	assert.Equal(t, "h1", rec.EncodedHash)

	require.NoError(t, repo.UpdatePasswordHash(ctx, user.ID, "h2"))
	got, ok, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "h2", got.PasswordHash)
	assert.Equal(t, domain.RoleRequester, got.Role)

	got.Role = domain.RoleAdmin
	again, _, _ := repo.FindByID(ctx, user.ID)
	assert.Equal(t, domain.RoleRequester, again.Role)
}

func TestMemoryUserRepositoryMisses(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	_, ok, err := repo.FindCredential(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = repo.FindByID(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, repo.UpdatePasswordHash(ctx, "missing", "h"), ErrUserNotFound)
}

func TestMemoryUserRepositoryRejectsDuplicates(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &domain.User{Username: "bob", Email: "bob@example.org", Role: domain.RoleVolunteer}))

	err := repo.Create(ctx, &domain.User{Username: "BOB", Email: "other@example.org"})
	assert.ErrorIs(t, err, ErrDuplicateUser)

	err = repo.Create(ctx, &domain.User{Username: "robert", Email: "Bob@Example.org"})
	assert.ErrorIs(t, err, ErrDuplicateUser)

	exists, err := repo.Exists(ctx, "nobody", "bob@example.org")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestTranslateWriteError(t *testing.T) {
	dup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: uniqueViolation})
	assert.ErrorIs(t, translateWriteError(dup), ErrDuplicateUser)

	other := errors.New("connection reset")
	assert.Equal(t, other, translateWriteError(other))
	assert.NoError(t, translateWriteError(nil))
}
