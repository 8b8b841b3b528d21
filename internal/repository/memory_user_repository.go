package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/community-hub/internal/domain"
)

// MemoryUserRepository is a process-local directory used when no database
// is configured and in tests.
type MemoryUserRepository struct {
	mu     sync.RWMutex
	byID   map[string]*domain.User
	byName map[string]string
	now    func() time.Time
}

// NewMemoryUserRepository returns an empty directory.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:   make(map[string]*domain.User),
		byName: make(map[string]string),
		now:    time.Now,
	}
}

var _ UserRepository = (*MemoryUserRepository)(nil)

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func (r *MemoryUserRepository) FindCredential(_ context.Context, username string) (domain.CredentialRecord, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byName[normalize(username)]
	if !ok {
		return domain.CredentialRecord{}, false, nil
	}
	return domain.CredentialRecord{SubjectID: id, EncodedHash: r.byID[id].PasswordHash}, true, nil
}

func (r *MemoryUserRepository) FindByID(_ context.Context, id string) (*domain.User, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[id]
	if !ok {
		return nil, false, nil
	}
	cp := *user
	return &cp, true, nil
}

func (r *MemoryUserRepository) Exists(_ context.Context, username, email string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.existsLocked(username, email), nil
}

func (r *MemoryUserRepository) existsLocked(username, email string) bool {
	if _, ok := r.byName[normalize(username)]; ok {
		return true
	}
	for _, u := range r.byID {
		if normalize(u.Email) == normalize(email) {
			return true
		}
	}
	return false
}

func (r *MemoryUserRepository) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.existsLocked(user.Username, user.Email) {
		return ErrDuplicateUser
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Status == "" {
		user.Status = domain.UserStatusActive
	}
	now := r.now()
	user.CreatedAt, user.UpdatedAt = now, now

	cp := *user
	r.byID[user.ID] = &cp
	r.byName[normalize(user.Username)] = user.ID
	return nil
}

func (r *MemoryUserRepository) UpdatePasswordHash(_ context.Context, id, encodedHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	user.PasswordHash = encodedHash
	user.UpdatedAt = r.now()
	return nil
}
