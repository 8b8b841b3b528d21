package session

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/thejerf/abtime"

	"github.com/spec-kit/community-hub/internal/domain"
)

const shardCount = 32

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps sessions in process memory. Tokens are spread over
// independently locked shards so unrelated tokens do not contend.
type MemoryStore struct {
	shards [shardCount]*shard
	policy Policy
	clock  abtime.AbstractTime

	newToken func() (string, error)
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(policy Policy, clock abtime.AbstractTime) *MemoryStore {
	if clock == nil {
		clock = abtime.NewRealTime()
	}
	policy.Timeout = normalizeTimeout(policy.Timeout)

	s := &MemoryStore{policy: policy, clock: clock, newToken: NewToken}
	for i := range s.shards {
		s.shards[i] = &shard{sessions: make(map[string]*domain.Session)}
	}
	return s
}

func (s *MemoryStore) shardFor(token string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return s.shards[h.Sum32()%shardCount]
}

// Policy returns the expiry policy in force.
func (s *MemoryStore) Policy() Policy {
	return s.policy
}

// Create starts a session for subjectID.
func (s *MemoryStore) Create(_ context.Context, subjectID string, role domain.Role) (*domain.Session, error) {
	for {
		token, err := s.newToken()
		if err != nil {
			return nil, err
		}

		now := s.clock.Now()
		sess := &domain.Session{
			Token:           token,
			SubjectID:       subjectID,
			Role:            role,
			CreatedAt:       now,
			LastRefreshedAt: now,
		}

		sh := s.shardFor(token)
		sh.mu.Lock()
		if _, taken := sh.sessions[token]; taken {
			sh.mu.Unlock()
			continue
		}
		sh.sessions[token] = sess
		sh.mu.Unlock()
		return clone(sess), nil
	}
}

// Lookup returns the live session for token.
func (s *MemoryStore) Lookup(_ context.Context, token string) (*domain.Session, bool, error) {
	sh := s.shardFor(token)
	now := s.clock.Now()

	sh.mu.RLock()
	sess, ok := sh.sessions[token]
	var out *domain.Session
	if ok {
		out = clone(sess)
	}
	sh.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if s.policy.Expired(out, now) {
		sh.mu.Lock()
		if current, still := sh.sessions[token]; still && s.policy.Expired(current, now) {
			delete(sh.sessions, token)
		}
		sh.mu.Unlock()
		return nil, false, nil
	}
	return out, true, nil
}

// Refresh stamps lastRefreshedAt on a live session.
func (s *MemoryStore) Refresh(_ context.Context, token string) (*domain.Session, bool, error) {
	sh := s.shardFor(token)
	now := s.clock.Now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, ok := sh.sessions[token]
	if !ok {
		return nil, false, nil
	}
	if s.policy.Expired(sess, now) {
		delete(sh.sessions, token)
		return nil, false, nil
	}
	sess.LastRefreshedAt = now
	return clone(sess), true, nil
}

// Invalidate removes the session for token.
func (s *MemoryStore) Invalidate(_ context.Context, token string) error {
	sh := s.shardFor(token)
	sh.mu.Lock()
	delete(sh.sessions, token)
	sh.mu.Unlock()
	return nil
}

// InvalidateSubject removes every session of subjectID except keepToken.
func (s *MemoryStore) InvalidateSubject(_ context.Context, subjectID, keepToken string) (int, error) {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for token, sess := range sh.sessions {
			if sess.SubjectID == subjectID && token != keepToken {
				delete(sh.sessions, token)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// ActiveCount returns the number of unexpired sessions.
func (s *MemoryStore) ActiveCount(_ context.Context) (int, error) {
	now := s.clock.Now()
	count := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, sess := range sh.sessions {
			if !s.policy.Expired(sess, now) {
				count++
			}
		}
		sh.mu.RUnlock()
	}
	return count, nil
}

// Sweep evicts expired sessions.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	now := s.clock.Now()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for token, sess := range sh.sessions {
			if s.policy.Expired(sess, now) {
				delete(sh.sessions, token)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

func (s *MemoryStore) size() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}
