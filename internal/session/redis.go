package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/thejerf/abtime"

	"github.com/spec-kit/community-hub/internal/domain"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps sessions in Redis so several API processes share them.
//
// Layout under prefix:
//
//	<prefix>:tok:<token>     CBOR session, TTL = remaining lifetime
//	<prefix>:subj:<subject>  set of the subject's tokens
//	<prefix>:active          sorted set token -> expiry (unix ms)
//	<prefix>:owner           hash token -> subject, outlives the token key
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	policy Policy
	clock  abtime.AbstractTime

	newToken func() (string, error)
}

// NewRedisStore creates a store backed by client.
func NewRedisStore(client redis.UniversalClient, prefix string, policy Policy, clock abtime.AbstractTime) *RedisStore {
	if clock == nil {
		clock = abtime.NewRealTime()
	}
	if prefix == "" {
		prefix = "sess"
	}
	policy.Timeout = normalizeTimeout(policy.Timeout)
	return &RedisStore{redis: client, prefix: prefix, policy: policy, clock: clock, newToken: NewToken}
}

func (s *RedisStore) tokenKey(token string) string {
	return s.prefix + ":tok:" + token
}

func (s *RedisStore) subjectKey(subjectID string) string {
	return s.prefix + ":subj:" + subjectID
}

func (s *RedisStore) activeKey() string {
	return s.prefix + ":active"
}

func (s *RedisStore) ownerKey() string {
	return s.prefix + ":owner"
}

// ownerOf resolves the subject of a token whose blob may already be gone.
func (s *RedisStore) ownerOf(ctx context.Context, token string) (string, error) {
	subjectID, err := s.redis.HGet(ctx, s.ownerKey(), token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", unavailable(err)
	}
	return subjectID, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func millis(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// Policy returns the expiry policy in force.
func (s *RedisStore) Policy() Policy {
	return s.policy
}

// Create starts a session for subjectID.
func (s *RedisStore) Create(ctx context.Context, subjectID string, role domain.Role) (*domain.Session, error) {
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
	data, err := encode(sess)
	if err != nil {
		return nil, err
	}

	created, err := s.redis.SetNX(ctx, s.tokenKey(token), data, s.policy.Timeout).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if !created {
		return nil, errors.New("session token collision")
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, s.subjectKey(subjectID), token)
		pipe.HSet(ctx, s.ownerKey(), token, subjectID)
		pipe.ZAdd(ctx, s.activeKey(), redis.Z{Score: millis(s.policy.ExpiresAt(sess)), Member: token})
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return sess, nil
}

func (s *RedisStore) load(ctx context.Context, token string) (*domain.Session, bool, error) {
	data, err := s.redis.Get(ctx, s.tokenKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, unavailable(err)
	}
	sess, err := decode(token, data)
	if err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

// Lookup returns the live session for token.
func (s *RedisStore) Lookup(ctx context.Context, token string) (*domain.Session, bool, error) {
	sess, ok, err := s.load(ctx, token)
	if err != nil || !ok {
		return nil, false, err
	}
	if s.policy.Expired(sess, s.clock.Now()) {
		if err := s.remove(ctx, token, sess.SubjectID); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return sess, true, nil
}

// Refresh stamps lastRefreshedAt on a live session; under a sliding
// policy the key's TTL and expiry score move with it.
func (s *RedisStore) Refresh(ctx context.Context, token string) (*domain.Session, bool, error) {
	sess, ok, err := s.load(ctx, token)
	if err != nil || !ok {
		return nil, false, err
	}

	now := s.clock.Now()
	if s.policy.Expired(sess, now) {
		if err := s.remove(ctx, token, sess.SubjectID); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	sess.LastRefreshedAt = now
	data, err := encode(sess)
	if err != nil {
		return nil, false, err
	}

	expiresAt := s.policy.ExpiresAt(sess)
	ttl := expiresAt.Sub(now)
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}

	// XX keeps a concurrent Invalidate from being undone.
	updated, err := s.redis.SetXX(ctx, s.tokenKey(token), data, ttl).Result()
	if err != nil {
		return nil, false, unavailable(err)
	}
	if !updated {
		return nil, false, nil
	}
	if s.policy.Sliding {
		if err := s.redis.ZAddXX(ctx, s.activeKey(), redis.Z{Score: millis(expiresAt), Member: token}).Err(); err != nil {
			return nil, false, unavailable(err)
		}
	}
	return sess, true, nil
}

// Invalidate removes the session for token.
func (s *RedisStore) Invalidate(ctx context.Context, token string) error {
	sess, ok, err := s.load(ctx, token)
	if err != nil {
		return err
	}
	if ok {
		return s.remove(ctx, token, sess.SubjectID)
	}
	subjectID, err := s.ownerOf(ctx, token)
	if err != nil {
		return err
	}
	return s.remove(ctx, token, subjectID)
}

func (s *RedisStore) remove(ctx context.Context, token, subjectID string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.tokenKey(token))
		pipe.ZRem(ctx, s.activeKey(), token)
		pipe.HDel(ctx, s.ownerKey(), token)
		if subjectID != "" {
			pipe.SRem(ctx, s.subjectKey(subjectID), token)
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// InvalidateSubject removes every session of subjectID except keepToken.
func (s *RedisStore) InvalidateSubject(ctx context.Context, subjectID, keepToken string) (int, error) {
	tokens, err := s.redis.SMembers(ctx, s.subjectKey(subjectID)).Result()
	if err != nil {
		return 0, unavailable(err)
	}

	removed := 0
	for _, token := range tokens {
		if token == keepToken {
			continue
		}
		deleted, err := s.redis.Del(ctx, s.tokenKey(token)).Result()
		if err != nil {
			return removed, unavailable(err)
		}
		if err := s.remove(ctx, token, subjectID); err != nil {
			return removed, err
		}
		removed += int(deleted)
	}
	return removed, nil
}

// ActiveCount returns the number of sessions whose expiry has not passed.
func (s *RedisStore) ActiveCount(ctx context.Context) (int, error) {
	now := strconv.FormatInt(s.clock.Now().UnixMilli(), 10)
	n, err := s.redis.ZCount(ctx, s.activeKey(), now, "+inf").Result()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

// Sweep evicts sessions whose expiry has passed.
func (s *RedisStore) Sweep(ctx context.Context) (int, error) {
	cutoff := "(" + strconv.FormatInt(s.clock.Now().UnixMilli(), 10)
	tokens, err := s.redis.ZRangeByScore(ctx, s.activeKey(), &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
	if err != nil {
		return 0, unavailable(err)
	}

	removed := 0
	for _, token := range tokens {
		sess, ok, err := s.load(ctx, token)
		if err != nil && errors.Is(err, ErrStoreUnavailable) {
			return removed, err
		}
		var subjectID string
		if ok {
			subjectID = sess.SubjectID
		} else if subjectID, err = s.ownerOf(ctx, token); err != nil {
			return removed, err
		}
		if err := s.remove(ctx, token, subjectID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
