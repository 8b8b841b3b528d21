// Package correlation carries a per-request correlation id, acting subject
// and start time through context.Context so that log lines emitted in
// different layers for one request can be joined.
//
// A Context is created with Begin at request entry and must be released
// with End on every exit path; Scope does both around a function.
package correlation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/thejerf/abtime"
	"go.uber.org/zap"

	"github.com/spec-kit/community-hub/internal/domain"
)

type ctxKey struct{}

// Context identifies one logical request. Values derived with WithSubject
// share the parent's lifetime: ending any of them ends all.
type Context struct {
	id      string
	subject string
	scope   *scope
}

type scope struct {
	clock abtime.AbstractTime
	start time.Time

	mu      sync.Mutex
	ended   bool
	elapsed time.Duration
}

// Begin starts a new correlation scope with a fresh id.
func Begin(clock abtime.AbstractTime) *Context {
	if clock == nil {
		clock = abtime.NewRealTime()
	}
	return &Context{
		id:      uuid.NewString(),
		subject: domain.AnonymousSubject,
		scope:   &scope{clock: clock, start: clock.Now()},
	}
}

// WithSubject returns a copy attributed to subjectID.
func (c *Context) WithSubject(subjectID string) *Context {
	if subjectID == "" {
		subjectID = domain.AnonymousSubject
	}
	return &Context{id: c.id, subject: subjectID, scope: c.scope}
}

// ID returns the correlation id.
func (c *Context) ID() string {
	return c.id
}

// Subject returns the acting subject or "anonymous".
func (c *Context) Subject() string {
	return c.subject
}

// StartedAt returns when the scope began.
func (c *Context) StartedAt() time.Time {
	return c.scope.start
}

// Elapsed returns time since Begin. After End it returns the duration
// frozen at release.
func (c *Context) Elapsed() time.Duration {
	s := c.scope
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return s.elapsed
	}
	return s.clock.Now().Sub(s.start)
}

// End releases the scope. Further calls are no-ops.
func (c *Context) End() {
	s := c.scope
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.elapsed = s.clock.Now().Sub(s.start)
	s.ended = true
}

// Ended reports whether End has run.
func (c *Context) Ended() bool {
	c.scope.mu.Lock()
	defer c.scope.mu.Unlock()
	return c.scope.ended
}

// Fields returns the zap fields identifying the request.
func (c *Context) Fields() []zap.Field {
	return []zap.Field{
		zap.String("correlation_id", c.id),
		zap.String("subject_id", c.subject),
	}
}

// NewContext returns ctx carrying cc.
func NewContext(ctx context.Context, cc *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, cc)
}

// FromContext returns the correlation context stored in ctx.
func FromContext(ctx context.Context) (*Context, bool) {
	if ctx == nil {
		return nil, false
	}
	cc, ok := ctx.Value(ctxKey{}).(*Context)
	return cc, ok && cc != nil
}

// IDFromContext returns the correlation id in ctx, or "" when absent.
func IDFromContext(ctx context.Context) string {
	if cc, ok := FromContext(ctx); ok {
		return cc.id
	}
	return ""
}

// Logger decorates base with the correlation fields found in ctx.
func Logger(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	if cc, ok := FromContext(ctx); ok {
		return base.With(cc.Fields()...)
	}
	return base
}

// Scope runs fn inside a fresh correlation scope and ends the scope when
// fn returns or panics.
func Scope(ctx context.Context, clock abtime.AbstractTime, fn func(context.Context) error) error {
	cc := Begin(clock)
	defer cc.End()
	return fn(NewContext(ctx, cc))
}
