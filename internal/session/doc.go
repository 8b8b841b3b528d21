// Package session holds live authenticated sessions keyed by an opaque,
// unguessable token.
//
// A session is Active until its expiry elapses or it is invalidated; there
// is no other state. Expired sessions are evicted lazily by Lookup and
// Refresh and in bulk by Sweep. Expiry is computed by a single Policy shared
// by every Store implementation:
//
//   - fixed (default): createdAt + timeout; Refresh only records activity.
//   - sliding: lastRefreshedAt + timeout; Refresh extends the session.
package session
