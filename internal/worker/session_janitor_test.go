package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/abtime"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/community-hub/internal/domain"
	"github.com/spec-kit/community-hub/internal/session"
)

type fakeSweeper struct {
	mu      sync.Mutex
	calls   int
	results []int
	err     error
}

func (f *fakeSweeper) Sweep(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	if f.calls < len(f.results) {
		n = f.results[f.calls]
	}
	f.calls++
	return n, f.err
}

type sweepResult struct {
	removed int
	err     error
}

func startJanitor(t *testing.T, sweeper Sweeper, clock *abtime.ManualTime, logger *zap.Logger) (*SessionJanitor, chan sweepResult, context.CancelFunc) {
	t.Helper()
	results := make(chan sweepResult, 4)
	j := NewSessionJanitor(sweeper, time.Minute, clock, logger)
	j.onSweep = func(removed int, err error) { results <- sweepResult{removed, err} }

	ctx, cancel := context.WithCancel(context.Background())
	j.Start(ctx)
	t.Cleanup(func() {
		cancel()
		j.Wait()
	})
	return j, results, cancel
}

func waitSweep(t *testing.T, results chan sweepResult) sweepResult {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not sweep")
		return sweepResult{}
	}
}

func TestJanitorSweepsOnEachTick(t *testing.T) {
	clock := abtime.NewManual()
	sweeper := &fakeSweeper{results: []int{3, 0}}
	_, results, _ := startJanitor(t, sweeper, clock, nil)

	clock.Trigger(JanitorTickerID)
	assert.Equal(t, 3, waitSweep(t, results).removed)

	clock.Trigger(JanitorTickerID)
	assert.Equal(t, 0, waitSweep(t, results).removed)
}

func TestJanitorLogsFailuresAndKeepsRunning(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	clock := abtime.NewManual()
	sweeper := &fakeSweeper{err: errors.New("redis down")}
	_, results, _ := startJanitor(t, sweeper, clock, zap.New(core))

	clock.Trigger(JanitorTickerID)
	r := waitSweep(t, results)
	require.Error(t, r.err)

	clock.Trigger(JanitorTickerID)
	waitSweep(t, results)

	entries := logs.FilterMessage("session sweep failed").All()
	require.Len(t, entries, 2)
	assert.NotEmpty(t, entries[0].ContextMap()["correlation_id"])
	assert.Equal(t, domain.AnonymousSubject, entries[0].ContextMap()["subject_id"])
}

func TestJanitorEvictsExpiredSessionsFromStore(t *testing.T) {
	clock := abtime.NewManualAtTime(time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC))
	store := session.NewMemoryStore(session.FixedPolicy(time.Hour), clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Create(ctx, "u1", domain.RoleRequester)
		require.NoError(t, err)
	}
	_, results, _ := startJanitor(t, store, clock, nil)

	clock.Advance(2 * time.Hour)
	clock.Trigger(JanitorTickerID)
	assert.Equal(t, 3, waitSweep(t, results).removed)

	count, err := store.ActiveCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSweepersSumsAndKeepsGoingAfterFailure(t *testing.T) {
	failing := &fakeSweeper{results: []int{1}, err: errors.New("redis down")}
	healthy := &fakeSweeper{results: []int{4}}

	removed, err := Sweepers{failing, healthy}.Sweep(context.Background())
	require.Error(t, err)
	assert.Equal(t, 5, removed)
	assert.Equal(t, 1, healthy.calls)
}

func TestJanitorDrivesSeveralSweepers(t *testing.T) {
	clock := abtime.NewManual()
	first := &fakeSweeper{results: []int{2}}
	second := &fakeSweeper{results: []int{3}}
	_, results, _ := startJanitor(t, Sweepers{first, second}, clock, nil)

	clock.Trigger(JanitorTickerID)
	r := waitSweep(t, results)
	require.NoError(t, r.err)
	assert.Equal(t, 5, r.removed)
}

func TestJanitorStopsOnCancel(t *testing.T) {
	clock := abtime.NewManual()
	j := NewSessionJanitor(&fakeSweeper{}, time.Minute, clock, nil)
	ctx, cancel := context.WithCancel(context.Background())
	j.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		j.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestDisabledJanitor(t *testing.T) {
	j := NewSessionJanitor(&fakeSweeper{}, 0, nil, nil)
	j.Start(context.Background())
	j.Wait()
}
