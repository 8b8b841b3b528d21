package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/thejerf/abtime"
	"go.uber.org/zap"

	"github.com/spec-kit/community-hub/internal/correlation"
)

// JanitorTickerID identifies the janitor's ticker on an abtime clock.
const JanitorTickerID = 1

// Sweeper evicts expired entries such as sessions or throttle counters.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Sweepers runs each sweeper in turn and sums what they removed. A failing
// sweeper does not stop the ones after it.
type Sweepers []Sweeper

func (s Sweepers) Sweep(ctx context.Context) (int, error) {
	total := 0
	var errs []error
	for _, sweeper := range s {
		n, err := sweeper.Sweep(ctx)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// SessionJanitor periodically sweeps expired sessions so that tokens nobody
// looks up again do not accumulate.
type SessionJanitor struct {
	sweeper  Sweeper
	interval time.Duration
	clock    abtime.AbstractTime
	logger   *zap.Logger

	once    sync.Once
	done    chan struct{}
	onSweep func(removed int, err error)
}

// NewSessionJanitor creates a janitor; an interval <= 0 disables it.
func NewSessionJanitor(sweeper Sweeper, interval time.Duration, clock abtime.AbstractTime, logger *zap.Logger) *SessionJanitor {
	if clock == nil {
		clock = abtime.NewRealTime()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionJanitor{
		sweeper:  sweeper,
		interval: interval,
		clock:    clock,
		logger:   logger.Named("session_janitor"),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop; it stops when ctx is cancelled.
func (j *SessionJanitor) Start(ctx context.Context) {
	j.once.Do(func() {
		if j.interval <= 0 || j.sweeper == nil {
			j.logger.Info("session janitor disabled")
			close(j.done)
			return
		}
		ticker := j.clock.NewTicker(j.interval, JanitorTickerID)
		j.logger.Info("session janitor started", zap.Duration("interval", j.interval))
		go j.loop(ctx, ticker)
	})
}

// Wait blocks until the loop has exited.
func (j *SessionJanitor) Wait() {
	<-j.done
}

func (j *SessionJanitor) loop(ctx context.Context, ticker abtime.Ticker) {
	defer close(j.done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("session janitor stopped")
			return
		case <-ticker.Channel():
			removed, err := j.SweepOnce(ctx)
			if j.onSweep != nil {
				j.onSweep(removed, err)
			}
		}
	}
}

// SweepOnce runs a single sweep inside its own correlation scope.
func (j *SessionJanitor) SweepOnce(ctx context.Context) (int, error) {
	var removed int
	err := correlation.Scope(ctx, j.clock, func(ctx context.Context) error {
		log := correlation.Logger(ctx, j.logger)
		n, err := j.sweeper.Sweep(ctx)
		removed = n
		if err != nil {
			log.Warn("session sweep failed", zap.Int("removed", n), zap.Error(err))
			return err
		}
		if n > 0 {
			log.Info("expired sessions swept", zap.Int("removed", n))
		} else {
			log.Debug("no expired sessions")
		}
		return nil
	})
	return removed, err
}
