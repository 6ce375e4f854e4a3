// Package sparkcron evicts expired sparks and stale memberships on a fixed
// schedule.
package sparkcron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	sparkcli "github.com/fireflyhq/spark-server/spark-cli"
	"github.com/fireflyhq/spark-server/spark-ws/memberdao"
	"github.com/fireflyhq/spark-server/spark-ws/sparkdao"
)

// Sweeper deletes sparks past their expiry and members not seen within
// StaleAfter, connected or not. It reclaims storage only and never touches
// the connection registry; a socket whose membership was reclaimed has been
// silent long past the pong deadline and tears itself down through the
// normal close path.
type Sweeper struct {
	Sparks     sparkdao.Store
	Members    memberdao.Store
	Interval   time.Duration
	StaleAfter time.Duration
	Logger     zerolog.Logger
	Metrics    *sparkcli.Metrics // optional

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a sweeper with the standard cadence: a sweep every minute,
// members stale after five minutes.
func New(sparks sparkdao.Store, members memberdao.Store, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		Sparks:     sparks,
		Members:    members,
		Interval:   time.Minute,
		StaleAfter: 5 * time.Minute,
		Logger:     logger,
	}
}

// Start launches the sweep loop. It returns immediately; the loop runs on
// its own timer independent of per-connection processing. Calling Start on
// a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)

		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.RunOnce(ctx); err != nil {
					s.Logger.Error().Err(err).Msg("sweep failed")
				}
			}
		}
	}(s.done)
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
// Safe to call without a prior Start.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// RunOnce performs a single sweep tick.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	defer s.Metrics.Timing(ctx, sparkcli.SweepTimeMetric, time.Now())

	now := time.Now()

	expiredSparks, err := s.Sparks.DeleteExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to sweep expired sparks: %w", err)
	}

	staleMembers, err := s.Members.DeleteStale(ctx, now.Add(-s.StaleAfter))
	if err != nil {
		return fmt.Errorf("failed to sweep stale members: %w", err)
	}

	if expiredSparks > 0 || staleMembers > 0 {
		s.Logger.Info().
			Int("expired_sparks", expiredSparks).
			Int("stale_members", staleMembers).
			Msg("swept expired state")
	}
	return nil
}
