package storeguard

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SweepResult counts what one sweep removed.
type SweepResult struct {
	Sessions       int
	LoginEntries   int
	GeneralEntries int
	Carts          int
}

// Sweep evicts expired sessions, lapsed rate-limit entries and expired guest carts.
// The stores run in parallel; each goes through its own locks, the same ones request
// paths use.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := s.sessions.SweepExpired(ctx)
		res.Sessions = n
		return err
	})
	g.Go(func() error {
		n, err := s.loginLimiter.Cleanup(ctx)
		res.LoginEntries = n
		return err
	})
	g.Go(func() error {
		n, err := s.generalLimiter.Cleanup(ctx)
		res.GeneralEntries = n
		return err
	})
	g.Go(func() error {
		n, err := s.carts.Sweep(ctx)
		res.Carts = n
		return err
	})

	err := g.Wait()
	return res, err
}

// StartSweeper runs Sweep every interval until ctx is done or StopSweeper is called.
// Starting a second sweeper replaces the first.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	s.StopSweeper()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.sweepMu.Lock()
	s.sweepCancel = cancel
	s.sweepDone = done
	s.sweepMu.Unlock()

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepOnce(ctx)
			}
		}
	}()
}

// StopSweeper stops the running sweeper and waits for it to exit.
func (s *Service) StopSweeper() {
	s.sweepMu.Lock()
	cancel, done := s.sweepCancel, s.sweepDone
	s.sweepCancel, s.sweepDone = nil, nil
	s.sweepMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Service) sweepOnce(ctx context.Context) {
	res, err := s.Sweep(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("sweep failed", zap.Error(err))
	}
	if res != (SweepResult{}) {
		s.logger.Debug("sweep completed",
			zap.Int("sessions", res.Sessions),
			zap.Int("login_entries", res.LoginEntries),
			zap.Int("general_entries", res.GeneralEntries),
			zap.Int("carts", res.Carts),
		)
	}
}
