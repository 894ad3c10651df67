package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// SessionSweeper revokes sessions whose expiry has passed. Implemented by
// repository.SessionRepository.
type SessionSweeper interface {
	RevokeExpired(ctx context.Context) (int64, error)
}

// Scheduler runs the periodic session sweep. Expired sessions are already
// inert (the active-by-hash lookup excludes them); the sweep just stamps
// revoked_at so the active set stays tidy. Rows are never deleted.
type Scheduler struct {
	cron     *cron.Cron
	sessions SessionSweeper
	log      zerolog.Logger
}

func NewScheduler(sessions SessionSweeper, log zerolog.Logger) *Scheduler {
	c := cron.New(cron.WithSeconds())
	return &Scheduler{
		cron:     c,
		sessions: sessions,
		log:      log,
	}
}

func (s *Scheduler) Start() error {
	if s.sessions == nil {
		return nil
	}

	if _, err := s.cron.AddFunc("0 0 * * * *", s.sweepExpired); err != nil { // hourly
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts scheduling and waits briefly for a running sweep to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
	}
}

func (s *Scheduler) sweepExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := s.sessions.RevokeExpired(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("session sweep failed")
		return
	}
	if count > 0 {
		s.log.Info().Int64("revoked", count).Msg("expired sessions swept")
	}
}
