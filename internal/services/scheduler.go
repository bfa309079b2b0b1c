package services

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/Wikid82/keyroom/internal/logger"
)

// Scheduler runs periodic maintenance: ledger projection reconciliation and
// purging of expired revoked tokens.
type Scheduler struct {
	cron *cron.Cron
}

func NewScheduler(custody *CustodyService, auth *AuthService, reconcileSpec string) (*Scheduler, error) {
	c := cron.New()
	log := logger.Component("scheduler")

	if _, err := c.AddFunc(reconcileSpec, func() {
		repaired, err := custody.Reconcile()
		if err != nil {
			log.WithError(err).Error("ledger reconciliation failed")
			return
		}
		log.WithField("repaired", repaired).Debug("ledger reconciliation finished")
	}); err != nil {
		return nil, fmt.Errorf("schedule reconcile %q: %w", reconcileSpec, err)
	}

	if _, err := c.AddFunc("@every 1h", func() {
		if n := auth.PurgeRevoked(); n > 0 {
			log.WithField("purged", n).Debug("purged revoked sessions")
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule session purge: %w", err)
	}

	return &Scheduler{cron: c}, nil
}

// Run starts the scheduler and blocks until ctx is cancelled and running jobs
// have finished.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
