/*
scheduler.go - Periodic trailing-window recompute

PURPOSE:
  Runs the recompute pipeline on a cron schedule over a trailing window of
  days. The trailing window is what lets late-arriving cost data (ad spend
  imported the next morning, labor totals posted weekly) flow into already
  published forecast rows: every scheduled pass rebuilds the whole window
  and the idempotent snapshot upsert replaces stale rows in place.
*/
package recompute

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/warp/margin-engine/engine"
)

// DefaultCronSpec recomputes hourly at minute 10, after typical upstream
// sync jobs have landed.
const DefaultCronSpec = "10 * * * *"

// Scheduler drives periodic trailing-window recomputes.
type Scheduler struct {
	service *Service
	cron    *cron.Cron
	spec    string
	window  int
	log     *logrus.Logger
}

// NewScheduler returns a scheduler with the given cron spec and trailing
// window in days. Empty spec and non-positive window fall back to defaults.
func NewScheduler(service *Service, spec string, trailingDays int, log *logrus.Logger) *Scheduler {
	if spec == "" {
		spec = DefaultCronSpec
	}
	if trailingDays <= 0 {
		trailingDays = DefaultTrailingDays
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{
		service: service,
		cron:    cron.New(),
		spec:    spec,
		window:  trailingDays,
		log:     log,
	}
}

// Start registers the cron entry and starts the scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.runOnce); err != nil {
		return err
	}
	s.cron.Start()
	s.log.WithFields(logrus.Fields{
		"spec":   s.spec,
		"window": s.window,
	}).Info("recompute scheduler started")
	return nil
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("recompute scheduler stopped")
}

// RunNow triggers one trailing-window recompute outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context) (*Result, error) {
	r := engine.TrailingRange(engine.Today(), s.window)
	return s.service.Recompute(ctx, r, "", TriggerPeriodic)
}

func (s *Scheduler) runOnce() {
	r := engine.TrailingRange(engine.Today(), s.window)
	if _, err := s.service.Recompute(context.Background(), r, "", TriggerPeriodic); err != nil {
		s.log.WithField("range", r.String()).WithError(err).Error("scheduled recompute failed")
	}
}
