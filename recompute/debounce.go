/*
debounce.go - Per-ad-group debounced recompute

PURPOSE:
  Upstream order and cost mutations arrive in bursts (sheet syncs, carrier
  webhook batches). Instead of recomputing per event, each affected ad-group
  gets a timer that resets on every new event; only after the quiet period
  does one recompute fire for that ad-group's trailing window.

INVARIANT:
  Timers are keyed per ad-group, so a burst against one ad-group never
  delays another's recompute.
*/
package recompute

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/margin-engine/engine"
)

const (
	// DefaultDebounceDelay is the quiet period before a recompute fires.
	DefaultDebounceDelay = 30 * time.Second

	// DefaultTrailingDays is the window recomputed on each trigger. Wide
	// enough to cover late cost arrivals and the calibration look-back.
	DefaultTrailingDays = 14
)

// Debouncer coalesces change notifications per ad-group into trailing-window
// recomputes.
type Debouncer struct {
	service *Service
	delay   time.Duration
	window  int
	log     *logrus.Logger

	mu     sync.Mutex
	timers map[engine.AdGroupID]*time.Timer
	closed bool
}

// NewDebouncer returns a debouncer over the given service. Non-positive
// delay or window fall back to the defaults.
func NewDebouncer(service *Service, delay time.Duration, trailingDays int, log *logrus.Logger) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}
	if trailingDays <= 0 {
		trailingDays = DefaultTrailingDays
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Debouncer{
		service: service,
		delay:   delay,
		window:  trailingDays,
		log:     log,
		timers:  make(map[engine.AdGroupID]*time.Timer),
	}
}

// Notify records a change against an ad-group. The pending timer for that
// key (if any) is reset; the recompute fires only after the quiet period.
// adGroup == "" coalesces into one all-ad-groups recompute.
func (d *Debouncer) Notify(adGroup engine.AdGroupID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	if t, ok := d.timers[adGroup]; ok {
		t.Reset(d.delay)
		return
	}
	d.timers[adGroup] = time.AfterFunc(d.delay, func() {
		d.fire(adGroup)
	})
}

// Pending returns the number of ad-groups with a recompute queued.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop cancels all pending timers. Already-fired recomputes run to completion.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for key, t := range d.timers {
		t.Stop()
		delete(d.timers, key)
	}
}

func (d *Debouncer) fire(adGroup engine.AdGroupID) {
	d.mu.Lock()
	delete(d.timers, adGroup)
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return
	}

	r := engine.TrailingRange(engine.Today(), d.window)
	if _, err := d.service.Recompute(context.Background(), r, adGroup, TriggerDebounced); err != nil {
		d.log.WithFields(logrus.Fields{
			"ad_group": adGroup,
			"range":    r.String(),
		}).WithError(err).Error("debounced recompute failed")
	}
}
