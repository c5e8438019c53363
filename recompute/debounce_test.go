package recompute_test

import (
	"testing"
	"time"

	"github.com/warp/margin-engine/recompute"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDebouncer_FiresOnceAfterQuietPeriod(t *testing.T) {
	// GIVEN: A burst of notifications against one ad-group
	// WHEN: The quiet period elapses
	// THEN: Exactly one recompute fires for that ad-group

	sources := seededSources(10)
	snapshots := newFakeSnapshots()
	svc := newService(sources, snapshots, nil)
	runs := &fakeRuns{}
	svc.Runs = runs

	d := recompute.NewDebouncer(svc, 20*time.Millisecond, 7, nil)
	defer d.Stop()

	for i := 0; i < 5; i++ {
		d.Notify("g1")
	}
	if got := d.Pending(); got != 1 {
		t.Fatalf("expected a burst to coalesce into 1 pending timer, got %d", got)
	}

	waitFor(t, 2*time.Second, func() bool { return d.Pending() == 0 })
	waitFor(t, 2*time.Second, func() bool { return len(runs.all()) >= 2 })

	final := runs.last()
	if final.Trigger != recompute.TriggerDebounced {
		t.Errorf("expected debounced trigger, got %q", final.Trigger)
	}
	if final.AdGroupRef != "g1" {
		t.Errorf("expected recompute scoped to g1, got %q", final.AdGroupRef)
	}
}

func TestDebouncer_IndependentTimersPerAdGroup(t *testing.T) {
	// GIVEN: Notifications against two different ad-groups
	// THEN: Each keeps its own pending timer

	svc := newService(seededSources(10), newFakeSnapshots(), nil)
	d := recompute.NewDebouncer(svc, time.Hour, 7, nil)
	defer d.Stop()

	d.Notify("g1")
	d.Notify("g2")
	d.Notify("g1")

	if got := d.Pending(); got != 2 {
		t.Errorf("expected 2 independent pending timers, got %d", got)
	}
}

func TestDebouncer_NotifyResetsTimer(t *testing.T) {
	// GIVEN: A notification mid-quiet-period
	// THEN: The timer resets instead of stacking a second recompute

	svc := newService(seededSources(10), newFakeSnapshots(), nil)
	runs := &fakeRuns{}
	svc.Runs = runs

	d := recompute.NewDebouncer(svc, 50*time.Millisecond, 7, nil)
	defer d.Stop()

	d.Notify("g1")
	time.Sleep(25 * time.Millisecond)
	d.Notify("g1")
	time.Sleep(35 * time.Millisecond)

	// 60ms after the first notify, but only 35ms after the reset: the
	// recompute must not have fired yet.
	if len(runs.all()) != 0 {
		t.Error("expected reset timer to delay the recompute")
	}

	waitFor(t, 2*time.Second, func() bool { return d.Pending() == 0 })
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	svc := newService(seededSources(10), newFakeSnapshots(), nil)
	runs := &fakeRuns{}
	svc.Runs = runs

	d := recompute.NewDebouncer(svc, 30*time.Millisecond, 7, nil)
	d.Notify("g1")
	d.Stop()

	if got := d.Pending(); got != 0 {
		t.Errorf("expected no pending timers after Stop, got %d", got)
	}
	time.Sleep(60 * time.Millisecond)
	if len(runs.all()) != 0 {
		t.Error("expected no recompute after Stop")
	}
}
