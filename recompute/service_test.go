package recompute_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/margin-engine/engine"
	"github.com/warp/margin-engine/engine/store"
	"github.com/warp/margin-engine/forecast"
	"github.com/warp/margin-engine/recompute"
	"github.com/warp/margin-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func day(d int) engine.Day {
	return engine.NewDay(2026, time.March, d)
}

func dec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// fakeSnapshots collects upserted rows and can fail selected keys.
type fakeSnapshots struct {
	mu       sync.Mutex
	rows     map[engine.DayAdGroupKey]forecast.ForecastRow
	failKeys map[engine.DayAdGroupKey]bool
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{
		rows:     make(map[engine.DayAdGroupKey]forecast.ForecastRow),
		failKeys: make(map[engine.DayAdGroupKey]bool),
	}
}

func (f *fakeSnapshots) UpsertSnapshot(_ context.Context, row forecast.ForecastRow) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := engine.DayAdGroupKey{Date: row.Date, AdGroup: row.AdGroupRef}
	if f.failKeys[key] {
		return false, errors.New("disk full")
	}
	_, existed := f.rows[key]
	f.rows[key] = row
	return !existed, nil
}

func (f *fakeSnapshots) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

// fakeRuns records every audit write.
type fakeRuns struct {
	mu   sync.Mutex
	runs []sqlite.RecomputeRun
}

func (f *fakeRuns) SaveRecomputeRun(_ context.Context, run sqlite.RecomputeRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeRuns) all() []sqlite.RecomputeRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sqlite.RecomputeRun{}, f.runs...)
}

func (f *fakeRuns) last() sqlite.RecomputeRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.runs) == 0 {
		return sqlite.RecomputeRun{}
	}
	return f.runs[len(f.runs)-1]
}

func seededSources(days ...int) *store.Memory {
	m := store.NewMemory()
	for i, d := range days {
		created := day(d)
		o := engine.OrderRecord{
			ID:                engine.OrderID("o-" + created.String() + "-" + string(rune('a'+i))),
			CreatedAt:         created,
			ProductRef:        "prod-a",
			Quantity:          2,
			AdGroupRef:        "g1",
			AgentClass:        engine.AgentExternal,
			ProductionStatus:  "completed",
			ApprovedUnitPrice: dec("50"),
		}
		m.PutOrder(o)
		m.PutAdSpend(created, "g1", dec("40"))
		m.PutDayCosts(created, dec("10"), dec("5"))
	}
	m.PutUnitCost("prod-a", dec("20"))
	return m
}

func newService(sources *store.Memory, snapshots recompute.SnapshotWriter, runs recompute.RunRecorder) *recompute.Service {
	return &recompute.Service{
		Orders:     sources,
		Costs:      sources,
		Products:   sources,
		Snapshots:  snapshots,
		Runs:       runs,
		Forecaster: forecast.NewEngine(7),
		Workers:    2,
	}
}

// =============================================================================
// RECOMPUTE PIPELINE
// =============================================================================

func TestRecompute_WritesOneRowPerDayAdGroup(t *testing.T) {
	// GIVEN: Orders on 3 days in one ad-group
	// WHEN: Recomputing the covering range
	// THEN: 3 snapshot rows, all inserted, none failed

	sources := seededSources(10, 11, 12)
	snapshots := newFakeSnapshots()
	svc := newService(sources, snapshots, nil)

	result, err := svc.Recompute(context.Background(), engine.NewDayRange(day(10), day(12)), "", recompute.TriggerManual)
	if err != nil {
		t.Fatalf("recompute failed: %v", err)
	}

	if result.Processed != 3 || result.Inserted != 3 || result.Updated != 0 {
		t.Errorf("expected 3 processed / 3 inserted, got %+v", result)
	}
	if len(result.Errors) != 0 {
		t.Errorf("expected no errors, got %v", result.Errors)
	}
	if snapshots.count() != 3 {
		t.Errorf("expected 3 stored rows, got %d", snapshots.count())
	}
}

func TestRecompute_Rerun_UpdatesInPlace(t *testing.T) {
	// GIVEN: A range already recomputed once
	// WHEN: Recomputing again
	// THEN: Same row count; every row reported as updated, none inserted

	sources := seededSources(10, 11)
	snapshots := newFakeSnapshots()
	svc := newService(sources, snapshots, nil)
	r := engine.NewDayRange(day(10), day(11))

	if _, err := svc.Recompute(context.Background(), r, "", recompute.TriggerManual); err != nil {
		t.Fatalf("first recompute failed: %v", err)
	}
	result, err := svc.Recompute(context.Background(), r, "", recompute.TriggerManual)
	if err != nil {
		t.Fatalf("second recompute failed: %v", err)
	}

	if result.Inserted != 0 || result.Updated != 2 {
		t.Errorf("expected idempotent rerun (0 inserted / 2 updated), got %+v", result)
	}
	if snapshots.count() != 2 {
		t.Errorf("expected 2 stored rows after rerun, got %d", snapshots.count())
	}
}

func TestRecompute_RowFailure_PartialSuccess(t *testing.T) {
	// GIVEN: The snapshot store fails for one (date, ad-group)
	// WHEN: Recomputing 3 days
	// THEN: The batch completes; 2 rows written, 1 error reported

	sources := seededSources(10, 11, 12)
	snapshots := newFakeSnapshots()
	snapshots.failKeys[engine.DayAdGroupKey{Date: day(11), AdGroup: "g1"}] = true
	svc := newService(sources, snapshots, nil)

	result, err := svc.Recompute(context.Background(), engine.NewDayRange(day(10), day(12)), "", recompute.TriggerManual)
	if err != nil {
		t.Fatalf("recompute must not abort on row failure: %v", err)
	}

	if result.Processed != 3 || result.Inserted != 2 || len(result.Errors) != 1 {
		t.Errorf("expected partial success 3/2/1, got %+v", result)
	}
	if !errors.Is(result.Errors[0], engine.ErrSnapshotWrite) {
		t.Errorf("expected row error to unwrap to ErrSnapshotWrite, got %v", result.Errors[0])
	}
	if snapshots.count() != 2 {
		t.Errorf("expected 2 stored rows, got %d", snapshots.count())
	}
}

func TestRecompute_InvalidRange_FailsFastWithoutWrites(t *testing.T) {
	sources := seededSources(10)
	snapshots := newFakeSnapshots()
	svc := newService(sources, snapshots, nil)

	_, err := svc.Recompute(context.Background(), engine.NewDayRange(day(12), day(10)), "", recompute.TriggerManual)
	if !errors.Is(err, engine.ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
	if snapshots.count() != 0 {
		t.Errorf("expected no writes on validation failure, got %d", snapshots.count())
	}
}

func TestRecompute_AdGroupScope_OnlyThatAdGroup(t *testing.T) {
	// GIVEN: Orders in g1 and g2 on the same day
	// WHEN: Recomputing scoped to g1
	// THEN: Only the g1 row is written

	sources := seededSources(10)
	other := engine.OrderRecord{
		ID:                "o-g2",
		CreatedAt:         day(10),
		ProductRef:        "prod-a",
		Quantity:          1,
		AdGroupRef:        "g2",
		AgentClass:        engine.AgentExternal,
		ProductionStatus:  "completed",
		ApprovedUnitPrice: dec("50"),
	}
	sources.PutOrder(other)

	snapshots := newFakeSnapshots()
	svc := newService(sources, snapshots, nil)

	result, err := svc.Recompute(context.Background(), engine.NewDayRange(day(10), day(10)), "g1", recompute.TriggerManual)
	if err != nil {
		t.Fatalf("recompute failed: %v", err)
	}
	if result.Processed != 1 {
		t.Errorf("expected 1 row for scoped recompute, got %d", result.Processed)
	}
	if _, ok := snapshots.rows[engine.DayAdGroupKey{Date: day(10), AdGroup: "g2"}]; ok {
		t.Error("g2 row must not be written by a g1-scoped recompute")
	}
}

// =============================================================================
// RUN AUDIT RECORDS
// =============================================================================

func TestRecompute_RecordsRunLifecycle(t *testing.T) {
	// GIVEN: A run recorder attached
	// WHEN: Recomputing successfully
	// THEN: A running record first, then a completed record with counts

	sources := seededSources(10, 11)
	runs := &fakeRuns{}
	svc := newService(sources, newFakeSnapshots(), runs)

	_, err := svc.Recompute(context.Background(), engine.NewDayRange(day(10), day(11)), "", recompute.TriggerPeriodic)
	if err != nil {
		t.Fatalf("recompute failed: %v", err)
	}

	if len(runs.runs) != 2 {
		t.Fatalf("expected 2 audit writes (running, completed), got %d", len(runs.runs))
	}
	if runs.runs[0].Status != "running" {
		t.Errorf("expected first record running, got %q", runs.runs[0].Status)
	}
	final := runs.last()
	if final.Status != "completed" || final.Processed != 2 || final.Trigger != recompute.TriggerPeriodic {
		t.Errorf("unexpected final record: %+v", final)
	}
	if final.CompletedAt == nil {
		t.Error("expected completed_at on final record")
	}
	if runs.runs[0].ID != final.ID {
		t.Error("expected both records to share the run ID")
	}
}

// =============================================================================
// PREVIEW
// =============================================================================

func TestPreview_ComputesWithoutPersisting(t *testing.T) {
	sources := seededSources(10)
	snapshots := newFakeSnapshots()
	svc := newService(sources, snapshots, nil)

	rows, _, err := svc.Preview(context.Background(), engine.NewDayRange(day(10), day(10)), "")
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 forecast row, got %d", len(rows))
	}
	if snapshots.count() != 0 {
		t.Errorf("preview must not persist, found %d rows", snapshots.count())
	}
}
