/*
Package recompute orchestrates forecast recomputation and snapshotting.

PURPOSE:
  Pulls stable snapshots of the order ledger and cost pools, runs the pure
  allocation and forecasting engines over them, and upserts the resulting
  forecast rows. Two triggers feed it:

    (a) a periodic cron job covering a trailing multi-day window, which
        absorbs late-arriving cost data (scheduler.go)
    (b) a per-ad-group debounced recompute fired by upstream order/cost
        mutation events (debounce.go)

CONCURRENCY:
  Because the engines are pure functions of their inputs, concurrent
  re-invocation for the same range is safe - the last writer to the
  snapshot store wins and upstream ledgers stay the source of truth.
  Snapshot writes go through a bounded worker pool, not unconstrained
  fan-out, so large rebuilds cannot overwhelm the store.

FAILURE MODEL:
  A malformed range fails fast before anything is read. A single snapshot
  row failure is caught, counted and reported; the batch keeps going, so a
  mid-range failure never corrupts rows already written.
*/
package recompute

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/warp/margin-engine/engine"
	"github.com/warp/margin-engine/forecast"
	"github.com/warp/margin-engine/metrics"
	"github.com/warp/margin-engine/store/sqlite"
)

// Trigger kinds recorded on run audit rows.
const (
	TriggerManual    = "manual"
	TriggerPeriodic  = "periodic"
	TriggerDebounced = "debounced"
)

const defaultWorkers = 4

// SnapshotWriter persists one forecast row atomically, returning whether
// the write inserted a new row (as opposed to replacing an existing one).
type SnapshotWriter interface {
	UpsertSnapshot(ctx context.Context, row forecast.ForecastRow) (bool, error)
}

// RunRecorder persists recompute run audit records.
type RunRecorder interface {
	SaveRecomputeRun(ctx context.Context, run sqlite.RecomputeRun) error
}

// =============================================================================
// SERVICE
// =============================================================================

// Service wires sources, engines and the snapshot store into one recompute
// pipeline.
type Service struct {
	Orders   engine.OrderSource
	Costs    engine.CostSource
	Products engine.ProductCostSource

	Snapshots SnapshotWriter
	Runs      RunRecorder // optional audit log

	Forecaster *forecast.Engine
	Log        *logrus.Logger

	// Workers bounds concurrent snapshot writes. <= 0 means defaultWorkers.
	Workers int
}

// Result reports partial success: how far the batch got and what failed.
type Result struct {
	Range   engine.DayRange
	AdGroup engine.AdGroupID

	Processed int
	Inserted  int
	Updated   int
	Errors    []error

	Warnings []engine.DataQualityWarning
	Duration time.Duration
}

// Recompute rebuilds and upserts forecast rows for every (date, ad-group)
// in the range. adGroup == "" covers all ad-groups. Returns partial-success
// accounting rather than all-or-nothing.
func (s *Service) Recompute(ctx context.Context, r engine.DayRange, adGroup engine.AdGroupID, trigger string) (*Result, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if trigger == "" {
		trigger = TriggerManual
	}
	started := time.Now()
	asOf := engine.Today()

	run := sqlite.RecomputeRun{
		ID:         uuid.NewString(),
		From:       r.From,
		To:         r.To,
		AdGroupRef: adGroup,
		Trigger:    trigger,
		Status:     "running",
		StartedAt:  started,
	}
	s.recordRun(ctx, run)

	rows, result, err := s.buildRows(ctx, r, adGroup, asOf)
	if err != nil {
		run.Status = "failed"
		run.Error = err.Error()
		s.finishRun(ctx, run, started)
		metrics.ObserveRun(trigger, "failed", time.Since(started))
		return nil, err
	}

	s.upsertRows(ctx, rows, result)

	result.Duration = time.Since(started)
	run.Status = "completed"
	run.Processed = result.Processed
	run.Inserted = result.Inserted
	run.Updated = result.Updated
	run.ErrorCount = len(result.Errors)
	s.finishRun(ctx, run, started)
	metrics.ObserveRun(trigger, "completed", result.Duration)

	s.log().WithFields(logrus.Fields{
		"range":    r.String(),
		"ad_group": adGroup,
		"trigger":  trigger,
		"rows":     result.Processed,
		"inserted": result.Inserted,
		"updated":  result.Updated,
		"errors":   len(result.Errors),
		"took":     result.Duration.String(),
	}).Info("recompute completed")

	return result, nil
}

// Preview computes forecast rows for a range without persisting anything.
// Same pipeline as Recompute, minus the snapshot writes and the audit trail.
func (s *Service) Preview(ctx context.Context, r engine.DayRange, adGroup engine.AdGroupID) ([]forecast.ForecastRow, []engine.DataQualityWarning, error) {
	if err := r.Validate(); err != nil {
		return nil, nil, err
	}
	rows, result, err := s.buildRows(ctx, r, adGroup, engine.Today())
	if err != nil {
		return nil, nil, err
	}
	return rows, result.Warnings, nil
}

// buildRows reads stable input snapshots and runs the pure engines.
func (s *Service) buildRows(ctx context.Context, r engine.DayRange, adGroup engine.AdGroupID, asOf engine.Day) ([]forecast.ForecastRow, *Result, error) {
	// The look-back extension feeds the calibration window and the
	// historical per-unit revenue averages.
	lookback := s.Forecaster.Calibrator.WindowMaxAge
	loadRange := engine.DayRange{From: r.From.AddDays(-lookback), To: r.To}

	allOrders, err := s.Orders.OrdersInRange(ctx, loadRange, adGroup)
	if err != nil {
		return nil, nil, err
	}
	pools, err := s.Costs.PoolsInRange(ctx, r)
	if err != nil {
		return nil, nil, err
	}
	unitCosts, err := s.Products.UnitCosts(ctx)
	if err != nil {
		return nil, nil, err
	}

	var orders, history []engine.OrderRecord
	for _, o := range allOrders {
		if r.Contains(o.CreatedAt) {
			orders = append(orders, o)
		} else {
			history = append(history, o)
		}
	}

	allocator := engine.Allocator{}
	alloc, err := allocator.Allocate(engine.AllocationInput{
		Range:     r,
		Orders:    orders,
		Pools:     pools,
		UnitCosts: unitCosts,
	})
	if err != nil {
		return nil, nil, err
	}
	for _, w := range alloc.Warnings {
		s.log().WithFields(logrus.Fields{
			"date": w.Date.String(),
			"ref":  w.Ref,
		}).Warn(w.Err.Error())
	}

	rows, err := s.Forecaster.BuildReport(forecast.ReportInput{
		Range:   r,
		AsOf:    asOf,
		Orders:  orders,
		Rows:    alloc.Rows,
		Pools:   pools,
		History: history,
	})
	if err != nil {
		return nil, nil, err
	}

	result := &Result{Range: r, AdGroup: adGroup, Warnings: alloc.Warnings}
	return rows, result, nil
}

// upsertRows writes forecast rows through a bounded worker pool, catching
// per-row failures so the batch always runs to completion.
func (s *Service) upsertRows(ctx context.Context, rows []forecast.ForecastRow, result *Result) {
	workers := s.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		workCh = make(chan forecast.ForecastRow, len(rows))
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for row := range workCh {
				if ctx.Err() != nil {
					// Cancellation stops new writes; already-written
					// earlier rows stay valid.
					return
				}
				inserted, err := s.Snapshots.UpsertSnapshot(ctx, row)

				mu.Lock()
				result.Processed++
				switch {
				case err != nil:
					result.Errors = append(result.Errors, &engine.RowError{
						Date: row.Date, AdGroup: row.AdGroupRef, Err: err,
					})
					metrics.SnapshotRowErrors.Inc()
				case inserted:
					result.Inserted++
					metrics.SnapshotRows.WithLabelValues("inserted").Inc()
				default:
					result.Updated++
					metrics.SnapshotRows.WithLabelValues("updated").Inc()
				}
				mu.Unlock()

				if err != nil {
					s.log().WithFields(logrus.Fields{
						"date":     row.Date.String(),
						"ad_group": row.AdGroupRef,
					}).WithError(err).Error("snapshot row write failed")
				}
			}
		}()
	}

	for _, row := range rows {
		workCh <- row
	}
	close(workCh)
	wg.Wait()
}

func (s *Service) recordRun(ctx context.Context, run sqlite.RecomputeRun) {
	if s.Runs == nil {
		return
	}
	if err := s.Runs.SaveRecomputeRun(ctx, run); err != nil {
		s.log().WithError(err).Warn("failed to record recompute run")
	}
}

func (s *Service) finishRun(ctx context.Context, run sqlite.RecomputeRun, started time.Time) {
	completed := time.Now()
	run.CompletedAt = &completed
	run.StartedAt = started
	s.recordRun(ctx, run)
}

func (s *Service) log() *logrus.Logger {
	if s.Log != nil {
		return s.Log
	}
	return logrus.StandardLogger()
}
