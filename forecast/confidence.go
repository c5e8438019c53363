/*
confidence.go - Confidence score and calibration error

PURPOSE:
  Qualifies each forecast row with two bounded [0,1] figures:

  Confidence weighs how much of the bucket's volume has actually matured
  against how stable the matured margin looks:

    confidence = 0.6 × volumeComponent + 0.4 × marginComponent

  Calibration error measures how far realized revenue has historically
  landed from a fixed naive baseline (nominal revenue × baseline ratio),
  over a look-back window of orders old enough to have settled but recent
  enough to reflect current conditions.

OPEN CONSTANT:
  The 0.95 baseline ratio is a provisional heuristic, not a derived value.
  It is a Calibrator field so replacing it never touches aggregation.
*/
package forecast

import (
	"github.com/warp/margin-engine/engine"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONFIDENCE
// =============================================================================

const (
	confidenceVolumeWeight = 0.6
	confidenceMarginWeight = 0.4
)

// ConfidenceScore combines matured-volume share and matured-margin stability
// into one [0,1] figure. More matured orders and a healthier matured margin
// both push confidence up. Safe for any input, including zero matured orders
// and negative margins.
func ConfidenceScore(maturedOrders, projectedOrders int, maturedProfit, maturedRevenue decimal.Decimal) float64 {
	volume := 0.0
	if total := maturedOrders + projectedOrders; total > 0 {
		volume = float64(maturedOrders) / float64(total)
	}

	margin := 0.0
	if maturedRevenue.IsPositive() {
		m, _ := maturedProfit.Div(maturedRevenue).Float64()
		margin = clamp01(m)
	}

	return clamp01(confidenceVolumeWeight*volume + confidenceMarginWeight*margin)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// =============================================================================
// CALIBRATION - Look-back accuracy of the naive baseline
// =============================================================================

const (
	// DefaultBaselineRatio is the provisional naive-baseline constant.
	DefaultBaselineRatio = 0.95

	// DefaultCalibrationError is returned when the look-back window holds
	// too little volume to say anything.
	DefaultCalibrationError = 0.5

	defaultMinSamples   = 5
	defaultWindowMinAge = 7
	defaultWindowMaxAge = 14
)

// Calibrator measures historical forecast accuracy over orders aged into
// the [WindowMinAge, WindowMaxAge] look-back window.
type Calibrator struct {
	BaselineRatio float64
	MinSamples    int
	WindowMinAge  int
	WindowMaxAge  int
}

func NewCalibrator() *Calibrator {
	return &Calibrator{
		BaselineRatio: DefaultBaselineRatio,
		MinSamples:    defaultMinSamples,
		WindowMinAge:  defaultWindowMinAge,
		WindowMaxAge:  defaultWindowMaxAge,
	}
}

// CalibrationErrors holds per-ad-group errors with a global fallback.
type CalibrationErrors struct {
	byAdGroup map[engine.AdGroupID]float64
	global    float64
	hasGlobal bool
}

// For returns the calibration error for an ad-group: its own figure when
// the window held enough of its orders, otherwise the global figure,
// otherwise the mid-default.
func (c CalibrationErrors) For(adGroup engine.AdGroupID) float64 {
	if v, ok := c.byAdGroup[adGroup]; ok {
		return v
	}
	if c.hasGlobal {
		return c.global
	}
	return DefaultCalibrationError
}

// Errors computes calibration errors from the look-back orders. Each order's
// contribution is the absolute relative error between its realized revenue
// and the naive baseline (nominal revenue × BaselineRatio), clamped [0,1].
func (cal *Calibrator) Errors(orders []engine.OrderRecord, asOf engine.Day) CalibrationErrors {
	type acc struct {
		sum float64
		n   int
	}
	ratio := decimal.NewFromFloat(cal.BaselineRatio)
	byAdGroup := make(map[engine.AdGroupID]*acc)
	global := &acc{}

	for _, o := range orders {
		age := o.AgeDays(asOf)
		if age < cal.WindowMinAge || age > cal.WindowMaxAge {
			continue
		}
		baseline := o.NominalRevenue().Mul(ratio)
		if !baseline.IsPositive() {
			continue
		}
		relErr, _ := o.RealizedRevenue().Sub(baseline).Abs().Div(baseline).Float64()
		relErr = clamp01(relErr)

		global.sum += relErr
		global.n++
		a, ok := byAdGroup[o.AdGroupRef]
		if !ok {
			a = &acc{}
			byAdGroup[o.AdGroupRef] = a
		}
		a.sum += relErr
		a.n++
	}

	result := CalibrationErrors{byAdGroup: make(map[engine.AdGroupID]float64)}
	for ag, a := range byAdGroup {
		if a.n >= cal.MinSamples {
			result.byAdGroup[ag] = clamp01(a.sum / float64(a.n))
		}
	}
	if global.n >= cal.MinSamples {
		result.global = clamp01(global.sum / float64(global.n))
		result.hasGlobal = true
	}
	return result
}
