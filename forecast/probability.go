/*
Package forecast provides the maturity forecasting engine.

PURPOSE:
  Orders younger than the maturity threshold have no settled outcome yet.
  This package estimates their expected revenue/profit from a status/age
  probability model, aggregates matured actuals and projected expectations
  per (date, ad-group), and qualifies the result with a confidence score
  and a historical calibration error.

KEY CONCEPTS:
  - ProbabilityModel: status phase + age → success probability (swappable)
  - HeuristicModel: the hardcoded baseline table plus age adjustment
  - Engine (forecast.go): matured/projected aggregation into ForecastRows
  - Calibrator (confidence.go): look-back accuracy estimate

DESIGN:
  The probability table is deliberately a pure mapping behind an interface
  so a data-driven estimator can replace it without touching aggregation.

SEE ALSO:
  - forecast.go: Aggregation into ForecastRows
  - confidence.go: Confidence score and calibration error
*/
package forecast

import "github.com/warp/margin-engine/engine"

// =============================================================================
// PROBABILITY MODEL - Status/age → delivery success probability
// =============================================================================

// ProbabilityModel estimates the probability that a not-yet-settled order
// ends in a successful delivery. Implementations must be pure.
type ProbabilityModel interface {
	// SuccessProbability returns a value in [0, 1] for the given delivery
	// phase and order age in days.
	SuccessProbability(phase engine.DeliveryPhase, ageDays int) float64

	// Version identifies the model for snapshot provenance.
	Version() string
}

// =============================================================================
// HEURISTIC MODEL - Fixed baseline table + age adjustment
// =============================================================================

const (
	// ageAdjustmentPerDay is added per day of age up to the maturity threshold:
	// the longer an order survives without failing, the likelier it delivers.
	ageAdjustmentPerDay = 0.015

	// Probability caps. Delivered-family orders may approach certainty;
	// everything else stays below 0.95.
	capDelivered = 0.995
	capDefault   = 0.95
)

// baselineProbability is the fixed heuristic table keyed by delivery phase.
var baselineProbability = map[engine.DeliveryPhase]float64{
	engine.PhaseCancelled:        0,
	engine.PhaseDeliveryFailed:   0,
	engine.PhaseDeliveredSuccess: 0.98,
	engine.PhaseInTransit:        0.82,
	engine.PhaseTrackingIssued:   0.68,
	engine.PhaseNoTracking:       0.45,
	engine.PhaseUnknown:          0.50,
}

// HeuristicModel implements ProbabilityModel with the fixed baseline table
// and a linear age adjustment capped per status family.
type HeuristicModel struct {
	// MaturityDays bounds the age adjustment; ages beyond it add nothing.
	MaturityDays int
}

// NewHeuristicModel returns the default model with the given threshold.
func NewHeuristicModel(maturityDays int) *HeuristicModel {
	if maturityDays <= 0 {
		maturityDays = DefaultMaturityDays
	}
	return &HeuristicModel{MaturityDays: maturityDays}
}

func (m *HeuristicModel) Version() string { return "heuristic-v1" }

// SuccessProbability applies the baseline for the phase plus the age
// adjustment. A zero baseline (failed/cancelled) never recovers with age.
func (m *HeuristicModel) SuccessProbability(phase engine.DeliveryPhase, ageDays int) float64 {
	base, ok := baselineProbability[phase]
	if !ok {
		base = baselineProbability[engine.PhaseUnknown]
	}
	if base == 0 {
		return 0
	}

	if ageDays < 0 {
		ageDays = 0
	}
	if ageDays > m.MaturityDays {
		ageDays = m.MaturityDays
	}
	p := base + float64(ageDays)*ageAdjustmentPerDay

	limit := capDefault
	if phase == engine.PhaseDeliveredSuccess {
		limit = capDelivered
	}
	if p > limit {
		p = limit
	}
	return p
}
