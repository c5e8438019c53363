/*
Package budget derives recommended daily ad spend per ad-group.

PURPOSE:
  Over a trailing window of blended forecast rows, compute average daily
  spend, blended margin and average confidence, then apply the adjustment
  rule:

    blendedMargin > 0.25 AND avgConfidence >= 0.6  →  factor 1.20
    blendedMargin < 0.15                           →  factor 0.85
    otherwise                                      →  factor 1.00

  recommendedDailySpend = round(avgDailySpend × factor) to the configured
  spend granularity. Pure derivation - no side effects.
*/
package budget

import (
	"github.com/shopspring/decimal"

	"github.com/warp/margin-engine/engine"
	"github.com/warp/margin-engine/forecast"
)

// =============================================================================
// RECOMMENDATION
// =============================================================================

// Recommendation is the budget advice for one ad-group plus its diagnostics.
type Recommendation struct {
	AdGroupRef engine.AdGroupID
	WindowDays int

	AvgDailySpend    decimal.Decimal
	BlendedMargin    decimal.Decimal
	AvgConfidence    float64
	AdjustmentFactor decimal.Decimal

	RecommendedDailySpend decimal.Decimal
}

// =============================================================================
// PLANNER
// =============================================================================

// Planner holds the (configurable) thresholds of the adjustment rule.
type Planner struct {
	// SpendGranularity is the rounding step for the recommended spend,
	// e.g. 10,000 currency minor units.
	SpendGranularity decimal.Decimal

	MarginHigh    decimal.Decimal
	MarginLow     decimal.Decimal
	MinConfidence float64

	IncreaseFactor decimal.Decimal
	DecreaseFactor decimal.Decimal
}

// NewPlanner returns a planner with the default rule thresholds.
func NewPlanner(spendGranularity decimal.Decimal) *Planner {
	if !spendGranularity.IsPositive() {
		spendGranularity = decimal.NewFromInt(10000)
	}
	return &Planner{
		SpendGranularity: spendGranularity,
		MarginHigh:       decimal.NewFromFloat(0.25),
		MarginLow:        decimal.NewFromFloat(0.15),
		MinConfidence:    0.6,
		IncreaseFactor:   decimal.NewFromFloat(1.20),
		DecreaseFactor:   decimal.NewFromFloat(0.85),
	}
}

// Recommend aggregates a window of forecast rows for one ad-group and applies
// the adjustment rule. windowDays is the window length, not len(rows): days
// with no spend still dilute the average.
func (p *Planner) Recommend(adGroup engine.AdGroupID, windowDays int, rows []forecast.ForecastRow) Recommendation {
	if windowDays < 1 {
		windowDays = 1
	}

	var (
		totalSpend    = decimal.Zero
		totalRevenue  = decimal.Zero
		totalProfit   = decimal.Zero
		confidenceSum = 0.0
		matched       = 0
	)
	for _, r := range rows {
		if r.AdGroupRef != adGroup {
			continue
		}
		totalSpend = totalSpend.Add(r.AdSpend)
		totalRevenue = totalRevenue.Add(r.BlendedRevenue)
		totalProfit = totalProfit.Add(r.BlendedProfit)
		confidenceSum += r.Confidence
		matched++
	}

	// No data means no opinion: hold, never decrease.
	if matched == 0 {
		return Recommendation{
			AdGroupRef:       adGroup,
			WindowDays:       windowDays,
			AdjustmentFactor: decimal.NewFromInt(1),
		}
	}

	avgSpend := totalSpend.Div(decimal.NewFromInt(int64(windowDays)))
	margin := decimal.Zero
	if totalRevenue.IsPositive() {
		margin = totalProfit.Div(totalRevenue)
	}
	avgConfidence := confidenceSum / float64(matched)

	return p.Derive(adGroup, windowDays, avgSpend, margin, avgConfidence)
}

// Derive applies the adjustment rule to already-aggregated figures.
func (p *Planner) Derive(adGroup engine.AdGroupID, windowDays int, avgDailySpend, blendedMargin decimal.Decimal, avgConfidence float64) Recommendation {
	factor := decimal.NewFromInt(1)
	switch {
	case blendedMargin.GreaterThan(p.MarginHigh) && avgConfidence >= p.MinConfidence:
		factor = p.IncreaseFactor
	case blendedMargin.LessThan(p.MarginLow):
		factor = p.DecreaseFactor
	}

	return Recommendation{
		AdGroupRef:            adGroup,
		WindowDays:            windowDays,
		AvgDailySpend:         engine.RoundMoney(avgDailySpend),
		BlendedMargin:         blendedMargin.Round(4),
		AvgConfidence:         avgConfidence,
		AdjustmentFactor:      factor,
		RecommendedDailySpend: roundToGranularity(avgDailySpend.Mul(factor), p.SpendGranularity),
	}
}

// roundToGranularity rounds to the nearest multiple of step (half away from zero).
func roundToGranularity(amount, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return engine.RoundMoney(amount)
	}
	return amount.Div(step).Round(0).Mul(step)
}
