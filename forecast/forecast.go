/*
forecast.go - Matured/projected aggregation per (date, ad-group)

PURPOSE:
  Splits each (date, ad-group) bucket of orders into matured actuals and
  projected expectations, and blends them into one forecast row per bucket.

MATURITY:
  An order's conceptual state is {not-matured, matured-success,
  matured-failed}, driven purely by elapsed age against the threshold and
  the terminal delivery status from the order ledger. The engine never
  mutates this state; it only classifies. An order exactly at the threshold
  age is matured; one day younger is not.

PROJECTION:
  For non-matured orders the expected revenue is the observed partial
  revenue - or, when none, the product's historical average per-unit revenue
  among matured orders - scaled by the success probability. Expected cost is
  the allocated cost scaled by the same probability (cost is only incurred on
  success). Failed orders contribute zero expected value but still count in
  projectedOrderCount.

SEE ALSO:
  - probability.go: ProbabilityModel and the heuristic table
  - confidence.go: Confidence and calibration scoring
*/
package forecast

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/margin-engine/engine"
)

// DefaultMaturityDays is the age at which an order's outcome is considered
// settled.
const DefaultMaturityDays = 7

// =============================================================================
// FORECAST ROW - Per (date, ad-group) blended report
// =============================================================================

type ForecastRow struct {
	Date       engine.Day
	AdGroupRef engine.AdGroupID

	MaturedRevenue decimal.Decimal
	MaturedProfit  decimal.Decimal
	MaturedOrders  int

	ProjectedRevenue decimal.Decimal
	ProjectedProfit  decimal.Decimal
	ProjectedOrders  int

	AdSpend decimal.Decimal

	BlendedRevenue decimal.Decimal
	BlendedProfit  decimal.Decimal
	BlendedROAS    decimal.Decimal
	MaturedROAS    decimal.Decimal

	Confidence       float64
	CalibrationError float64
	ModelVersion     string
}

// =============================================================================
// FORECASTING ENGINE
// =============================================================================

// Engine builds blended forecast rows. Like the allocator it is a pure
// function of its inputs; persistence and scheduling live elsewhere.
type Engine struct {
	Model        ProbabilityModel
	MaturityDays int
	Calibrator   *Calibrator
}

// NewEngine returns an engine with the heuristic model and default calibrator.
func NewEngine(maturityDays int) *Engine {
	if maturityDays <= 0 {
		maturityDays = DefaultMaturityDays
	}
	return &Engine{
		Model:        NewHeuristicModel(maturityDays),
		MaturityDays: maturityDays,
		Calibrator:   NewCalibrator(),
	}
}

// ReportInput is an immutable snapshot of one forecast computation.
type ReportInput struct {
	Range engine.DayRange

	// AsOf anchors order ages; zero value means today.
	AsOf engine.Day

	// Orders created within Range, and their allocated profit rows.
	Orders []engine.OrderRecord
	Rows   []engine.AllocatedProfitRow

	// Pools supply the ad spend per (date, ad-group) for ROAS.
	Pools map[engine.Day]engine.DailyCostPool

	// History holds look-back orders older than the range, used for the
	// calibration window and historical per-unit revenue averages.
	History []engine.OrderRecord
}

// Matured reports whether an order's outcome is considered settled by age.
func (e *Engine) Matured(o engine.OrderRecord, asOf engine.Day) bool {
	return o.AgeDays(asOf) >= e.MaturityDays
}

// BuildReport computes one ForecastRow per (date, ad-group) in the range.
// Rows come back in deterministic (date, ad-group) order.
func (e *Engine) BuildReport(in ReportInput) ([]ForecastRow, error) {
	if err := in.Range.Validate(); err != nil {
		return nil, err
	}
	asOf := in.AsOf
	if asOf.IsZero() {
		asOf = engine.Today()
	}

	rowsByOrder := make(map[engine.OrderID]engine.AllocatedProfitRow, len(in.Rows))
	for _, r := range in.Rows {
		rowsByOrder[r.OrderID] = r
	}

	lookback := append(append([]engine.OrderRecord{}, in.Orders...), in.History...)
	unitRevenue := e.historicalUnitRevenue(lookback, asOf)
	calibration := e.Calibrator.Errors(lookback, asOf)

	buckets := groupOrders(in.Orders, in.Range)
	report := make([]ForecastRow, 0, len(buckets))

	for _, key := range sortedBucketKeys(buckets) {
		row := ForecastRow{
			Date:         key.Date,
			AdGroupRef:   key.AdGroup,
			ModelVersion: e.Model.Version(),
		}
		if pool, ok := in.Pools[key.Date]; ok {
			row.AdSpend = pool.SpendFor(key.AdGroup)
		}

		for _, o := range buckets[key] {
			alloc := rowsByOrder[o.ID]
			if e.Matured(o, asOf) {
				row.MaturedRevenue = row.MaturedRevenue.Add(alloc.Revenue)
				row.MaturedProfit = row.MaturedProfit.Add(alloc.Profit)
				row.MaturedOrders++
				continue
			}

			row.ProjectedOrders++
			p := e.Model.SuccessProbability(o.DeliveryPhase(), o.AgeDays(asOf))
			if p == 0 {
				continue
			}

			expected := alloc.Revenue
			if expected.IsZero() {
				if avg, ok := unitRevenue[o.ProductRef]; ok {
					expected = avg.Mul(decimal.NewFromInt(o.Quantity))
				}
			}
			prob := decimal.NewFromFloat(p)
			expRevenue := engine.RoundMoney(expected.Mul(prob))
			expCost := engine.RoundMoney(alloc.TotalAllocatedCost().Mul(prob))

			row.ProjectedRevenue = row.ProjectedRevenue.Add(expRevenue)
			row.ProjectedProfit = row.ProjectedProfit.Add(expRevenue.Sub(expCost))
		}

		row.BlendedRevenue = row.MaturedRevenue.Add(row.ProjectedRevenue)
		row.BlendedProfit = row.MaturedProfit.Add(row.ProjectedProfit)
		row.BlendedROAS = safeRatio(row.BlendedRevenue, row.AdSpend)
		row.MaturedROAS = safeRatio(row.MaturedRevenue, row.AdSpend)

		row.Confidence = ConfidenceScore(row.MaturedOrders, row.ProjectedOrders, row.MaturedProfit, row.MaturedRevenue)
		row.CalibrationError = calibration.For(key.AdGroup)

		report = append(report, row)
	}

	return report, nil
}

// historicalUnitRevenue computes, per product, the average realized revenue
// per unit among matured orders. Used to estimate revenue for young orders
// that have not realized anything yet.
func (e *Engine) historicalUnitRevenue(orders []engine.OrderRecord, asOf engine.Day) map[engine.ProductID]decimal.Decimal {
	type acc struct {
		revenue decimal.Decimal
		qty     decimal.Decimal
	}
	byProduct := make(map[engine.ProductID]*acc)

	for _, o := range orders {
		if !e.Matured(o, asOf) || o.Quantity <= 0 {
			continue
		}
		revenue := o.RealizedRevenue()
		if revenue.IsZero() {
			continue
		}
		a, ok := byProduct[o.ProductRef]
		if !ok {
			a = &acc{}
			byProduct[o.ProductRef] = a
		}
		a.revenue = a.revenue.Add(revenue)
		a.qty = a.qty.Add(decimal.NewFromInt(o.Quantity))
	}

	averages := make(map[engine.ProductID]decimal.Decimal, len(byProduct))
	for ref, a := range byProduct {
		if a.qty.IsZero() {
			continue
		}
		averages[ref] = a.revenue.Div(a.qty)
	}
	return averages
}

func safeRatio(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.Div(den).Round(4)
}

func groupOrders(orders []engine.OrderRecord, r engine.DayRange) map[engine.DayAdGroupKey][]engine.OrderRecord {
	buckets := make(map[engine.DayAdGroupKey][]engine.OrderRecord)
	for _, o := range orders {
		if !r.Contains(o.CreatedAt) {
			continue
		}
		k := engine.DayAdGroupKey{Date: o.CreatedAt, AdGroup: o.AdGroupRef}
		buckets[k] = append(buckets[k], o)
	}
	return buckets
}

func sortedBucketKeys(buckets map[engine.DayAdGroupKey][]engine.OrderRecord) []engine.DayAdGroupKey {
	keys := make([]engine.DayAdGroupKey, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].Date.Equal(keys[j].Date) {
			return keys[i].Date.Before(keys[j].Date)
		}
		return keys[i].AdGroup < keys[j].AdGroup
	})
	return keys
}
