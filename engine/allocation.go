/*
allocation.go - Proportional shared-cost allocation

PURPOSE:
  Turns a date range of orders plus daily cost pools into per-order profit
  rows. Shared costs are fanned out proportionally by quantity share and the
  results fanned back in; the whole thing is a pure grouping-then-reduce
  pipeline over an immutable per-day snapshot, never incremental running
  totals. That keeps it trivially re-runnable and idempotent.

ALLOCATION RULES:
  Ad spend:      totalAdSpend(date, adGroup) × order.quantity / Σquantity
                 over orders sharing that (date, adGroup)
  Labor/Other:   totalLabor(date) (resp. totalOther) × order.quantity /
                 Σquantity of orders whose production completed that day;
                 orders still in production carry none of these pools
  Cost of goods: unitCost(productRef) × quantity; missing unit cost ⇒ 0
  Revenue:       per agent class, see OrderRecord.RealizedRevenue

  Every zero denominator takes the explicit zero-allocation branch - there
  is no division-by-zero path through this file.

ROUNDING:
  Each row component is rounded to MoneyPrecision at row level. Aggregates
  downstream sum the stored rounded values and never re-round.

SEE ALSO:
  - types.go: OrderRecord, DailyCostPool, AllocatedProfitRow
  - forecast/forecast.go: Aggregates these rows per (date, ad-group)
*/
package engine

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ALLOCATOR - Pure function of its inputs
// =============================================================================

// Allocator computes per-order profit rows. It holds no state and performs
// no external calls; concurrent re-invocation for the same date is safe.
type Allocator struct{}

// AllocationInput is an immutable snapshot of one recompute's inputs.
type AllocationInput struct {
	Range     DayRange
	Orders    []OrderRecord
	Pools     map[Day]DailyCostPool
	UnitCosts ProductCosts
}

// AllocationResult carries the computed rows plus any data-quality warnings
// produced while degrading missing reference data to zero.
type AllocationResult struct {
	Rows     []AllocatedProfitRow
	Warnings []DataQualityWarning
}

// Allocate runs the allocation pipeline for the input range.
// Orders created outside the range are ignored.
func (a *Allocator) Allocate(in AllocationInput) (*AllocationResult, error) {
	if err := in.Range.Validate(); err != nil {
		return nil, err
	}

	byDay := groupOrdersByDay(in.Orders, in.Range)
	result := &AllocationResult{}

	for _, day := range in.Range.Days() {
		orders := byDay[day]
		if len(orders) == 0 {
			continue
		}

		pool, ok := in.Pools[day]
		if !ok {
			result.Warnings = append(result.Warnings, DataQualityWarning{
				Date: day, Err: ErrMissingCostPool,
			})
			pool = DailyCostPool{Date: day}
		}

		rows, warnings := a.allocateDay(day, orders, pool, in.UnitCosts)
		result.Rows = append(result.Rows, rows...)
		result.Warnings = append(result.Warnings, warnings...)
	}

	return result, nil
}

// allocateDay allocates one day's pools across that day's orders.
func (a *Allocator) allocateDay(day Day, orders []OrderRecord, pool DailyCostPool, unitCosts ProductCosts) ([]AllocatedProfitRow, []DataQualityWarning) {
	var warnings []DataQualityWarning

	// Fan-out weights: total quantity per ad-group, and total completed
	// quantity for the day (labor/other denominator).
	adGroupQty := make(map[AdGroupID]decimal.Decimal)
	completedQty := decimal.Zero
	for _, o := range orders {
		qty := decimal.NewFromInt(o.Quantity)
		adGroupQty[o.AdGroupRef] = adGroupQty[o.AdGroupRef].Add(qty)
		if o.IsProductionCompleted() {
			completedQty = completedQty.Add(qty)
		}
	}

	rows := make([]AllocatedProfitRow, 0, len(orders))
	for _, o := range orders {
		qty := decimal.NewFromInt(o.Quantity)

		adCost := proportionalShare(pool.SpendFor(o.AdGroupRef), qty, adGroupQty[o.AdGroupRef])

		laborCost := decimal.Zero
		otherCost := decimal.Zero
		if o.IsProductionCompleted() {
			laborCost = proportionalShare(pool.LaborTotal, qty, completedQty)
			otherCost = proportionalShare(pool.OtherTotal, qty, completedQty)
		}

		unitCost, found := unitCosts.UnitCost(o.ProductRef)
		if !found {
			warnings = append(warnings, DataQualityWarning{
				Date: day, Ref: string(o.ProductRef), Err: ErrMissingUnitCost,
			})
		}
		costOfGoods := RoundMoney(unitCost.Mul(qty))

		revenue := RoundMoney(o.RealizedRevenue())
		profit := revenue.Sub(costOfGoods).Sub(otherCost).Sub(laborCost).Sub(adCost)

		rows = append(rows, AllocatedProfitRow{
			OrderID:            o.ID,
			Date:               day,
			AdGroupRef:         o.AdGroupRef,
			ProductRef:         o.ProductRef,
			Quantity:           o.Quantity,
			Revenue:            revenue,
			CostOfGoods:        costOfGoods,
			AllocatedAdCost:    adCost,
			AllocatedLaborCost: laborCost,
			AllocatedOtherCost: otherCost,
			Profit:             profit,
		})
	}

	return rows, warnings
}

// proportionalShare computes total × weight / totalWeight rounded to the
// currency precision. Zero denominator takes the zero-allocation branch.
func proportionalShare(total, weight, totalWeight decimal.Decimal) decimal.Decimal {
	if totalWeight.IsZero() || total.IsZero() {
		return decimal.Zero
	}
	return RoundMoney(total.Mul(weight).Div(totalWeight))
}

// groupOrdersByDay buckets orders by creation date, dropping anything
// outside the range. Buckets keep input order.
func groupOrdersByDay(orders []OrderRecord, r DayRange) map[Day][]OrderRecord {
	byDay := make(map[Day][]OrderRecord)
	for _, o := range orders {
		if !r.Contains(o.CreatedAt) {
			continue
		}
		byDay[o.CreatedAt] = append(byDay[o.CreatedAt], o)
	}
	return byDay
}

// =============================================================================
// ROW AGGREGATION HELPERS
// =============================================================================

// DayAdGroupKey identifies one (date, ad-group) aggregation bucket.
type DayAdGroupKey struct {
	Date    Day
	AdGroup AdGroupID
}

// GroupRows buckets allocated rows per (date, ad-group).
func GroupRows(rows []AllocatedProfitRow) map[DayAdGroupKey][]AllocatedProfitRow {
	grouped := make(map[DayAdGroupKey][]AllocatedProfitRow)
	for _, r := range rows {
		k := DayAdGroupKey{Date: r.Date, AdGroup: r.AdGroupRef}
		grouped[k] = append(grouped[k], r)
	}
	return grouped
}

// SortedKeys returns bucket keys in deterministic (date, ad-group) order.
func SortedKeys(grouped map[DayAdGroupKey][]AllocatedProfitRow) []DayAdGroupKey {
	keys := make([]DayAdGroupKey, 0, len(grouped))
	for k := range grouped {
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
