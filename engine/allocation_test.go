package engine_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/margin-engine/engine"
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

func order(id string, created engine.Day, adGroup string, qty int64) engine.OrderRecord {
	return engine.OrderRecord{
		ID:         engine.OrderID(id),
		CreatedAt:  created,
		ProductRef: "prod-a",
		Quantity:   qty,
		AdGroupRef: engine.AdGroupID(adGroup),
		AgentClass: engine.AgentExternal,
	}
}

func poolWithSpend(date engine.Day, adGroup string, spend string) engine.DailyCostPool {
	return engine.DailyCostPool{
		Date:    date,
		AdSpend: map[engine.AdGroupID]decimal.Decimal{engine.AdGroupID(adGroup): dec(spend)},
	}
}

func allocate(t *testing.T, in engine.AllocationInput) *engine.AllocationResult {
	t.Helper()
	allocator := engine.Allocator{}
	result, err := allocator.Allocate(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return result
}

func rowByOrder(rows []engine.AllocatedProfitRow, id string) engine.AllocatedProfitRow {
	for _, r := range rows {
		if r.OrderID == engine.OrderID(id) {
			return r
		}
	}
	return engine.AllocatedProfitRow{}
}

// =============================================================================
// AD SPEND ALLOCATION
// =============================================================================

func TestAllocate_AdSpend_ProportionalByQuantityShare(t *testing.T) {
	// GIVEN: Two orders in one ad-group with quantities 3 and 1, spend 400
	// WHEN: Allocating the day
	// THEN: Ad cost splits 300 / 100

	d := day(10)
	result := allocate(t, engine.AllocationInput{
		Range: engine.NewDayRange(d, d),
		Orders: []engine.OrderRecord{
			order("o1", d, "g1", 3),
			order("o2", d, "g1", 1),
		},
		Pools:     map[engine.Day]engine.DailyCostPool{d: poolWithSpend(d, "g1", "400")},
		UnitCosts: engine.ProductCosts{"prod-a": dec("0")},
	})

	if got := rowByOrder(result.Rows, "o1").AllocatedAdCost; !got.Equal(dec("300")) {
		t.Errorf("expected o1 ad cost 300, got %v", got)
	}
	if got := rowByOrder(result.Rows, "o2").AllocatedAdCost; !got.Equal(dec("100")) {
		t.Errorf("expected o2 ad cost 100, got %v", got)
	}
}

func TestAllocate_AdSpend_ConservedAcrossRows(t *testing.T) {
	// GIVEN: Three orders with awkward quantity shares and spend 100
	// WHEN: Allocating
	// THEN: Allocated ad cost sums to the pool total within rounding tolerance

	d := day(10)
	result := allocate(t, engine.AllocationInput{
		Range: engine.NewDayRange(d, d),
		Orders: []engine.OrderRecord{
			order("o1", d, "g1", 1),
			order("o2", d, "g1", 1),
			order("o3", d, "g1", 1),
		},
		Pools:     map[engine.Day]engine.DailyCostPool{d: poolWithSpend(d, "g1", "100")},
		UnitCosts: engine.ProductCosts{"prod-a": dec("0")},
	})

	total := decimal.Zero
	for _, r := range result.Rows {
		total = total.Add(r.AllocatedAdCost)
	}
	tolerance := dec("0.02") // one cent per row
	if total.Sub(dec("100")).Abs().GreaterThan(tolerance) {
		t.Errorf("expected conserved spend ~100, got %v", total)
	}
}

func TestAllocate_AdSpend_SeparatePoolsPerAdGroup(t *testing.T) {
	// GIVEN: Orders in two ad-groups with separate spend pools
	// WHEN: Allocating
	// THEN: Each order carries only its own ad-group's pool

	d := day(10)
	pool := engine.DailyCostPool{
		Date: d,
		AdSpend: map[engine.AdGroupID]decimal.Decimal{
			"g1": dec("100"),
			"g2": dec("50"),
		},
	}
	result := allocate(t, engine.AllocationInput{
		Range: engine.NewDayRange(d, d),
		Orders: []engine.OrderRecord{
			order("o1", d, "g1", 2),
			order("o2", d, "g2", 5),
		},
		Pools:     map[engine.Day]engine.DailyCostPool{d: pool},
		UnitCosts: engine.ProductCosts{"prod-a": dec("0")},
	})

	if got := rowByOrder(result.Rows, "o1").AllocatedAdCost; !got.Equal(dec("100")) {
		t.Errorf("expected o1 to carry full g1 pool 100, got %v", got)
	}
	if got := rowByOrder(result.Rows, "o2").AllocatedAdCost; !got.Equal(dec("50")) {
		t.Errorf("expected o2 to carry full g2 pool 50, got %v", got)
	}
}

func TestAllocate_ZeroQuantityDenominator_AllocatesNothing(t *testing.T) {
	// GIVEN: Spend recorded for an ad-group whose only order has quantity 0
	// WHEN: Allocating
	// THEN: Zero allocation, no division-by-zero panic

	d := day(10)
	o := order("o1", d, "g1", 0)
	result := allocate(t, engine.AllocationInput{
		Range:     engine.NewDayRange(d, d),
		Orders:    []engine.OrderRecord{o},
		Pools:     map[engine.Day]engine.DailyCostPool{d: poolWithSpend(d, "g1", "400")},
		UnitCosts: engine.ProductCosts{"prod-a": dec("0")},
	})

	if got := rowByOrder(result.Rows, "o1").AllocatedAdCost; !got.IsZero() {
		t.Errorf("expected zero ad cost for zero denominator, got %v", got)
	}
}

// =============================================================================
// LABOR / OTHER ALLOCATION
// =============================================================================

func TestAllocate_LaborAndOther_OnlyProductionCompletedOrders(t *testing.T) {
	// GIVEN: One completed and one in-production order, labor 90 / other 30
	// WHEN: Allocating
	// THEN: The completed order carries the full labor/other pools

	d := day(10)
	done := order("o1", d, "g1", 2)
	done.ProductionStatus = "completed"
	pending := order("o2", d, "g1", 2)
	pending.ProductionStatus = "in production"

	pool := poolWithSpend(d, "g1", "0")
	pool.LaborTotal = dec("90")
	pool.OtherTotal = dec("30")

	result := allocate(t, engine.AllocationInput{
		Range:     engine.NewDayRange(d, d),
		Orders:    []engine.OrderRecord{done, pending},
		Pools:     map[engine.Day]engine.DailyCostPool{d: pool},
		UnitCosts: engine.ProductCosts{"prod-a": dec("0")},
	})

	doneRow := rowByOrder(result.Rows, "o1")
	if !doneRow.AllocatedLaborCost.Equal(dec("90")) {
		t.Errorf("expected completed order to carry labor 90, got %v", doneRow.AllocatedLaborCost)
	}
	if !doneRow.AllocatedOtherCost.Equal(dec("30")) {
		t.Errorf("expected completed order to carry other 30, got %v", doneRow.AllocatedOtherCost)
	}

	pendingRow := rowByOrder(result.Rows, "o2")
	if !pendingRow.AllocatedLaborCost.IsZero() || !pendingRow.AllocatedOtherCost.IsZero() {
		t.Errorf("expected in-production order to carry no labor/other, got %v/%v",
			pendingRow.AllocatedLaborCost, pendingRow.AllocatedOtherCost)
	}
}

func TestAllocate_LaborPool_NoCompletedOrders_AllocatesNothing(t *testing.T) {
	// GIVEN: Labor recorded but no order completed production that day
	// WHEN: Allocating
	// THEN: Labor stays unallocated (zero on every row)

	d := day(10)
	pool := poolWithSpend(d, "g1", "0")
	pool.LaborTotal = dec("500")

	result := allocate(t, engine.AllocationInput{
		Range:     engine.NewDayRange(d, d),
		Orders:    []engine.OrderRecord{order("o1", d, "g1", 3)},
		Pools:     map[engine.Day]engine.DailyCostPool{d: pool},
		UnitCosts: engine.ProductCosts{"prod-a": dec("0")},
	})

	if got := rowByOrder(result.Rows, "o1").AllocatedLaborCost; !got.IsZero() {
		t.Errorf("expected no labor allocation without completed orders, got %v", got)
	}
}

// =============================================================================
// REVENUE RULES AND PROFIT
// =============================================================================

func TestAllocate_ExternalRevenue_ApprovedPriceOnCompletion(t *testing.T) {
	// GIVEN: External-class order, price 25 × qty 4, production completed
	// WHEN: Allocating
	// THEN: Revenue 100; an identical non-completed order realizes zero

	d := day(10)
	done := order("o1", d, "g1", 4)
	done.ProductionStatus = "done"
	done.ApprovedUnitPrice = dec("25")
	pending := order("o2", d, "g1", 4)
	pending.ApprovedUnitPrice = dec("25")

	result := allocate(t, engine.AllocationInput{
		Range:     engine.NewDayRange(d, d),
		Orders:    []engine.OrderRecord{done, pending},
		Pools:     map[engine.Day]engine.DailyCostPool{d: poolWithSpend(d, "g1", "0")},
		UnitCosts: engine.ProductCosts{"prod-a": dec("0")},
	})

	if got := rowByOrder(result.Rows, "o1").Revenue; !got.Equal(dec("100")) {
		t.Errorf("expected completed external revenue 100, got %v", got)
	}
	if got := rowByOrder(result.Rows, "o2").Revenue; !got.IsZero() {
		t.Errorf("expected non-completed external revenue 0, got %v", got)
	}
}

func TestAllocate_InternalRevenue_CODOnDeliveredOnly(t *testing.T) {
	// GIVEN: Internal-class orders, one delivered with COD 80 + manual 20,
	//        one still in transit with the same payments
	// WHEN: Allocating
	// THEN: Only the delivered order realizes 100

	d := day(10)
	delivered := order("o1", d, "g1", 1)
	delivered.AgentClass = engine.AgentInternal
	delivered.DeliveryStatus = "Giao thành công"
	delivered.CODAmount = dec("80")
	delivered.ManualPayment = dec("20")

	inTransit := order("o2", d, "g1", 1)
	inTransit.AgentClass = engine.AgentInternal
	inTransit.DeliveryStatus = "in transit"
	inTransit.CODAmount = dec("80")
	inTransit.ManualPayment = dec("20")

	result := allocate(t, engine.AllocationInput{
		Range:     engine.NewDayRange(d, d),
		Orders:    []engine.OrderRecord{delivered, inTransit},
		Pools:     map[engine.Day]engine.DailyCostPool{d: poolWithSpend(d, "g1", "0")},
		UnitCosts: engine.ProductCosts{"prod-a": dec("0")},
	})

	if got := rowByOrder(result.Rows, "o1").Revenue; !got.Equal(dec("100")) {
		t.Errorf("expected delivered internal revenue 100, got %v", got)
	}
	if got := rowByOrder(result.Rows, "o2").Revenue; !got.IsZero() {
		t.Errorf("expected in-transit internal revenue 0, got %v", got)
	}
}

func TestAllocate_Profit_IsRevenueMinusAllCostComponents(t *testing.T) {
	// GIVEN: One completed order with every cost component present
	// WHEN: Allocating
	// THEN: Profit = revenue − cog − ad − labor − other

	d := day(10)
	o := order("o1", d, "g1", 2)
	o.ProductionStatus = "completed"
	o.ApprovedUnitPrice = dec("50")

	pool := poolWithSpend(d, "g1", "30")
	pool.LaborTotal = dec("10")
	pool.OtherTotal = dec("6")

	result := allocate(t, engine.AllocationInput{
		Range:     engine.NewDayRange(d, d),
		Orders:    []engine.OrderRecord{o},
		Pools:     map[engine.Day]engine.DailyCostPool{d: pool},
		UnitCosts: engine.ProductCosts{"prod-a": dec("12")},
	})

	row := rowByOrder(result.Rows, "o1")
	// revenue 100, cog 24, ad 30, labor 10, other 6 → profit 30
	if !row.Profit.Equal(dec("30")) {
		t.Errorf("expected profit 30, got %v", row.Profit)
	}
	expectedTotal := dec("70")
	if !row.TotalAllocatedCost().Equal(expectedTotal) {
		t.Errorf("expected total allocated cost 70, got %v", row.TotalAllocatedCost())
	}
}

// =============================================================================
// DEGRADATION AND VALIDATION
// =============================================================================

func TestAllocate_MissingUnitCost_ZeroCogWithWarning(t *testing.T) {
	// GIVEN: An order whose product has no unit cost on file
	// WHEN: Allocating
	// THEN: Cost of goods degrades to zero and a warning is reported

	d := day(10)
	result := allocate(t, engine.AllocationInput{
		Range:     engine.NewDayRange(d, d),
		Orders:    []engine.OrderRecord{order("o1", d, "g1", 2)},
		Pools:     map[engine.Day]engine.DailyCostPool{d: poolWithSpend(d, "g1", "0")},
		UnitCosts: engine.ProductCosts{},
	})

	if got := rowByOrder(result.Rows, "o1").CostOfGoods; !got.IsZero() {
		t.Errorf("expected zero cost of goods, got %v", got)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(result.Warnings))
	}
	if result.Warnings[0].Err != engine.ErrMissingUnitCost {
		t.Errorf("expected missing-unit-cost warning, got %v", result.Warnings[0].Err)
	}
}

func TestAllocate_MissingCostPool_ZeroPoolWithWarning(t *testing.T) {
	// GIVEN: An order on a day with no cost pool recorded
	// WHEN: Allocating
	// THEN: All pool allocations are zero and a warning is reported

	d := day(10)
	result := allocate(t, engine.AllocationInput{
		Range:     engine.NewDayRange(d, d),
		Orders:    []engine.OrderRecord{order("o1", d, "g1", 2)},
		Pools:     map[engine.Day]engine.DailyCostPool{},
		UnitCosts: engine.ProductCosts{"prod-a": dec("0")},
	})

	row := rowByOrder(result.Rows, "o1")
	if !row.AllocatedAdCost.IsZero() || !row.AllocatedLaborCost.IsZero() || !row.AllocatedOtherCost.IsZero() {
		t.Errorf("expected zero allocations without a pool, got %v/%v/%v",
			row.AllocatedAdCost, row.AllocatedLaborCost, row.AllocatedOtherCost)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Err != engine.ErrMissingCostPool {
		t.Errorf("expected missing-cost-pool warning, got %v", result.Warnings)
	}
}

func TestAllocate_InvalidRange_FailsFast(t *testing.T) {
	// GIVEN: A range with end before start
	// WHEN: Allocating
	// THEN: ErrInvalidRange, no rows computed

	allocator := engine.Allocator{}
	_, err := allocator.Allocate(engine.AllocationInput{
		Range: engine.NewDayRange(day(10), day(5)),
	})
	if err != engine.ErrInvalidRange {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestAllocate_OrdersOutsideRange_Ignored(t *testing.T) {
	// GIVEN: Orders on days 9, 10 and 11 with a range covering only day 10
	// WHEN: Allocating
	// THEN: Only the in-range order produces a row

	result := allocate(t, engine.AllocationInput{
		Range: engine.NewDayRange(day(10), day(10)),
		Orders: []engine.OrderRecord{
			order("before", day(9), "g1", 1),
			order("inside", day(10), "g1", 1),
			order("after", day(11), "g1", 1),
		},
		Pools:     map[engine.Day]engine.DailyCostPool{day(10): poolWithSpend(day(10), "g1", "0")},
		UnitCosts: engine.ProductCosts{"prod-a": dec("0")},
	})

	if len(result.Rows) != 1 || result.Rows[0].OrderID != "inside" {
		t.Fatalf("expected exactly the in-range order, got %v", result.Rows)
	}
}
