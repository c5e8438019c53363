package engine

import "context"

// =============================================================================
// SOURCES - Read-side interfaces to the external ledgers
// =============================================================================
// The order ledger, cost pools and product cost table are owned by upstream
// systems; the engine only ever reads stable snapshots of them. Implementations
// live in store/sqlite (persistent mirror) and engine/store (in-memory).

// OrderSource reads order facts for a date range. An empty adGroup matches
// every ad-group.
type OrderSource interface {
	OrdersInRange(ctx context.Context, r DayRange, adGroup AdGroupID) ([]OrderRecord, error)
}

// CostSource reads daily cost pools (ad spend per ad-group plus labor and
// other totals) keyed by date.
type CostSource interface {
	PoolsInRange(ctx context.Context, r DayRange) (map[Day]DailyCostPool, error)
}

// ProductCostSource reads the product unit cost table.
type ProductCostSource interface {
	UnitCosts(ctx context.Context) (ProductCosts, error)
}
