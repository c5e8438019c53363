// Package store provides in-memory source implementations (for testing/dev).
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/margin-engine/engine"
)

// =============================================================================
// MEMORY SOURCES - In-memory order/cost/product stores
// =============================================================================

// Memory implements engine.OrderSource, engine.CostSource and
// engine.ProductCostSource backed by maps. Safe for concurrent use.
type Memory struct {
	mu        sync.RWMutex
	orders    map[engine.OrderID]engine.OrderRecord
	pools     map[engine.Day]engine.DailyCostPool
	unitCosts engine.ProductCosts
}

func NewMemory() *Memory {
	return &Memory{
		orders:    make(map[engine.OrderID]engine.OrderRecord),
		pools:     make(map[engine.Day]engine.DailyCostPool),
		unitCosts: make(engine.ProductCosts),
	}
}

// PutOrder inserts or replaces an order fact (upstream mutates on status change).
func (m *Memory) PutOrder(o engine.OrderRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
}

// PutAdSpend sets the ad spend for one (date, ad-group).
func (m *Memory) PutAdSpend(date engine.Day, adGroup engine.AdGroupID, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pool := m.poolLocked(date)
	pool.AdSpend[adGroup] = amount
	m.pools[date] = pool
}

// PutDayCosts sets the labor and other totals for a date.
func (m *Memory) PutDayCosts(date engine.Day, labor, other decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pool := m.poolLocked(date)
	pool.LaborTotal = labor
	pool.OtherTotal = other
	m.pools[date] = pool
}

// PutUnitCost sets the unit cost for a product.
func (m *Memory) PutUnitCost(ref engine.ProductID, cost decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unitCosts[ref] = cost
}

func (m *Memory) poolLocked(date engine.Day) engine.DailyCostPool {
	pool, ok := m.pools[date]
	if !ok {
		pool = engine.DailyCostPool{Date: date, AdSpend: make(map[engine.AdGroupID]decimal.Decimal)}
	}
	return pool
}

// OrdersInRange returns orders created within the range, sorted by
// (created_at, id) for deterministic output.
func (m *Memory) OrdersInRange(_ context.Context, r engine.DayRange, adGroup engine.AdGroupID) ([]engine.OrderRecord, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.OrderRecord
	for _, o := range m.orders {
		if !r.Contains(o.CreatedAt) {
			continue
		}
		if adGroup != "" && o.AdGroupRef != adGroup {
			continue
		}
		result = append(result, o)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// PoolsInRange returns copies of the cost pools within the range.
func (m *Memory) PoolsInRange(_ context.Context, r engine.DayRange) (map[engine.Day]engine.DailyCostPool, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[engine.Day]engine.DailyCostPool)
	for date, pool := range m.pools {
		if !r.Contains(date) {
			continue
		}
		spend := make(map[engine.AdGroupID]decimal.Decimal, len(pool.AdSpend))
		for k, v := range pool.AdSpend {
			spend[k] = v
		}
		result[date] = engine.DailyCostPool{
			Date:       date,
			AdSpend:    spend,
			LaborTotal: pool.LaborTotal,
			OtherTotal: pool.OtherTotal,
		}
	}
	return result, nil
}

// UnitCosts returns a copy of the unit cost table.
func (m *Memory) UnitCosts(_ context.Context) (engine.ProductCosts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(engine.ProductCosts, len(m.unitCosts))
	for k, v := range m.unitCosts {
		result[k] = v
	}
	return result, nil
}
