/*
Package engine provides the core cost allocation engine.

PURPOSE:
  This package contains the domain model and the pure allocation algorithm
  that turns a day's orders plus that day's shared cost pools into per-order
  profit rows. It has no persistence, no clock, and no network access:
  given the same inputs it always produces the same rows, which is what
  makes recomputes safe to re-run for any date range.

KEY CONCEPTS IN THIS FILE (types.go):
  - OrderRecord: An order fact as mirrored from the order ledger
  - DailyCostPool: One day's shared costs (ad spend per ad-group, labor, other)
  - ProductCosts: Unit cost lookup per product
  - AllocatedProfitRow: The per-order per-day output of the allocator

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal for every currency amount
  2. Immutability: Inputs are snapshots; the allocator never mutates them
  3. Degradation: Missing reference data degrades to zero, never panics

SEE ALSO:
  - allocation.go: The proportional allocation algorithm
  - day.go: Day and DayRange time primitives
  - sources.go: Read-side interfaces to the external ledgers
*/
package engine

import (
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Single-currency decimal amounts
// =============================================================================

// MoneyPrecision is the fixed currency precision applied at row level.
// Aggregates sum already-rounded rows and are never re-rounded.
const MoneyPrecision = 2

// RoundMoney rounds an amount to the fixed currency precision.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPrecision)
}

// MustParseDecimal parses a decimal string, returning zero on failure.
// Used when scanning persisted amounts that were written by this system.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OrderID string
type AdGroupID string
type ProductID string
type AgentID string

// AgentClass determines which revenue rule applies to an order.
type AgentClass string

const (
	// AgentInternal orders realize revenue from collected COD on successful delivery.
	AgentInternal AgentClass = "internal"
	// AgentExternal orders realize revenue from the approved unit price on completion.
	AgentExternal AgentClass = "external"
)

// =============================================================================
// STATUS PHRASES - Normalized categories for upstream free-text statuses
// =============================================================================

// DeliveryPhase is the canonical category of an order's delivery status.
// Upstream ledgers carry vendor phrasing ("Giao thành công", "in transit",
// "has tracking"); everything downstream works on these categories only.
type DeliveryPhase string

const (
	PhaseCancelled        DeliveryPhase = "cancelled"
	PhaseDeliveryFailed   DeliveryPhase = "delivery_failed"
	PhaseDeliveredSuccess DeliveryPhase = "delivered_success"
	PhaseInTransit        DeliveryPhase = "in_transit"
	PhaseTrackingIssued   DeliveryPhase = "tracking_issued"
	PhaseNoTracking       DeliveryPhase = "no_tracking"
	PhaseUnknown          DeliveryPhase = "unknown"
)

// Terminal reports whether the phase is a settled outcome.
func (p DeliveryPhase) Terminal() bool {
	switch p {
	case PhaseCancelled, PhaseDeliveryFailed, PhaseDeliveredSuccess:
		return true
	}
	return false
}

// Failed reports whether the phase is a settled negative outcome.
func (p DeliveryPhase) Failed() bool {
	return p == PhaseCancelled || p == PhaseDeliveryFailed
}

// NormalizeDeliveryStatus maps a free-text delivery status to its phase.
// Matching is keyword-based and case-insensitive; anything unrecognized
// falls through to PhaseUnknown.
func NormalizeDeliveryStatus(raw string) DeliveryPhase {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case s == "":
		return PhaseNoTracking
	case strings.Contains(s, "cancel"), strings.Contains(s, "hủy"):
		return PhaseCancelled
	case strings.Contains(s, "fail"), strings.Contains(s, "return"), strings.Contains(s, "hoàn"):
		return PhaseDeliveryFailed
	case strings.Contains(s, "delivered"), strings.Contains(s, "success"), strings.Contains(s, "thành công"):
		return PhaseDeliveredSuccess
	case strings.Contains(s, "transit"), strings.Contains(s, "shipping"), strings.Contains(s, "đang giao"):
		return PhaseInTransit
	case strings.Contains(s, "tracking"), strings.Contains(s, "vận đơn"), strings.Contains(s, "picked"):
		return PhaseTrackingIssued
	case strings.Contains(s, "pending"), strings.Contains(s, "new"), strings.Contains(s, "confirmed"):
		return PhaseNoTracking
	default:
		return PhaseUnknown
	}
}

// ProductionCompleted reports whether a production status counts an order
// into the labor/other allocation denominator for its day.
func ProductionCompleted(raw string) bool {
	s := strings.ToLower(strings.TrimSpace(raw))
	return strings.Contains(s, "complete") || strings.Contains(s, "done") || strings.Contains(s, "xong")
}

// =============================================================================
// ORDER RECORD - Order facts mirrored from the order ledger
// =============================================================================

// OrderRecord is an append-only order fact. It is created on placement and
// mutated upstream on status/payment change; this engine only reads it.
type OrderRecord struct {
	ID         OrderID
	CreatedAt  Day
	ProductRef ProductID
	Quantity   int64
	AdGroupRef AdGroupID
	AgentRef   AgentID
	AgentClass AgentClass

	ProductionStatus string
	DeliveryStatus   string

	// CODAmount is the cash collected on delivery (internal-class revenue).
	CODAmount decimal.Decimal
	// ManualPayment is any out-of-band payment recorded against the order.
	ManualPayment decimal.Decimal
	// ApprovedUnitPrice is the agreed per-unit price (external-class revenue).
	ApprovedUnitPrice decimal.Decimal
}

// DeliveryPhase returns the normalized delivery category for this order.
func (o OrderRecord) DeliveryPhase() DeliveryPhase {
	return NormalizeDeliveryStatus(o.DeliveryStatus)
}

// IsProductionCompleted reports whether the order's production is done.
func (o OrderRecord) IsProductionCompleted() bool {
	return ProductionCompleted(o.ProductionStatus)
}

// RealizedRevenue applies the revenue rule for the order's agent class:
//   - external: approvedUnitPrice × quantity once production is completed
//   - internal: collected COD plus manual payments once delivery succeeded
//
// Orders that have not reached their revenue-bearing state realize zero.
func (o OrderRecord) RealizedRevenue() decimal.Decimal {
	switch o.AgentClass {
	case AgentExternal:
		if o.IsProductionCompleted() {
			return o.ApprovedUnitPrice.Mul(decimal.NewFromInt(o.Quantity))
		}
	case AgentInternal:
		if o.DeliveryPhase() == PhaseDeliveredSuccess {
			return o.CODAmount.Add(o.ManualPayment)
		}
	}
	return decimal.Zero
}

// NominalRevenue is the order's face value regardless of status: what it
// would realize if everything settles successfully. Used as the anchor for
// naive-baseline calibration.
func (o OrderRecord) NominalRevenue() decimal.Decimal {
	if o.AgentClass == AgentExternal {
		return o.ApprovedUnitPrice.Mul(decimal.NewFromInt(o.Quantity))
	}
	return o.CODAmount.Add(o.ManualPayment)
}

// AgeDays is the order's age in whole days as of the given day.
func (o OrderRecord) AgeDays(asOf Day) int {
	return DaysBetween(o.CreatedAt, asOf)
}

// =============================================================================
// COST POOLS - Shared day-level operating costs
// =============================================================================

// DailyCostPool holds one day's shared costs, derived upstream by summing
// the raw cost-ledger entries for that date.
type DailyCostPool struct {
	Date       Day
	AdSpend    map[AdGroupID]decimal.Decimal
	LaborTotal decimal.Decimal
	OtherTotal decimal.Decimal
}

// SpendFor returns the ad spend for an ad-group, zero when absent.
func (p DailyCostPool) SpendFor(adGroup AdGroupID) decimal.Decimal {
	if amt, ok := p.AdSpend[adGroup]; ok {
		return amt
	}
	return decimal.Zero
}

// ProductCosts maps product references to their unit cost.
type ProductCosts map[ProductID]decimal.Decimal

// UnitCost returns the unit cost for a product and whether it was present.
// A missing unit cost is treated as zero by the allocator (data-quality
// warning, not a failure).
func (pc ProductCosts) UnitCost(ref ProductID) (decimal.Decimal, bool) {
	c, ok := pc[ref]
	if !ok {
		return decimal.Zero, false
	}
	return c, true
}

// =============================================================================
// ALLOCATED PROFIT ROW - Per-order per-day output
// =============================================================================

// AllocatedProfitRow carries one order's share of its day's shared costs.
//
// INVARIANT: for any (date, ad-group) with nonzero spend, the sum of
// AllocatedAdCost across rows sharing it equals the pool's total spend
// within rounding tolerance. The same holds for labor/other restricted
// to production-completed orders.
type AllocatedProfitRow struct {
	OrderID    OrderID
	Date       Day
	AdGroupRef AdGroupID
	ProductRef ProductID
	Quantity   int64

	Revenue            decimal.Decimal
	CostOfGoods        decimal.Decimal
	AllocatedAdCost    decimal.Decimal
	AllocatedLaborCost decimal.Decimal
	AllocatedOtherCost decimal.Decimal

	// Profit = Revenue − CostOfGoods − AllocatedAdCost − AllocatedLaborCost − AllocatedOtherCost.
	Profit decimal.Decimal
}

// TotalAllocatedCost is the sum of every cost component on the row.
func (r AllocatedProfitRow) TotalAllocatedCost() decimal.Decimal {
	return r.CostOfGoods.
		Add(r.AllocatedAdCost).
		Add(r.AllocatedLaborCost).
		Add(r.AllocatedOtherCost)
}
