/*
handlers.go - HTTP API handlers for the margin engine

PURPOSE:
  Exposes the allocation, forecasting and budget engines via REST. Handles
  HTTP request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Reports:
    GET  /api/reports/profit    Allocated profit per (date, ad-group)
    GET  /api/reports/forecast  Live blended forecast (not persisted)
    GET  /api/snapshots         Persisted forecast snapshots

  Budget:
    GET  /api/budget/{adGroup}  Daily spend recommendation

  Recompute:
    POST /api/recompute           Synchronous recompute of a range
    POST /api/recompute/schedule  Debounced recompute (202 Accepted)
    GET  /api/recompute/runs      Recent run audit records

  Ingestion (ledger mirror):
    POST /api/orders          Upsert an order fact
    POST /api/costs/ad        Upsert daily ad spend per ad-group
    POST /api/costs/day       Upsert daily labor/other totals
    POST /api/products/costs  Upsert a product unit cost
    GET  /api/adgroups        List known ad-groups

  Every ingestion write notifies the debouncer, so published forecast rows
  converge shortly after a burst of upstream changes settles.

ERROR HANDLING:
  Errors come back as JSON with the appropriate HTTP status:
  - 400: Validation errors, malformed input
  - 404: Resource not found
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/margin-engine/budget"
	"github.com/warp/margin-engine/engine"
	"github.com/warp/margin-engine/forecast"
	"github.com/warp/margin-engine/recompute"
	"github.com/warp/margin-engine/store/sqlite"
)

// defaultReportDays is the trailing window used when a report request
// carries no explicit range.
const defaultReportDays = 7

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Service   *recompute.Service
	Debouncer *recompute.Debouncer
	Planner   *budget.Planner
	Log       *logrus.Logger
}

// NewHandler creates a handler over the given store and recompute service.
func NewHandler(store *sqlite.Store, service *recompute.Service, debouncer *recompute.Debouncer, planner *budget.Planner, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		Store:     store,
		Service:   service,
		Debouncer: debouncer,
		Planner:   planner,
		Log:       log,
	}
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// GetProfitReport returns allocated profit aggregated per (date, ad-group).
// GET /api/reports/profit?from=YYYY-MM-DD&to=YYYY-MM-DD&ad_group=G
func (h *Handler) GetProfitReport(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}
	adGroup := engine.AdGroupID(r.URL.Query().Get("ad_group"))

	orders, err := h.Store.OrdersInRange(r.Context(), rng, adGroup)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load orders", err)
		return
	}
	pools, err := h.Store.PoolsInRange(r.Context(), rng)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load cost pools", err)
		return
	}
	unitCosts, err := h.Store.UnitCosts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load unit costs", err)
		return
	}

	allocator := engine.Allocator{}
	result, err := allocator.Allocate(engine.AllocationInput{
		Range:     rng,
		Orders:    orders,
		Pools:     pools,
		UnitCosts: unitCosts,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "Allocation failed", err)
		return
	}

	grouped := engine.GroupRows(result.Rows)
	report := ProfitReportDTO{
		From:     rng.From.String(),
		To:       rng.To.String(),
		Rows:     make([]ProfitRowDTO, 0, len(grouped)),
		Warnings: toWarningDTOs(result.Warnings),
	}
	for _, key := range engine.SortedKeys(grouped) {
		bucket := grouped[key]
		dto := ProfitRowDTO{
			Date:       key.Date.String(),
			AdGroupRef: string(key.AdGroup),
			Orders:     len(bucket),
		}
		revenue, cog, ad, labor, other, profit := sumRows(bucket)
		dto.Revenue = revenue.String()
		dto.CostOfGoods = cog.String()
		dto.AdCost = ad.String()
		dto.LaborCost = labor.String()
		dto.OtherCost = other.String()
		dto.Profit = profit.String()
		report.Rows = append(report.Rows, dto)
	}

	writeJSON(w, http.StatusOK, report)
}

// sumRows sums already-rounded row components; aggregates are never re-rounded.
func sumRows(rows []engine.AllocatedProfitRow) (revenue, cog, ad, labor, other, profit decimal.Decimal) {
	for _, row := range rows {
		revenue = revenue.Add(row.Revenue)
		cog = cog.Add(row.CostOfGoods)
		ad = ad.Add(row.AllocatedAdCost)
		labor = labor.Add(row.AllocatedLaborCost)
		other = other.Add(row.AllocatedOtherCost)
		profit = profit.Add(row.Profit)
	}
	return
}

// GetForecastReport computes a live blended forecast without persisting it.
// GET /api/reports/forecast?from=YYYY-MM-DD&to=YYYY-MM-DD&ad_group=G
func (h *Handler) GetForecastReport(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}
	adGroup := engine.AdGroupID(r.URL.Query().Get("ad_group"))

	rows, warnings, err := h.Service.Preview(r.Context(), rng, adGroup)
	if err != nil {
		writeError(w, statusFor(err), "Failed to build forecast", err)
		return
	}

	dtos := make([]ForecastRowDTO, len(rows))
	for i, row := range rows {
		dtos[i] = toForecastRowDTO(row)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from":     rng.From.String(),
		"to":       rng.To.String(),
		"rows":     dtos,
		"warnings": toWarningDTOs(warnings),
	})
}

// ListSnapshots returns persisted forecast rows.
// GET /api/snapshots?from=YYYY-MM-DD&to=YYYY-MM-DD&ad_group=G
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}
	adGroup := engine.AdGroupID(r.URL.Query().Get("ad_group"))

	records, err := h.Store.SnapshotsInRange(r.Context(), rng, adGroup)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load snapshots", err)
		return
	}

	dtos := make([]SnapshotDTO, len(records))
	for i, rec := range records {
		dtos[i] = toSnapshotDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// BUDGET HANDLER
// =============================================================================

// GetBudget returns the daily spend recommendation for one ad-group, derived
// from the persisted snapshots of a trailing window.
// GET /api/budget/{adGroup}?window=7
func (h *Handler) GetBudget(w http.ResponseWriter, r *http.Request) {
	adGroup := engine.AdGroupID(chi.URLParam(r, "adGroup"))
	if adGroup == "" {
		writeError(w, http.StatusBadRequest, "Ad-group is required", engine.ErrAdGroupRequired)
		return
	}

	window := defaultReportDays
	if v := r.URL.Query().Get("window"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid window", err)
			return
		}
		window = n
	}

	rng := engine.TrailingRange(engine.Today(), window)
	records, err := h.Store.SnapshotsInRange(r.Context(), rng, adGroup)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load snapshots", err)
		return
	}

	rows := make([]forecast.ForecastRow, len(records))
	for i, rec := range records {
		rows[i] = rec.ForecastRow
	}
	rec := h.Planner.Recommend(adGroup, window, rows)
	writeJSON(w, http.StatusOK, toRecommendationDTO(rec))
}

// =============================================================================
// RECOMPUTE HANDLERS
// =============================================================================

// TriggerRecompute runs a synchronous recompute over the requested range.
// POST /api/recompute
func (h *Handler) TriggerRecompute(w http.ResponseWriter, r *http.Request) {
	var req RecomputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	from, err := engine.ParseDay(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date", err)
		return
	}
	to, err := engine.ParseDay(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date", err)
		return
	}

	result, err := h.Service.Recompute(r.Context(), engine.NewDayRange(from, to), engine.AdGroupID(req.AdGroupRef), recompute.TriggerManual)
	if err != nil {
		writeError(w, statusFor(err), "Recompute failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecomputeResultDTO(result))
}

// ScheduleRecompute queues a debounced recompute for an ad-group (or for
// all ad-groups when none is given). Returns 202 immediately; the recompute
// fires after the quiet period.
// POST /api/recompute/schedule
func (h *Handler) ScheduleRecompute(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	h.Debouncer.Notify(engine.AdGroupID(req.AdGroupRef))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"scheduled": true,
		"pending":   h.Debouncer.Pending(),
	})
}

// ListRuns returns recent recompute run audit records, newest first.
// GET /api/recompute/runs?limit=50
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := h.Store.ListRecomputeRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}
	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// INGESTION HANDLERS
// =============================================================================

// IngestOrder upserts an order fact mirrored from the order ledger.
// POST /api/orders
func (h *Handler) IngestOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.AdGroupRef == "" || req.ProductRef == "" {
		writeError(w, http.StatusBadRequest, "id, product_ref and ad_group_ref are required", nil)
		return
	}
	if req.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, "quantity must be positive", nil)
		return
	}
	createdAt, err := engine.ParseDay(req.CreatedAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid created_at date", err)
		return
	}
	class := engine.AgentClass(req.AgentClass)
	if class != engine.AgentInternal && class != engine.AgentExternal {
		writeError(w, http.StatusBadRequest, "agent_class must be internal or external", nil)
		return
	}

	order := engine.OrderRecord{
		ID:                engine.OrderID(req.ID),
		CreatedAt:         createdAt,
		ProductRef:        engine.ProductID(req.ProductRef),
		Quantity:          req.Quantity,
		AdGroupRef:        engine.AdGroupID(req.AdGroupRef),
		AgentRef:          engine.AgentID(req.AgentRef),
		AgentClass:        class,
		ProductionStatus:  req.ProductionStatus,
		DeliveryStatus:    req.DeliveryStatus,
		CODAmount:         parseAmount(req.CODAmount),
		ManualPayment:     parseAmount(req.ManualPayment),
		ApprovedUnitPrice: parseAmount(req.ApprovedUnitPrice),
	}
	if err := h.Store.SaveOrder(r.Context(), order); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save order", err)
		return
	}

	h.Debouncer.Notify(order.AdGroupRef)
	writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

// IngestAdSpend upserts the daily ad spend for one (date, ad-group).
// POST /api/costs/ad
func (h *Handler) IngestAdSpend(w http.ResponseWriter, r *http.Request) {
	var req AdSpendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AdGroupRef == "" {
		writeError(w, http.StatusBadRequest, "ad_group_ref is required", engine.ErrAdGroupRequired)
		return
	}
	date, err := engine.ParseDay(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	if err := h.Store.SaveAdSpend(r.Context(), date, engine.AdGroupID(req.AdGroupRef), amount); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save ad spend", err)
		return
	}
	h.Debouncer.Notify(engine.AdGroupID(req.AdGroupRef))
	writeJSON(w, http.StatusOK, map[string]string{"date": req.Date, "ad_group_ref": req.AdGroupRef})
}

// IngestDayCosts upserts the daily labor/other totals.
// POST /api/costs/day
func (h *Handler) IngestDayCosts(w http.ResponseWriter, r *http.Request) {
	var req DayCostsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := engine.ParseDay(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	labor, err := decimal.NewFromString(req.LaborTotal)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid labor_total", err)
		return
	}
	other, err := decimal.NewFromString(req.OtherTotal)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid other_total", err)
		return
	}

	if err := h.Store.SaveDayCosts(r.Context(), date, labor, other); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save day costs", err)
		return
	}
	// Day-level pools touch every ad-group of that day.
	h.Debouncer.Notify("")
	writeJSON(w, http.StatusOK, map[string]string{"date": req.Date})
}

// IngestProductCost upserts one product's unit cost.
// POST /api/products/costs
func (h *Handler) IngestProductCost(w http.ResponseWriter, r *http.Request) {
	var req ProductCostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ProductRef == "" {
		writeError(w, http.StatusBadRequest, "product_ref is required", nil)
		return
	}
	cost, err := decimal.NewFromString(req.UnitCost)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid unit_cost", err)
		return
	}

	if err := h.Store.SaveUnitCost(r.Context(), engine.ProductID(req.ProductRef), cost); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save unit cost", err)
		return
	}
	h.Debouncer.Notify("")
	writeJSON(w, http.StatusOK, map[string]string{"product_ref": req.ProductRef})
}

// ListAdGroups returns every ad-group seen in orders or ad spend.
// GET /api/adgroups
func (h *Handler) ListAdGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Store.ListAdGroups(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list ad-groups", err)
		return
	}
	if groups == nil {
		groups = []engine.AdGroupID{}
	}
	writeJSON(w, http.StatusOK, groups)
}

// =============================================================================
// HELPERS
// =============================================================================

// parseRange reads from/to query params; absent params default to the
// trailing report window ending today.
func parseRange(r *http.Request) (engine.DayRange, error) {
	q := r.URL.Query()
	fromStr, toStr := q.Get("from"), q.Get("to")
	if fromStr == "" && toStr == "" {
		return engine.TrailingRange(engine.Today(), defaultReportDays), nil
	}

	from, err := engine.ParseDay(fromStr)
	if err != nil {
		return engine.DayRange{}, err
	}
	to, err := engine.ParseDay(toStr)
	if err != nil {
		return engine.DayRange{}, err
	}
	rng := engine.NewDayRange(from, to)
	return rng, rng.Validate()
}

// parseAmount parses an optional money field; empty or malformed is zero.
func parseAmount(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	return engine.MustParseDecimal(s)
}

func statusFor(err error) int {
	if engine.IsValidation(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
