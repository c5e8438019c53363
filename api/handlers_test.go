package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/margin-engine/api"
	"github.com/warp/margin-engine/budget"
	"github.com/warp/margin-engine/forecast"
	"github.com/warp/margin-engine/recompute"
	"github.com/warp/margin-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testEnv struct {
	router http.Handler
	store  *sqlite.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	svc := &recompute.Service{
		Orders:     store,
		Costs:      store,
		Products:   store,
		Snapshots:  store,
		Runs:       store,
		Forecaster: forecast.NewEngine(7),
		Log:        log,
		Workers:    2,
	}
	debouncer := recompute.NewDebouncer(svc, time.Hour, 14, log)
	t.Cleanup(debouncer.Stop)
	planner := budget.NewPlanner(decimal.NewFromInt(10000))

	handler := api.NewHandler(store, svc, debouncer, planner, log)
	return &testEnv{router: api.NewRouter(handler), store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(into); err != nil {
		t.Fatalf("failed to decode response: %v (body %q)", err, rec.Body.String())
	}
}

func (e *testEnv) seedOrder(t *testing.T, id, date, adGroup string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/orders", api.OrderRequest{
		ID:                id,
		CreatedAt:         date,
		ProductRef:        "prod-a",
		Quantity:          2,
		AdGroupRef:        adGroup,
		AgentClass:        "external",
		ProductionStatus:  "completed",
		DeliveryStatus:    "in transit",
		ApprovedUnitPrice: "50",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("seed order failed: %d %s", rec.Code, rec.Body.String())
	}
}

// =============================================================================
// INGESTION
// =============================================================================

func TestIngestOrder_Validation(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name string
		req  api.OrderRequest
	}{
		{"missing id", api.OrderRequest{CreatedAt: "2026-03-10", ProductRef: "p", Quantity: 1, AdGroupRef: "g1", AgentClass: "external"}},
		{"bad date", api.OrderRequest{ID: "o1", CreatedAt: "10/03/2026", ProductRef: "p", Quantity: 1, AdGroupRef: "g1", AgentClass: "external"}},
		{"zero quantity", api.OrderRequest{ID: "o1", CreatedAt: "2026-03-10", ProductRef: "p", Quantity: 0, AdGroupRef: "g1", AgentClass: "external"}},
		{"bad agent class", api.OrderRequest{ID: "o1", CreatedAt: "2026-03-10", ProductRef: "p", Quantity: 1, AdGroupRef: "g1", AgentClass: "vip"}},
	}
	for _, c := range cases {
		if rec := env.do(t, http.MethodPost, "/api/orders", c.req); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", c.name, rec.Code)
		}
	}
}

func TestIngestAndListAdGroups(t *testing.T) {
	env := newTestEnv(t)
	env.seedOrder(t, "o1", "2026-03-10", "g1")

	rec := env.do(t, http.MethodPost, "/api/costs/ad", api.AdSpendRequest{
		Date: "2026-03-10", AdGroupRef: "g2", Amount: "400",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("ad spend ingest failed: %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/adgroups", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list failed: %d", rec.Code)
	}
	var groups []string
	decodeJSON(t, rec, &groups)
	if len(groups) != 2 {
		t.Errorf("expected 2 ad-groups, got %v", groups)
	}
}

// =============================================================================
// PROFIT REPORT
// =============================================================================

func TestGetProfitReport_AggregatesPerDayAdGroup(t *testing.T) {
	// GIVEN: Two completed orders and a spend pool on one day
	// WHEN: Requesting the profit report for that range
	// THEN: One aggregated row with conserved spend and computed profit

	env := newTestEnv(t)
	env.seedOrder(t, "o1", "2026-03-10", "g1")
	env.seedOrder(t, "o2", "2026-03-10", "g1")
	env.do(t, http.MethodPost, "/api/costs/ad", api.AdSpendRequest{Date: "2026-03-10", AdGroupRef: "g1", Amount: "400"})
	env.do(t, http.MethodPost, "/api/products/costs", api.ProductCostRequest{ProductRef: "prod-a", UnitCost: "20"})

	rec := env.do(t, http.MethodGet, "/api/reports/profit?from=2026-03-10&to=2026-03-10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("report failed: %d %s", rec.Code, rec.Body.String())
	}

	var report api.ProfitReportDTO
	decodeJSON(t, rec, &report)
	if len(report.Rows) != 1 {
		t.Fatalf("expected 1 aggregated row, got %d", len(report.Rows))
	}
	row := report.Rows[0]
	if row.Orders != 2 || row.AdCost != "400" {
		t.Errorf("unexpected aggregate: %+v", row)
	}
	// revenue 2 × (50 × 2) = 200, cog 2 × 40 = 80, ad 400 → profit −280
	if row.Revenue != "200" || row.Profit != "-280" {
		t.Errorf("unexpected revenue/profit: %s/%s", row.Revenue, row.Profit)
	}
}

func TestGetProfitReport_InvalidRange(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/reports/profit?from=2026-03-10&to=2026-03-01", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for inverted range, got %d", rec.Code)
	}
}

// =============================================================================
// RECOMPUTE AND SNAPSHOTS
// =============================================================================

func TestRecomputeThenSnapshots(t *testing.T) {
	// GIVEN: Seeded orders
	// WHEN: POSTing a recompute, then listing snapshots for the range
	// THEN: The recompute reports inserts and the snapshots are readable

	env := newTestEnv(t)
	env.seedOrder(t, "o1", "2026-03-10", "g1")
	env.seedOrder(t, "o2", "2026-03-11", "g1")

	rec := env.do(t, http.MethodPost, "/api/recompute", api.RecomputeRequest{
		From: "2026-03-10", To: "2026-03-11",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("recompute failed: %d %s", rec.Code, rec.Body.String())
	}
	var result api.RecomputeResultDTO
	decodeJSON(t, rec, &result)
	if result.Processed != 2 || result.Inserted != 2 {
		t.Errorf("expected 2 processed / 2 inserted, got %+v", result)
	}

	rec = env.do(t, http.MethodGet, "/api/snapshots?from=2026-03-10&to=2026-03-11", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshots failed: %d", rec.Code)
	}
	var snapshots []api.SnapshotDTO
	decodeJSON(t, rec, &snapshots)
	if len(snapshots) != 2 {
		t.Errorf("expected 2 snapshots, got %d", len(snapshots))
	}

	rec = env.do(t, http.MethodGet, "/api/recompute/runs", nil)
	var runs []api.RunDTO
	decodeJSON(t, rec, &runs)
	if len(runs) == 0 || runs[0].Status != "completed" {
		t.Errorf("expected a completed run record, got %v", runs)
	}
}

func TestRecompute_BadRange(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/recompute", api.RecomputeRequest{
		From: "2026-03-11", To: "2026-03-10",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for inverted range, got %d", rec.Code)
	}
}

func TestScheduleRecompute_Accepted(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/recompute/schedule", api.NotifyRequest{AdGroupRef: "g1"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var resp map[string]any
	decodeJSON(t, rec, &resp)
	if resp["pending"].(float64) != 1 {
		t.Errorf("expected 1 pending, got %v", resp["pending"])
	}
}

// =============================================================================
// FORECAST AND BUDGET
// =============================================================================

func TestGetForecastReport_Live(t *testing.T) {
	env := newTestEnv(t)
	env.seedOrder(t, "o1", "2026-03-10", "g1")

	rec := env.do(t, http.MethodGet, "/api/reports/forecast?from=2026-03-10&to=2026-03-10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("forecast failed: %d %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Rows []api.ForecastRowDTO `json:"rows"`
	}
	decodeJSON(t, rec, &resp)
	if len(resp.Rows) != 1 {
		t.Fatalf("expected 1 forecast row, got %d", len(resp.Rows))
	}
	if resp.Rows[0].ModelVersion != "heuristic-v1" {
		t.Errorf("expected model version on row, got %q", resp.Rows[0].ModelVersion)
	}
}

func TestGetBudget_NoData_Holds(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/budget/g1?window=7", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("budget failed: %d %s", rec.Code, rec.Body.String())
	}
	var resp api.RecommendationDTO
	decodeJSON(t, rec, &resp)
	if resp.AdjustmentFactor != "1" {
		t.Errorf("expected hold factor for empty window, got %q", resp.AdjustmentFactor)
	}
	if resp.WindowDays != 7 {
		t.Errorf("expected window 7, got %d", resp.WindowDays)
	}
}

func TestGetBudget_InvalidWindow(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/budget/g1?window=0", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for window=0, got %d", rec.Code)
	}
}

// =============================================================================
// METRICS
// =============================================================================

func TestMetricsEndpoint_Exposed(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected metrics endpoint to serve, got %d", rec.Code)
	}
}
