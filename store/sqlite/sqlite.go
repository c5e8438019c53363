/*
Package sqlite provides the SQLite-backed persistence layer.

PURPOSE:
  Implements the read-side source interfaces (engine.OrderSource,
  engine.CostSource, engine.ProductCostSource) over a local mirror of the
  upstream ledgers, plus the snapshot store and recompute-run audit log.
  In production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

KEY TABLES:
  orders:             Mirror of the order ledger (upserted on status change)
  ad_spend:           Daily ad spend per ad-group
  day_costs:          Daily labor/other totals
  product_costs:      Product unit costs
  forecast_snapshots: Persisted forecast rows, UNIQUE(report_date, ad_group_ref)
  recompute_runs:     Audit records for every recompute batch

SNAPSHOT UPSERTS:
  Snapshot rows rely on the storage-layer uniqueness constraint plus an
  atomic INSERT ... ON CONFLICT DO UPDATE - never check-then-insert - so
  overlapping recompute triggers cannot race into duplicate rows.

WAL MODE:
  SQLite is opened with WAL for better concurrency: multiple readers don't
  block and a single writer at a time is enforced by the driver.

SEE ALSO:
  - engine/sources.go: Interface definitions
  - recompute/service.go: The batch writer of forecast_snapshots
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/margin-engine/engine"
	"github.com/warp/margin-engine/forecast"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Order ledger mirror (upserted on upstream status/payment change)
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		product_ref TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		ad_group_ref TEXT NOT NULL,
		agent_ref TEXT,
		agent_class TEXT NOT NULL,
		production_status TEXT,
		delivery_status TEXT,
		cod_amount TEXT NOT NULL DEFAULT '0',
		manual_payment TEXT NOT NULL DEFAULT '0',
		approved_unit_price TEXT NOT NULL DEFAULT '0',
		updated_at TEXT NOT NULL
	);

	-- Hot path: range scans per ad-group
	CREATE INDEX IF NOT EXISTS idx_orders_created_ad_group
		ON orders(created_at, ad_group_ref);
	CREATE INDEX IF NOT EXISTS idx_orders_ad_group
		ON orders(ad_group_ref);

	-- Daily ad spend per ad-group
	CREATE TABLE IF NOT EXISTS ad_spend (
		spend_date TEXT NOT NULL,
		ad_group_ref TEXT NOT NULL,
		amount TEXT NOT NULL DEFAULT '0',
		updated_at TEXT NOT NULL,
		UNIQUE(spend_date, ad_group_ref)
	);

	-- Daily labor/other totals
	CREATE TABLE IF NOT EXISTS day_costs (
		cost_date TEXT PRIMARY KEY,
		labor_total TEXT NOT NULL DEFAULT '0',
		other_total TEXT NOT NULL DEFAULT '0',
		updated_at TEXT NOT NULL
	);

	-- Product unit costs
	CREATE TABLE IF NOT EXISTS product_costs (
		product_ref TEXT PRIMARY KEY,
		unit_cost TEXT NOT NULL DEFAULT '0',
		updated_at TEXT NOT NULL
	);

	-- Persisted forecast rows
	-- CRITICAL: the composite uniqueness constraint is what makes
	-- upsertForRange idempotent under overlapping recompute triggers.
	CREATE TABLE IF NOT EXISTS forecast_snapshots (
		report_date TEXT NOT NULL,
		ad_group_ref TEXT NOT NULL,
		matured_revenue TEXT NOT NULL DEFAULT '0',
		matured_profit TEXT NOT NULL DEFAULT '0',
		matured_orders INTEGER NOT NULL DEFAULT 0,
		projected_revenue TEXT NOT NULL DEFAULT '0',
		projected_profit TEXT NOT NULL DEFAULT '0',
		projected_orders INTEGER NOT NULL DEFAULT 0,
		ad_spend TEXT NOT NULL DEFAULT '0',
		blended_revenue TEXT NOT NULL DEFAULT '0',
		blended_profit TEXT NOT NULL DEFAULT '0',
		blended_roas TEXT NOT NULL DEFAULT '0',
		matured_roas TEXT NOT NULL DEFAULT '0',
		confidence REAL NOT NULL DEFAULT 0,
		calibration_error REAL NOT NULL DEFAULT 0,
		model_version TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(report_date, ad_group_ref)
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_date
		ON forecast_snapshots(report_date);
	CREATE INDEX IF NOT EXISTS idx_snapshots_ad_group
		ON forecast_snapshots(ad_group_ref);

	-- Recompute runs (audit log for scheduled/debounced/manual batches)
	CREATE TABLE IF NOT EXISTS recompute_runs (
		id TEXT PRIMARY KEY,
		range_from TEXT NOT NULL,
		range_to TEXT NOT NULL,
		ad_group_ref TEXT,
		trigger_kind TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		processed INTEGER DEFAULT 0,
		inserted INTEGER DEFAULT 0,
		updated INTEGER DEFAULT 0,
		error_count INTEGER DEFAULT 0,
		error TEXT,
		started_at TEXT,
		completed_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_recompute_runs_status
		ON recompute_runs(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ORDER SOURCE (engine.OrderSource interface)
// =============================================================================

// SaveOrder inserts or replaces an order fact.
func (s *Store) SaveOrder(ctx context.Context, o engine.OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO orders
		(id, created_at, product_ref, quantity, ad_group_ref, agent_ref, agent_class,
		 production_status, delivery_status, cod_amount, manual_payment, approved_unit_price, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			product_ref = excluded.product_ref,
			quantity = excluded.quantity,
			ad_group_ref = excluded.ad_group_ref,
			agent_ref = excluded.agent_ref,
			agent_class = excluded.agent_class,
			production_status = excluded.production_status,
			delivery_status = excluded.delivery_status,
			cod_amount = excluded.cod_amount,
			manual_payment = excluded.manual_payment,
			approved_unit_price = excluded.approved_unit_price,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		o.ID,
		o.CreatedAt.String(),
		o.ProductRef,
		o.Quantity,
		o.AdGroupRef,
		o.AgentRef,
		o.AgentClass,
		o.ProductionStatus,
		o.DeliveryStatus,
		o.CODAmount.String(),
		o.ManualPayment.String(),
		o.ApprovedUnitPrice.String(),
		nowRFC3339(),
	)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// OrdersInRange returns orders created in [r.From, r.To], optionally
// filtered to one ad-group. Sorted by (created_at, id).
func (s *Store) OrdersInRange(ctx context.Context, r engine.DayRange, adGroup engine.AdGroupID) ([]engine.OrderRecord, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, created_at, product_ref, quantity, ad_group_ref, agent_ref, agent_class,
		       production_status, delivery_status, cod_amount, manual_payment, approved_unit_price
		FROM orders
		WHERE created_at >= ? AND created_at <= ?
	`
	args := []any{r.From.String(), r.To.String()}
	if adGroup != "" {
		query += " AND ad_group_ref = ?"
		args = append(args, adGroup)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []engine.OrderRecord
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func scanOrder(rows *sql.Rows) (engine.OrderRecord, error) {
	var (
		o                      engine.OrderRecord
		createdAt              string
		agentRef               sql.NullString
		productionStatus       sql.NullString
		deliveryStatus         sql.NullString
		cod, manual, unitPrice string
	)

	err := rows.Scan(
		&o.ID, &createdAt, &o.ProductRef, &o.Quantity, &o.AdGroupRef,
		&agentRef, &o.AgentClass, &productionStatus, &deliveryStatus,
		&cod, &manual, &unitPrice,
	)
	if err != nil {
		return o, fmt.Errorf("failed to scan order: %w", err)
	}

	day, err := engine.ParseDay(createdAt)
	if err != nil {
		return o, fmt.Errorf("failed to parse order date %q: %w", createdAt, err)
	}
	o.CreatedAt = day
	o.AgentRef = engine.AgentID(agentRef.String)
	o.ProductionStatus = productionStatus.String
	o.DeliveryStatus = deliveryStatus.String
	o.CODAmount = engine.MustParseDecimal(cod)
	o.ManualPayment = engine.MustParseDecimal(manual)
	o.ApprovedUnitPrice = engine.MustParseDecimal(unitPrice)
	return o, nil
}

// ListAdGroups returns every ad-group seen in orders or ad spend.
func (s *Store) ListAdGroups(ctx context.Context) ([]engine.AdGroupID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ad_group_ref FROM orders
		UNION
		SELECT ad_group_ref FROM ad_spend
		ORDER BY 1
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list ad-groups: %w", err)
	}
	defer rows.Close()

	var groups []engine.AdGroupID
	for rows.Next() {
		var g engine.AdGroupID
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// =============================================================================
// COST SOURCE (engine.CostSource interface)
// =============================================================================

// SaveAdSpend upserts the daily spend for one (date, ad-group).
func (s *Store) SaveAdSpend(ctx context.Context, date engine.Day, adGroup engine.AdGroupID, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO ad_spend (spend_date, ad_group_ref, amount, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(spend_date, ad_group_ref) DO UPDATE SET
			amount = excluded.amount,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, date.String(), adGroup, amount.String(), nowRFC3339())
	if err != nil {
		return fmt.Errorf("failed to save ad spend: %w", err)
	}
	return nil
}

// SaveDayCosts upserts the labor/other totals for a date.
func (s *Store) SaveDayCosts(ctx context.Context, date engine.Day, labor, other decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO day_costs (cost_date, labor_total, other_total, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cost_date) DO UPDATE SET
			labor_total = excluded.labor_total,
			other_total = excluded.other_total,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, date.String(), labor.String(), other.String(), nowRFC3339())
	if err != nil {
		return fmt.Errorf("failed to save day costs: %w", err)
	}
	return nil
}

// PoolsInRange assembles DailyCostPools from ad_spend and day_costs.
func (s *Store) PoolsInRange(ctx context.Context, r engine.DayRange) (map[engine.Day]engine.DailyCostPool, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	pools := make(map[engine.Day]engine.DailyCostPool)
	pool := func(d engine.Day) engine.DailyCostPool {
		p, ok := pools[d]
		if !ok {
			p = engine.DailyCostPool{Date: d, AdSpend: make(map[engine.AdGroupID]decimal.Decimal)}
		}
		return p
	}

	spendRows, err := s.db.QueryContext(ctx,
		"SELECT spend_date, ad_group_ref, amount FROM ad_spend WHERE spend_date >= ? AND spend_date <= ?",
		r.From.String(), r.To.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query ad spend: %w", err)
	}
	defer spendRows.Close()
	for spendRows.Next() {
		var dateStr, amount string
		var adGroup engine.AdGroupID
		if err := spendRows.Scan(&dateStr, &adGroup, &amount); err != nil {
			return nil, err
		}
		day, err := engine.ParseDay(dateStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse spend date %q: %w", dateStr, err)
		}
		p := pool(day)
		p.AdSpend[adGroup] = engine.MustParseDecimal(amount)
		pools[day] = p
	}
	if err := spendRows.Err(); err != nil {
		return nil, err
	}

	costRows, err := s.db.QueryContext(ctx,
		"SELECT cost_date, labor_total, other_total FROM day_costs WHERE cost_date >= ? AND cost_date <= ?",
		r.From.String(), r.To.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query day costs: %w", err)
	}
	defer costRows.Close()
	for costRows.Next() {
		var dateStr, labor, other string
		if err := costRows.Scan(&dateStr, &labor, &other); err != nil {
			return nil, err
		}
		day, err := engine.ParseDay(dateStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse cost date %q: %w", dateStr, err)
		}
		p := pool(day)
		p.LaborTotal = engine.MustParseDecimal(labor)
		p.OtherTotal = engine.MustParseDecimal(other)
		pools[day] = p
	}
	return pools, costRows.Err()
}

// =============================================================================
// PRODUCT COST SOURCE (engine.ProductCostSource interface)
// =============================================================================

// SaveUnitCost upserts a product's unit cost.
func (s *Store) SaveUnitCost(ctx context.Context, ref engine.ProductID, cost decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO product_costs (product_ref, unit_cost, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(product_ref) DO UPDATE SET
			unit_cost = excluded.unit_cost,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, ref, cost.String(), nowRFC3339())
	if err != nil {
		return fmt.Errorf("failed to save unit cost: %w", err)
	}
	return nil
}

// UnitCosts loads the full product unit cost table.
func (s *Store) UnitCosts(ctx context.Context) (engine.ProductCosts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT product_ref, unit_cost FROM product_costs")
	if err != nil {
		return nil, fmt.Errorf("failed to query unit costs: %w", err)
	}
	defer rows.Close()

	costs := make(engine.ProductCosts)
	for rows.Next() {
		var ref engine.ProductID
		var cost string
		if err := rows.Scan(&ref, &cost); err != nil {
			return nil, err
		}
		costs[ref] = engine.MustParseDecimal(cost)
	}
	return costs, rows.Err()
}

// =============================================================================
// SNAPSHOT STORE
// =============================================================================

// SnapshotRecord is a persisted forecast row plus write timestamps.
type SnapshotRecord struct {
	forecast.ForecastRow
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpsertSnapshot atomically inserts or replaces the forecast row keyed by
// (report_date, ad_group_ref). Returns whether a new row was inserted.
//
// The existence probe is only for the inserted/updated statistics; the write
// itself is a single atomic upsert, so concurrent callers cannot duplicate
// a key.
func (s *Store) UpsertSnapshot(ctx context.Context, row forecast.ForecastRow) (bool, error) {
	if row.AdGroupRef == "" {
		return false, engine.ErrAdGroupRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var existing int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM forecast_snapshots WHERE report_date = ? AND ad_group_ref = ?",
		row.Date.String(), row.AdGroupRef,
	).Scan(&existing)
	if err != nil {
		return false, fmt.Errorf("failed to probe snapshot: %w", err)
	}

	now := nowRFC3339()
	query := `
		INSERT INTO forecast_snapshots
		(report_date, ad_group_ref,
		 matured_revenue, matured_profit, matured_orders,
		 projected_revenue, projected_profit, projected_orders,
		 ad_spend, blended_revenue, blended_profit, blended_roas, matured_roas,
		 confidence, calibration_error, model_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(report_date, ad_group_ref) DO UPDATE SET
			matured_revenue = excluded.matured_revenue,
			matured_profit = excluded.matured_profit,
			matured_orders = excluded.matured_orders,
			projected_revenue = excluded.projected_revenue,
			projected_profit = excluded.projected_profit,
			projected_orders = excluded.projected_orders,
			ad_spend = excluded.ad_spend,
			blended_revenue = excluded.blended_revenue,
			blended_profit = excluded.blended_profit,
			blended_roas = excluded.blended_roas,
			matured_roas = excluded.matured_roas,
			confidence = excluded.confidence,
			calibration_error = excluded.calibration_error,
			model_version = excluded.model_version,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		row.Date.String(), row.AdGroupRef,
		row.MaturedRevenue.String(), row.MaturedProfit.String(), row.MaturedOrders,
		row.ProjectedRevenue.String(), row.ProjectedProfit.String(), row.ProjectedOrders,
		row.AdSpend.String(), row.BlendedRevenue.String(), row.BlendedProfit.String(),
		row.BlendedROAS.String(), row.MaturedROAS.String(),
		row.Confidence, row.CalibrationError, row.ModelVersion,
		now, now,
	)
	if err != nil {
		return false, fmt.Errorf("%w: %v", engine.ErrSnapshotWrite, err)
	}
	return existing == 0, nil
}

// SnapshotsInRange returns persisted rows for a range, optionally filtered
// to one ad-group. Sorted by (report_date, ad_group_ref).
func (s *Store) SnapshotsInRange(ctx context.Context, r engine.DayRange, adGroup engine.AdGroupID) ([]SnapshotRecord, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT report_date, ad_group_ref,
		       matured_revenue, matured_profit, matured_orders,
		       projected_revenue, projected_profit, projected_orders,
		       ad_spend, blended_revenue, blended_profit, blended_roas, matured_roas,
		       confidence, calibration_error, model_version, created_at, updated_at
		FROM forecast_snapshots
		WHERE report_date >= ? AND report_date <= ?
	`
	args := []any{r.From.String(), r.To.String()}
	if adGroup != "" {
		query += " AND ad_group_ref = ?"
		args = append(args, adGroup)
	}
	query += " ORDER BY report_date ASC, ad_group_ref ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var records []SnapshotRecord
	for rows.Next() {
		rec, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanSnapshot(rows *sql.Rows) (SnapshotRecord, error) {
	var (
		rec                                                              SnapshotRecord
		dateStr                                                          string
		maturedRevenue, maturedProfit                                    string
		projectedRevenue, projectedProfit                                string
		adSpend, blendedRevenue, blendedProfit, blendedROAS, maturedROAS string
		createdAt, updatedAt                                             string
	)

	err := rows.Scan(
		&dateStr, &rec.AdGroupRef,
		&maturedRevenue, &maturedProfit, &rec.MaturedOrders,
		&projectedRevenue, &projectedProfit, &rec.ProjectedOrders,
		&adSpend, &blendedRevenue, &blendedProfit, &blendedROAS, &maturedROAS,
		&rec.Confidence, &rec.CalibrationError, &rec.ModelVersion,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return rec, fmt.Errorf("failed to scan snapshot: %w", err)
	}

	day, err := engine.ParseDay(dateStr)
	if err != nil {
		return rec, fmt.Errorf("failed to parse snapshot date %q: %w", dateStr, err)
	}
	rec.Date = day
	rec.MaturedRevenue = engine.MustParseDecimal(maturedRevenue)
	rec.MaturedProfit = engine.MustParseDecimal(maturedProfit)
	rec.ProjectedRevenue = engine.MustParseDecimal(projectedRevenue)
	rec.ProjectedProfit = engine.MustParseDecimal(projectedProfit)
	rec.AdSpend = engine.MustParseDecimal(adSpend)
	rec.BlendedRevenue = engine.MustParseDecimal(blendedRevenue)
	rec.BlendedProfit = engine.MustParseDecimal(blendedProfit)
	rec.BlendedROAS = engine.MustParseDecimal(blendedROAS)
	rec.MaturedROAS = engine.MustParseDecimal(maturedROAS)
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return rec, nil
}

// =============================================================================
// RECOMPUTE RUNS
// =============================================================================

// RecomputeRun is the audit record of one recompute batch.
type RecomputeRun struct {
	ID         string
	From       engine.Day
	To         engine.Day
	AdGroupRef engine.AdGroupID
	Trigger    string // "manual", "periodic", "debounced"
	Status     string // "running", "completed", "failed"

	Processed  int
	Inserted   int
	Updated    int
	ErrorCount int
	Error      string

	StartedAt   time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// SaveRecomputeRun inserts or replaces a run record by ID.
func (s *Store) SaveRecomputeRun(ctx context.Context, run RecomputeRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var completed any
	if run.CompletedAt != nil {
		completed = run.CompletedAt.UTC().Format(time.RFC3339)
	}

	query := `
		INSERT INTO recompute_runs
		(id, range_from, range_to, ad_group_ref, trigger_kind, status,
		 processed, inserted, updated, error_count, error, started_at, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			processed = excluded.processed,
			inserted = excluded.inserted,
			updated = excluded.updated,
			error_count = excluded.error_count,
			error = excluded.error,
			completed_at = excluded.completed_at
	`
	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.From.String(), run.To.String(), run.AdGroupRef, run.Trigger, run.Status,
		run.Processed, run.Inserted, run.Updated, run.ErrorCount, nullString(run.Error),
		run.StartedAt.UTC().Format(time.RFC3339), completed, nowRFC3339(),
	)
	if err != nil {
		return fmt.Errorf("failed to save recompute run: %w", err)
	}
	return nil
}

// ListRecomputeRuns returns the most recent runs, newest first.
func (s *Store) ListRecomputeRuns(ctx context.Context, limit int) ([]RecomputeRun, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, range_from, range_to, ad_group_ref, trigger_kind, status,
		       processed, inserted, updated, error_count, error, started_at, completed_at, created_at
		FROM recompute_runs
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recompute runs: %w", err)
	}
	defer rows.Close()

	var runs []RecomputeRun
	for rows.Next() {
		var (
			run                RecomputeRun
			fromStr, toStr     string
			adGroup, errMsg    sql.NullString
			started, completed sql.NullString
			created            string
		)
		err := rows.Scan(
			&run.ID, &fromStr, &toStr, &adGroup, &run.Trigger, &run.Status,
			&run.Processed, &run.Inserted, &run.Updated, &run.ErrorCount,
			&errMsg, &started, &completed, &created,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recompute run: %w", err)
		}
		run.From, _ = engine.ParseDay(fromStr)
		run.To, _ = engine.ParseDay(toStr)
		run.AdGroupRef = engine.AdGroupID(adGroup.String)
		run.Error = errMsg.String
		if started.Valid {
			run.StartedAt, _ = time.Parse(time.RFC3339, started.String)
		}
		if completed.Valid {
			if t, err := time.Parse(time.RFC3339, completed.String); err == nil {
				run.CompletedAt = &t
			}
		}
		run.CreatedAt, _ = time.Parse(time.RFC3339, created)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
