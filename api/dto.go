/*
dto.go - Request/response data structures

PURPOSE:
  JSON shapes for the HTTP API. Money amounts travel as decimal strings,
  never floats, so clients round-trip them losslessly. Dates travel as
  "YYYY-MM-DD".

SEE ALSO:
  - handlers.go: Handler implementations that populate these
*/
package api

import (
	"time"

	"github.com/warp/margin-engine/budget"
	"github.com/warp/margin-engine/engine"
	"github.com/warp/margin-engine/forecast"
	"github.com/warp/margin-engine/recompute"
	"github.com/warp/margin-engine/store/sqlite"
)

// =============================================================================
// COMMON
// =============================================================================

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// INGESTION REQUESTS
// =============================================================================

// OrderRequest mirrors one order fact from the upstream ledger.
type OrderRequest struct {
	ID                string `json:"id"`
	CreatedAt         string `json:"created_at"` // YYYY-MM-DD
	ProductRef        string `json:"product_ref"`
	Quantity          int64  `json:"quantity"`
	AdGroupRef        string `json:"ad_group_ref"`
	AgentRef          string `json:"agent_ref,omitempty"`
	AgentClass        string `json:"agent_class"` // internal | external
	ProductionStatus  string `json:"production_status,omitempty"`
	DeliveryStatus    string `json:"delivery_status,omitempty"`
	CODAmount         string `json:"cod_amount,omitempty"`
	ManualPayment     string `json:"manual_payment,omitempty"`
	ApprovedUnitPrice string `json:"approved_unit_price,omitempty"`
}

// AdSpendRequest sets the daily ad spend for one (date, ad-group).
type AdSpendRequest struct {
	Date       string `json:"date"`
	AdGroupRef string `json:"ad_group_ref"`
	Amount     string `json:"amount"`
}

// DayCostsRequest sets the daily labor/other totals.
type DayCostsRequest struct {
	Date       string `json:"date"`
	LaborTotal string `json:"labor_total"`
	OtherTotal string `json:"other_total"`
}

// ProductCostRequest sets one product's unit cost.
type ProductCostRequest struct {
	ProductRef string `json:"product_ref"`
	UnitCost   string `json:"unit_cost"`
}

// =============================================================================
// PROFIT REPORT
// =============================================================================

// ProfitRowDTO is one (date, ad-group) aggregate of allocated profit rows.
type ProfitRowDTO struct {
	Date       string `json:"date"`
	AdGroupRef string `json:"ad_group_ref"`
	Orders     int    `json:"orders"`

	Revenue     string `json:"revenue"`
	CostOfGoods string `json:"cost_of_goods"`
	AdCost      string `json:"ad_cost"`
	LaborCost   string `json:"labor_cost"`
	OtherCost   string `json:"other_cost"`
	Profit      string `json:"profit"`
}

// WarningDTO surfaces a data-quality degradation to the caller.
type WarningDTO struct {
	Date    string `json:"date"`
	Ref     string `json:"ref,omitempty"`
	Message string `json:"message"`
}

// ProfitReportDTO is the profit report response.
type ProfitReportDTO struct {
	From     string         `json:"from"`
	To       string         `json:"to"`
	Rows     []ProfitRowDTO `json:"rows"`
	Warnings []WarningDTO   `json:"warnings,omitempty"`
}

func toWarningDTOs(warnings []engine.DataQualityWarning) []WarningDTO {
	if len(warnings) == 0 {
		return nil
	}
	dtos := make([]WarningDTO, len(warnings))
	for i, w := range warnings {
		dtos[i] = WarningDTO{
			Date:    w.Date.String(),
			Ref:     w.Ref,
			Message: w.Err.Error(),
		}
	}
	return dtos
}

// =============================================================================
// FORECAST / SNAPSHOTS
// =============================================================================

// ForecastRowDTO is one blended forecast row.
type ForecastRowDTO struct {
	Date       string `json:"date"`
	AdGroupRef string `json:"ad_group_ref"`

	MaturedRevenue string `json:"matured_revenue"`
	MaturedProfit  string `json:"matured_profit"`
	MaturedOrders  int    `json:"matured_orders"`

	ProjectedRevenue string `json:"projected_revenue"`
	ProjectedProfit  string `json:"projected_profit"`
	ProjectedOrders  int    `json:"projected_orders"`

	AdSpend        string `json:"ad_spend"`
	BlendedRevenue string `json:"blended_revenue"`
	BlendedProfit  string `json:"blended_profit"`
	BlendedROAS    string `json:"blended_roas"`
	MaturedROAS    string `json:"matured_roas"`

	Confidence       float64 `json:"confidence"`
	CalibrationError float64 `json:"calibration_error"`
	ModelVersion     string  `json:"model_version"`
}

func toForecastRowDTO(row forecast.ForecastRow) ForecastRowDTO {
	return ForecastRowDTO{
		Date:             row.Date.String(),
		AdGroupRef:       string(row.AdGroupRef),
		MaturedRevenue:   row.MaturedRevenue.String(),
		MaturedProfit:    row.MaturedProfit.String(),
		MaturedOrders:    row.MaturedOrders,
		ProjectedRevenue: row.ProjectedRevenue.String(),
		ProjectedProfit:  row.ProjectedProfit.String(),
		ProjectedOrders:  row.ProjectedOrders,
		AdSpend:          row.AdSpend.String(),
		BlendedRevenue:   row.BlendedRevenue.String(),
		BlendedProfit:    row.BlendedProfit.String(),
		BlendedROAS:      row.BlendedROAS.String(),
		MaturedROAS:      row.MaturedROAS.String(),
		Confidence:       row.Confidence,
		CalibrationError: row.CalibrationError,
		ModelVersion:     row.ModelVersion,
	}
}

// SnapshotDTO is a persisted forecast row plus write timestamps.
type SnapshotDTO struct {
	ForecastRowDTO
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toSnapshotDTO(rec sqlite.SnapshotRecord) SnapshotDTO {
	return SnapshotDTO{
		ForecastRowDTO: toForecastRowDTO(rec.ForecastRow),
		CreatedAt:      rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      rec.UpdatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// BUDGET
// =============================================================================

// RecommendationDTO is the budget advice for one ad-group.
type RecommendationDTO struct {
	AdGroupRef string `json:"ad_group_ref"`
	WindowDays int    `json:"window_days"`

	AvgDailySpend    string  `json:"avg_daily_spend"`
	BlendedMargin    string  `json:"blended_margin"`
	AvgConfidence    float64 `json:"avg_confidence"`
	AdjustmentFactor string  `json:"adjustment_factor"`

	RecommendedDailySpend string `json:"recommended_daily_spend"`
}

func toRecommendationDTO(rec budget.Recommendation) RecommendationDTO {
	return RecommendationDTO{
		AdGroupRef:            string(rec.AdGroupRef),
		WindowDays:            rec.WindowDays,
		AvgDailySpend:         rec.AvgDailySpend.String(),
		BlendedMargin:         rec.BlendedMargin.String(),
		AvgConfidence:         rec.AvgConfidence,
		AdjustmentFactor:      rec.AdjustmentFactor.String(),
		RecommendedDailySpend: rec.RecommendedDailySpend.String(),
	}
}

// =============================================================================
// RECOMPUTE
// =============================================================================

// RecomputeRequest asks for a recompute over [from, to].
type RecomputeRequest struct {
	From       string `json:"from"`
	To         string `json:"to"`
	AdGroupRef string `json:"ad_group_ref,omitempty"`
}

// NotifyRequest schedules a debounced recompute for one ad-group (or all,
// when ad_group_ref is empty).
type NotifyRequest struct {
	AdGroupRef string `json:"ad_group_ref,omitempty"`
}

// RecomputeResultDTO reports partial-success accounting for one batch.
type RecomputeResultDTO struct {
	From       string `json:"from"`
	To         string `json:"to"`
	AdGroupRef string `json:"ad_group_ref,omitempty"`

	Processed int      `json:"processed"`
	Inserted  int      `json:"inserted"`
	Updated   int      `json:"updated"`
	Errors    []string `json:"errors,omitempty"`

	Warnings []WarningDTO `json:"warnings,omitempty"`
	TookMs   int64        `json:"took_ms"`
}

func toRecomputeResultDTO(res *recompute.Result) RecomputeResultDTO {
	dto := RecomputeResultDTO{
		From:       res.Range.From.String(),
		To:         res.Range.To.String(),
		AdGroupRef: string(res.AdGroup),
		Processed:  res.Processed,
		Inserted:   res.Inserted,
		Updated:    res.Updated,
		Warnings:   toWarningDTOs(res.Warnings),
		TookMs:     res.Duration.Milliseconds(),
	}
	for _, err := range res.Errors {
		dto.Errors = append(dto.Errors, err.Error())
	}
	return dto
}

// RunDTO is one recompute run audit record.
type RunDTO struct {
	ID         string `json:"id"`
	From       string `json:"from"`
	To         string `json:"to"`
	AdGroupRef string `json:"ad_group_ref,omitempty"`
	Trigger    string `json:"trigger"`
	Status     string `json:"status"`

	Processed  int    `json:"processed"`
	Inserted   int    `json:"inserted"`
	Updated    int    `json:"updated"`
	ErrorCount int    `json:"error_count"`
	Error      string `json:"error,omitempty"`

	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

func toRunDTO(run sqlite.RecomputeRun) RunDTO {
	dto := RunDTO{
		ID:         run.ID,
		From:       run.From.String(),
		To:         run.To.String(),
		AdGroupRef: string(run.AdGroupRef),
		Trigger:    run.Trigger,
		Status:     run.Status,
		Processed:  run.Processed,
		Inserted:   run.Inserted,
		Updated:    run.Updated,
		ErrorCount: run.ErrorCount,
		Error:      run.Error,
		StartedAt:  run.StartedAt.Format(time.RFC3339),
	}
	if run.CompletedAt != nil {
		dto.CompletedAt = run.CompletedAt.Format(time.RFC3339)
	}
	return dto
}
