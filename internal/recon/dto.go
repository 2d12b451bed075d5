package recon

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vendora-ops/vendora-recon/internal/shared"
)

const dateLayout = "2006-01-02"

type createRunRequest struct {
	DateFrom        string           `json:"date_from" validate:"required,datetime=2006-01-02"`
	DateTo          string           `json:"date_to" validate:"required,datetime=2006-01-02"`
	Sources         []string         `json:"sources" validate:"required,min=1,dive,required"`
	MachineIDs      []string         `json:"machine_ids,omitempty"`
	TimeTolerance   *int             `json:"time_tolerance,omitempty" validate:"omitempty,gte=0"`
	AmountTolerance *decimal.Decimal `json:"amount_tolerance,omitempty"`
}

type resolveRequest struct {
	ResolutionNotes string `json:"resolution_notes" validate:"required"`
}

type importSaleRow struct {
	MachineCode   string          `json:"machine_code" validate:"required"`
	SoldAt        time.Time       `json:"sold_at" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	OrderNumber   string          `json:"order_number,omitempty"`
	ProductCode   string          `json:"product_code,omitempty"`
	Quantity      int             `json:"quantity,omitempty" validate:"gte=0"`
}

type importRequest struct {
	Sales          []importSaleRow `json:"sales"`
	ImportSource   string          `json:"import_source" validate:"required"`
	ImportFilename *string         `json:"import_filename,omitempty"`
}

type runResponse struct {
	ID               string          `json:"id"`
	Status           RunStatus       `json:"status"`
	DateFrom         string          `json:"date_from"`
	DateTo           string          `json:"date_to"`
	Sources          []string        `json:"sources"`
	MachineIDs       []string        `json:"machine_ids,omitempty"`
	TimeTolerance    int             `json:"time_tolerance"`
	AmountTolerance  decimal.Decimal `json:"amount_tolerance"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	ProcessingTimeMs *int64          `json:"processing_time_ms,omitempty"`
	Summary          *RunSummary     `json:"summary"`
	ErrorMessage     *string         `json:"error_message,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

func toRunResponse(run *ReconciliationRun) runResponse {
	return runResponse{
		ID:               run.ID.String(),
		Status:           run.Status,
		DateFrom:         run.DateFrom.Format(dateLayout),
		DateTo:           run.DateTo.Format(dateLayout),
		Sources:          run.Sources,
		MachineIDs:       run.MachineIDs,
		TimeTolerance:    run.TimeTolerance,
		AmountTolerance:  run.AmountTolerance,
		StartedAt:        run.StartedAt,
		CompletedAt:      run.CompletedAt,
		ProcessingTimeMs: run.ProcessingTimeMs,
		Summary:          run.Summary,
		ErrorMessage:     run.ErrorMessage,
		CreatedAt:        run.CreatedAt,
	}
}

type mismatchResponse struct {
	ID                string          `json:"id"`
	RunID             string          `json:"run_id"`
	OrderNumber       string          `json:"order_number,omitempty"`
	MachineCode       string          `json:"machine_code"`
	OrderTime         time.Time       `json:"order_time"`
	Amount            decimal.Decimal `json:"amount"`
	PaymentMethod     string          `json:"payment_method,omitempty"`
	MismatchType      MismatchType    `json:"mismatch_type"`
	MatchScore        *float64        `json:"match_score,omitempty"`
	DiscrepancyAmount decimal.Decimal `json:"discrepancy_amount"`
	SourcesData       SourcesData     `json:"sources_data"`
	Description       string          `json:"description"`
	IsResolved        bool            `json:"is_resolved"`
	ResolutionNotes   *string         `json:"resolution_notes,omitempty"`
	ResolvedAt        *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy        *string         `json:"resolved_by,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

func toMismatchResponse(m *Mismatch) mismatchResponse {
	resp := mismatchResponse{
		ID:                m.ID.String(),
		RunID:             m.RunID.String(),
		OrderNumber:       m.OrderNumber,
		MachineCode:       m.MachineCode,
		OrderTime:         m.OrderTime,
		Amount:            m.Amount,
		PaymentMethod:     m.PaymentMethod,
		MismatchType:      m.Type,
		MatchScore:        m.MatchScore,
		DiscrepancyAmount: m.DiscrepancyAmount,
		SourcesData:       m.SourcesData,
		Description:       m.Description,
		IsResolved:        m.IsResolved,
		ResolutionNotes:   m.ResolutionNotes,
		ResolvedAt:        m.ResolvedAt,
		CreatedAt:         m.CreatedAt,
	}
	if m.ResolvedBy != nil {
		id := m.ResolvedBy.String()
		resp.ResolvedBy = &id
	}
	return resp
}

type importBatchResponse struct {
	ImportBatchID string           `json:"import_batch_id"`
	ImportedCount int              `json:"imported_count"`
	SkippedCount  int              `json:"skipped_count"`
	Errors        []ImportRowError `json:"errors"`
}

func toImportBatchResponse(batch *ImportBatch) importBatchResponse {
	errs := batch.Errors
	if errs == nil {
		errs = []ImportRowError{}
	}
	return importBatchResponse{
		ImportBatchID: batch.ID.String(),
		ImportedCount: batch.ImportedCount,
		SkippedCount:  batch.SkippedCount,
		Errors:        errs,
	}
}

type pageResponse struct {
	Items      any               `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}
