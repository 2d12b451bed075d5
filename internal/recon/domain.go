// Package recon implements payment reconciliation: correlating vending
// machine sale records against payment provider transactions to surface
// missing payments, missing orders, and amount discrepancies.
package recon

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vendora-ops/vendora-recon/internal/shared"
)

// RunStatus captures the lifecycle of a reconciliation run.
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusProcessing RunStatus = "processing"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// SourceHardware is the source tag for machine-reported sales. Any other
// source tag on a run names a payment provider (payme, click, uzum, ...).
const SourceHardware = "hardware"

// MismatchType labels a reconciliation discrepancy.
type MismatchType string

const (
	// MismatchPaymentNotFound marks a hardware sale with no payment candidate.
	MismatchPaymentNotFound MismatchType = "payment_not_found"
	// MismatchOrderNotFound marks a payment with no hardware-side sale.
	MismatchOrderNotFound MismatchType = "order_not_found"
	// MismatchAmount marks a pair whose amounts disagree beyond tolerance.
	MismatchAmount MismatchType = "amount_mismatch"
)

// ImportSource identifies how hardware sale rows entered the pool.
type ImportSource string

const (
	ImportSourceExcel ImportSource = "excel"
	ImportSourceCSV   ImportSource = "csv"
	ImportSourceAPI   ImportSource = "api"
)

// Tolerance defaults applied when run creation omits them.
const DefaultTimeToleranceSeconds = 300

// DefaultAmountTolerance is the default fractional amount tolerance (1%).
var DefaultAmountTolerance = decimal.RequireFromString("0.01")

// RunSummary aggregates the outcome of a completed run.
type RunSummary struct {
	TotalRecords int     `json:"total_records"`
	Matched      int     `json:"matched"`
	Mismatched   int     `json:"mismatched"`
	Missing      int     `json:"missing"`
	MatchRate    float64 `json:"match_rate"`
}

// ReconciliationRun is one reconciliation execution over a date range,
// source set, and tolerance configuration.
type ReconciliationRun struct {
	ID               uuid.UUID
	OrgID            uuid.UUID
	Status           RunStatus
	DateFrom         time.Time
	DateTo           time.Time
	Sources          []string
	MachineIDs       []string
	TimeTolerance    int // seconds
	AmountTolerance  decimal.Decimal
	StartedAt        *time.Time
	CompletedAt      *time.Time
	ProcessingTimeMs *int64
	Summary          *RunSummary
	ErrorMessage     *string
	CreatedBy        uuid.UUID
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        *time.Time
}

// HardwareSaleRecord is a machine-reported sale in the comparison pool.
// Immutable once imported.
type HardwareSaleRecord struct {
	ID            uuid.UUID
	OrgID         uuid.UUID
	MachineCode   string
	SoldAt        time.Time
	Amount        decimal.Decimal
	PaymentMethod string
	OrderNumber   string
	ProductCode   string
	Quantity      int
	ImportBatchID uuid.UUID
	CreatedAt     time.Time
}

// PaymentTransaction is a provider-confirmed payment record. Read-only
// ground truth to this engine.
type PaymentTransaction struct {
	ID           uuid.UUID
	OrgID        uuid.UUID
	Provider     string
	MachineCode  string
	Amount       decimal.Decimal
	TransactedAt time.Time
	OrderNumber  string
	Status       string
}

// NormalizedRecord is the canonical shape both comparison sides are
// reduced to before matching.
type NormalizedRecord struct {
	MachineCode   string          `json:"machine_code"`
	Timestamp     time.Time       `json:"timestamp"`
	Amount        decimal.Decimal `json:"amount"`
	OrderNumber   string          `json:"order_number,omitempty"`
	Provider      string          `json:"provider"`
	PaymentMethod string          `json:"payment_method,omitempty"`
}

// SourcesData snapshots the record(s) behind a mismatch. Either side may
// be absent for the missing-record mismatch types.
type SourcesData struct {
	Hardware *NormalizedRecord `json:"hw,omitempty"`
	Payment  *NormalizedRecord `json:"payment,omitempty"`
}

// Mismatch is a persisted reconciliation discrepancy.
type Mismatch struct {
	ID                uuid.UUID
	RunID             uuid.UUID
	OrgID             uuid.UUID
	OrderNumber       string
	MachineCode       string
	OrderTime         time.Time
	Amount            decimal.Decimal
	PaymentMethod     string
	Type              MismatchType
	MatchScore        *float64 // populated only for amount_mismatch, in [0,1]
	DiscrepancyAmount decimal.Decimal
	SourcesData       SourcesData
	Description       string
	IsResolved        bool
	ResolutionNotes   *string
	ResolvedAt        *time.Time
	ResolvedBy        *uuid.UUID
	CreatedAt         time.Time
}

// ImportRowError records a single rejected row in an import batch.
type ImportRowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ImportBatch describes one bulk ingestion of hardware sale rows.
// Immutable once created.
type ImportBatch struct {
	ID            uuid.UUID
	OrgID         uuid.UUID
	Source        ImportSource
	Filename      *string
	ImportedCount int
	SkippedCount  int
	Errors        []ImportRowError
	CreatedBy     uuid.UUID
	CreatedAt     time.Time
}

// CreateRunInput captures run creation parameters.
type CreateRunInput struct {
	OrgID           uuid.UUID
	DateFrom        time.Time
	DateTo          time.Time
	Sources         []string
	MachineIDs      []string
	TimeTolerance   *int
	AmountTolerance *decimal.Decimal
	ActorID         uuid.UUID
}

// Validate ensures run creation input is coherent.
func (in CreateRunInput) Validate() error {
	if in.OrgID == uuid.Nil {
		return fmt.Errorf("recon: org required: %w", shared.ErrInvalidArgument)
	}
	if in.DateFrom.IsZero() || in.DateTo.IsZero() {
		return fmt.Errorf("recon: date range required: %w", shared.ErrInvalidArgument)
	}
	if in.DateTo.Before(in.DateFrom) {
		return fmt.Errorf("recon: date_to before date_from: %w", shared.ErrInvalidArgument)
	}
	if len(in.Sources) == 0 {
		return fmt.Errorf("recon: sources required: %w", shared.ErrInvalidArgument)
	}
	for _, s := range in.Sources {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("recon: blank source tag: %w", shared.ErrInvalidArgument)
		}
	}
	if in.TimeTolerance != nil && *in.TimeTolerance < 0 {
		return fmt.Errorf("recon: time tolerance must be >= 0: %w", shared.ErrInvalidArgument)
	}
	if in.AmountTolerance != nil && in.AmountTolerance.IsNegative() {
		return fmt.Errorf("recon: amount tolerance must be >= 0: %w", shared.ErrInvalidArgument)
	}
	return nil
}

// ResolveInput captures a manual mismatch resolution.
type ResolveInput struct {
	OrgID      uuid.UUID
	MismatchID uuid.UUID
	Notes      string
	ResolvedBy uuid.UUID
}

// Validate ensures resolution input is coherent.
func (in ResolveInput) Validate() error {
	if in.MismatchID == uuid.Nil {
		return fmt.Errorf("recon: mismatch id required: %w", shared.ErrInvalidArgument)
	}
	if strings.TrimSpace(in.Notes) == "" {
		return fmt.Errorf("recon: resolution notes required: %w", shared.ErrInvalidArgument)
	}
	return nil
}

// ImportRow is one hardware sale row submitted for ingestion.
type ImportRow struct {
	MachineCode   string          `json:"machine_code"`
	SoldAt        time.Time       `json:"sold_at"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	OrderNumber   string          `json:"order_number,omitempty"`
	ProductCode   string          `json:"product_code,omitempty"`
	Quantity      int             `json:"quantity,omitempty"`
}

// ImportInput bundles one ingestion call.
type ImportInput struct {
	OrgID    uuid.UUID
	Source   ImportSource
	Filename string
	Rows     []ImportRow
	// Rejected holds rows already discarded upstream (file parsing);
	// they count as skipped so batch totals cover every submitted row.
	Rejected []ImportRowError
	ActorID  uuid.UUID
}

// Validate ensures the ingestion call is well formed.
func (in ImportInput) Validate() error {
	if in.OrgID == uuid.Nil {
		return fmt.Errorf("recon: org required: %w", shared.ErrInvalidArgument)
	}
	switch in.Source {
	case ImportSourceExcel, ImportSourceCSV, ImportSourceAPI:
	default:
		return fmt.Errorf("recon: unrecognized import source %q: %w", in.Source, shared.ErrInvalidArgument)
	}
	if len(in.Rows)+len(in.Rejected) == 0 {
		return fmt.Errorf("recon: no sales submitted: %w", shared.ErrInvalidArgument)
	}
	return nil
}

// Domain sentinels. Each wraps the shared taxonomy so the transport
// layer can map them without knowing individual cases.
var (
	// ErrRunNotFound occurs when a run is missing or soft deleted.
	ErrRunNotFound = fmt.Errorf("recon: run not found: %w", shared.ErrNotFound)
	// ErrMismatchNotFound occurs when a mismatch is missing.
	ErrMismatchNotFound = fmt.Errorf("recon: mismatch not found: %w", shared.ErrNotFound)
	// ErrRunProcessing rejects deleting a run that is executing.
	ErrRunProcessing = fmt.Errorf("recon: run is processing: %w", shared.ErrInvalidState)
	// ErrRunNotPending rejects executing a run that has already been claimed.
	ErrRunNotPending = fmt.Errorf("recon: run is not pending: %w", shared.ErrInvalidState)
	// ErrAlreadyResolved rejects resolving a mismatch twice.
	ErrAlreadyResolved = fmt.Errorf("recon: mismatch already resolved: %w", shared.ErrInvalidState)
	// ErrDuplicateSale flags an import row already present in the pool.
	ErrDuplicateSale = fmt.Errorf("recon: duplicate hardware sale: %w", shared.ErrInvalidArgument)
)

// ProviderSources returns the run's sources minus the hardware tag.
func (r *ReconciliationRun) ProviderSources() []string {
	providers := make([]string, 0, len(r.Sources))
	for _, s := range r.Sources {
		if s != SourceHardware {
			providers = append(providers, s)
		}
	}
	return providers
}

// WantsHardware reports whether the run compares against the hardware pool.
func (r *ReconciliationRun) WantsHardware() bool {
	for _, s := range r.Sources {
		if s == SourceHardware {
			return true
		}
	}
	return false
}

// TimeToleranceDuration converts the stored seconds value.
func (r *ReconciliationRun) TimeToleranceDuration() time.Duration {
	return time.Duration(r.TimeTolerance) * time.Second
}
