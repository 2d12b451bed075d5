package recon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vendora-ops/vendora-recon/internal/platform/db"
)

// ListRunsQuery filters a run listing.
type ListRunsQuery struct {
	OrgID    uuid.UUID
	Status   *RunStatus
	DateFrom *time.Time
	DateTo   *time.Time
	Page     int
	Limit    int
}

// ListMismatchesQuery filters a per-run mismatch listing.
type ListMismatchesQuery struct {
	OrgID    uuid.UUID
	RunID    uuid.UUID
	Type     *MismatchType
	Resolved *bool
	Page     int
	Limit    int
}

// Repository persists runs, mismatches, and the hardware sale pool, and
// reads the external payment transaction store. All access is org scoped.
type Repository interface {
	CreateRun(ctx context.Context, run *ReconciliationRun) error
	GetRun(ctx context.Context, orgID, id uuid.UUID) (*ReconciliationRun, error)
	ListRuns(ctx context.Context, q ListRunsQuery) ([]ReconciliationRun, int, error)
	// ClaimRun atomically transitions pending -> processing. A concurrent
	// claim on the same run observes the transition and fails with
	// ErrRunNotPending instead of re-running the pipeline.
	ClaimRun(ctx context.Context, id uuid.UUID, startedAt time.Time) (*ReconciliationRun, error)
	CompleteRun(ctx context.Context, id uuid.UUID, summary RunSummary, completedAt time.Time, processingMs int64) error
	FailRun(ctx context.Context, id uuid.UUID, errorMessage string, completedAt time.Time, processingMs int64) error
	// AbortRun fails a run only while it is still processing, freeing a
	// run whose executor could not record an outcome. A no-op once the
	// run is terminal.
	AbortRun(ctx context.Context, id uuid.UUID, errorMessage string, at time.Time) error
	SoftDeleteRun(ctx context.Context, orgID, id uuid.UUID, at time.Time) error

	InsertMismatches(ctx context.Context, mismatches []Mismatch) error
	ListMismatches(ctx context.Context, q ListMismatchesQuery) ([]Mismatch, int, error)
	// ResolveMismatch is a compare-and-set on is_resolved; exactly one of
	// two concurrent calls succeeds.
	ResolveMismatch(ctx context.Context, in ResolveInput, at time.Time) (*Mismatch, error)

	InsertImportBatch(ctx context.Context, batch *ImportBatch) error
	// FinalizeImportBatch writes the batch's counts and row errors once
	// every row has been attempted.
	FinalizeImportBatch(ctx context.Context, batch *ImportBatch) error
	InsertHardwareSale(ctx context.Context, sale *HardwareSaleRecord) error
	ListHardwareSales(ctx context.Context, orgID uuid.UUID, from, to time.Time, machineIDs []string) ([]HardwareSaleRecord, error)
	ListPaymentTransactions(ctx context.Context, orgID uuid.UUID, providers []string, from, to time.Time, machineIDs []string) ([]PaymentTransaction, error)
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs the Postgres-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

const runColumns = `id, org_id, status, date_from, date_to, sources, machine_ids,
	time_tolerance, amount_tolerance::text, started_at, completed_at,
	processing_time_ms, summary, error_message, created_by, created_at, updated_at`

func (r *repository) CreateRun(ctx context.Context, run *ReconciliationRun) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO recon_runs (
			id, org_id, status, date_from, date_to, sources, machine_ids,
			time_tolerance, amount_tolerance, created_by, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)`,
		run.ID, run.OrgID, run.Status, run.DateFrom, run.DateTo,
		run.Sources, run.MachineIDs, run.TimeTolerance,
		run.AmountTolerance.String(), run.CreatedBy, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recon: create run: %w", err)
	}
	return nil
}

func (r *repository) GetRun(ctx context.Context, orgID, id uuid.UUID) (*ReconciliationRun, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM recon_runs
		WHERE id = $1 AND org_id = $2 AND deleted_at IS NULL`,
		id, orgID,
	)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("recon: get run: %w", err)
	}
	return run, nil
}

func (r *repository) ListRuns(ctx context.Context, q ListRunsQuery) ([]ReconciliationRun, int, error) {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	var status *string
	if q.Status != nil {
		s := string(*q.Status)
		status = &s
	}

	var total int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM recon_runs
		WHERE org_id = $1 AND deleted_at IS NULL
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3::timestamptz IS NULL OR date_from >= $3)
		  AND ($4::timestamptz IS NULL OR date_to <= $4)`,
		q.OrgID, status, q.DateFrom, q.DateTo,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("recon: count runs: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+runColumns+`
		FROM recon_runs
		WHERE org_id = $1 AND deleted_at IS NULL
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3::timestamptz IS NULL OR date_from >= $3)
		  AND ($4::timestamptz IS NULL OR date_to <= $4)
		ORDER BY created_at DESC
		LIMIT $5 OFFSET $6`,
		q.OrgID, status, q.DateFrom, q.DateTo, q.Limit, (q.Page-1)*q.Limit,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("recon: list runs: %w", err)
	}
	defer rows.Close()

	var runs []ReconciliationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("recon: scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, total, rows.Err()
}

func (r *repository) ClaimRun(ctx context.Context, id uuid.UUID, startedAt time.Time) (*ReconciliationRun, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE recon_runs
		SET status = $2, started_at = $3, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL AND status = $4
		RETURNING `+runColumns,
		id, RunStatusProcessing, startedAt, RunStatusPending,
	)
	run, err := scanRun(row)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("recon: claim run: %w", err)
	}

	// Nothing claimed: distinguish a missing run from one already claimed.
	var status string
	err = r.db.QueryRow(ctx,
		`SELECT status FROM recon_runs WHERE id = $1 AND deleted_at IS NULL`, id,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("recon: claim run: %w", err)
	}
	return nil, ErrRunNotPending
}

func (r *repository) CompleteRun(ctx context.Context, id uuid.UUID, summary RunSummary, completedAt time.Time, processingMs int64) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("recon: marshal summary: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		UPDATE recon_runs
		SET status = $2, summary = $3, completed_at = $4, processing_time_ms = $5, updated_at = $4
		WHERE id = $1`,
		id, RunStatusCompleted, payload, completedAt, processingMs,
	)
	if err != nil {
		return fmt.Errorf("recon: complete run: %w", err)
	}
	return nil
}

func (r *repository) FailRun(ctx context.Context, id uuid.UUID, errorMessage string, completedAt time.Time, processingMs int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE recon_runs
		SET status = $2, error_message = $3, completed_at = $4, processing_time_ms = $5, updated_at = $4
		WHERE id = $1`,
		id, RunStatusFailed, errorMessage, completedAt, processingMs,
	)
	if err != nil {
		return fmt.Errorf("recon: fail run: %w", err)
	}
	return nil
}

func (r *repository) AbortRun(ctx context.Context, id uuid.UUID, errorMessage string, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE recon_runs
		SET status = $2, error_message = $3, completed_at = $4, updated_at = $4,
		    processing_time_ms = (extract(epoch FROM ($4 - started_at)) * 1000)::bigint
		WHERE id = $1 AND status = $5`,
		id, RunStatusFailed, errorMessage, at, RunStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("recon: abort run: %w", err)
	}
	return nil
}

func (r *repository) SoftDeleteRun(ctx context.Context, orgID, id uuid.UUID, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE recon_runs
		SET deleted_at = $3, updated_at = $3
		WHERE id = $1 AND org_id = $2 AND deleted_at IS NULL AND status <> $4`,
		id, orgID, at, RunStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("recon: delete run: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status string
	err = r.db.QueryRow(ctx,
		`SELECT status FROM recon_runs WHERE id = $1 AND org_id = $2 AND deleted_at IS NULL`,
		id, orgID,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrRunNotFound
	}
	if err != nil {
		return fmt.Errorf("recon: delete run: %w", err)
	}
	return ErrRunProcessing
}

const mismatchColumns = `id, run_id, org_id, order_number, machine_code, order_time,
	amount::text, payment_method, mismatch_type, match_score,
	discrepancy_amount::text, sources_data, description, is_resolved,
	resolution_notes, resolved_at, resolved_by, created_at`

// InsertMismatches writes a run's mismatch records in one transaction;
// a completed run never has a partial mismatch set.
func (r *repository) InsertMismatches(ctx context.Context, mismatches []Mismatch) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, m := range mismatches {
			sources, err := json.Marshal(m.SourcesData)
			if err != nil {
				return fmt.Errorf("recon: marshal sources data: %w", err)
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO recon_mismatches (
					id, run_id, org_id, order_number, machine_code, order_time,
					amount, payment_method, mismatch_type, match_score,
					discrepancy_amount, sources_data, description, is_resolved, created_at
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,false,$14)`,
				m.ID, m.RunID, m.OrgID, m.OrderNumber, m.MachineCode, m.OrderTime,
				m.Amount.String(), m.PaymentMethod, m.Type, m.MatchScore,
				m.DiscrepancyAmount.String(), sources, m.Description, m.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("recon: insert mismatch: %w", err)
			}
		}
		return nil
	})
}

func (r *repository) ListMismatches(ctx context.Context, q ListMismatchesQuery) ([]Mismatch, int, error) {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	var mtype *string
	if q.Type != nil {
		t := string(*q.Type)
		mtype = &t
	}

	var total int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM recon_mismatches
		WHERE org_id = $1 AND run_id = $2
		  AND ($3::text IS NULL OR mismatch_type = $3)
		  AND ($4::boolean IS NULL OR is_resolved = $4)`,
		q.OrgID, q.RunID, mtype, q.Resolved,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("recon: count mismatches: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+mismatchColumns+`
		FROM recon_mismatches
		WHERE org_id = $1 AND run_id = $2
		  AND ($3::text IS NULL OR mismatch_type = $3)
		  AND ($4::boolean IS NULL OR is_resolved = $4)
		ORDER BY order_time, machine_code
		LIMIT $5 OFFSET $6`,
		q.OrgID, q.RunID, mtype, q.Resolved, q.Limit, (q.Page-1)*q.Limit,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("recon: list mismatches: %w", err)
	}
	defer rows.Close()

	var mismatches []Mismatch
	for rows.Next() {
		m, err := scanMismatch(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("recon: scan mismatch: %w", err)
		}
		mismatches = append(mismatches, *m)
	}
	return mismatches, total, rows.Err()
}

func (r *repository) ResolveMismatch(ctx context.Context, in ResolveInput, at time.Time) (*Mismatch, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE recon_mismatches
		SET is_resolved = true, resolution_notes = $3, resolved_at = $4, resolved_by = $5
		WHERE id = $1 AND org_id = $2 AND is_resolved = false
		RETURNING `+mismatchColumns,
		in.MismatchID, in.OrgID, in.Notes, at, in.ResolvedBy,
	)
	m, err := scanMismatch(row)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("recon: resolve mismatch: %w", err)
	}

	var resolved bool
	err = r.db.QueryRow(ctx,
		`SELECT is_resolved FROM recon_mismatches WHERE id = $1 AND org_id = $2`,
		in.MismatchID, in.OrgID,
	).Scan(&resolved)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMismatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("recon: resolve mismatch: %w", err)
	}
	return nil, ErrAlreadyResolved
}

func (r *repository) InsertImportBatch(ctx context.Context, batch *ImportBatch) error {
	rowErrors, err := json.Marshal(batch.Errors)
	if err != nil {
		return fmt.Errorf("recon: marshal batch errors: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO recon_import_batches (
			id, org_id, source, filename, imported_count, skipped_count,
			errors, created_by, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		batch.ID, batch.OrgID, batch.Source, batch.Filename,
		batch.ImportedCount, batch.SkippedCount, rowErrors,
		batch.CreatedBy, batch.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recon: insert import batch: %w", err)
	}
	return nil
}

func (r *repository) FinalizeImportBatch(ctx context.Context, batch *ImportBatch) error {
	rowErrors, err := json.Marshal(batch.Errors)
	if err != nil {
		return fmt.Errorf("recon: marshal batch errors: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		UPDATE recon_import_batches
		SET imported_count = $2, skipped_count = $3, errors = $4
		WHERE id = $1`,
		batch.ID, batch.ImportedCount, batch.SkippedCount, rowErrors,
	)
	if err != nil {
		return fmt.Errorf("recon: finalize import batch: %w", err)
	}
	return nil
}

func (r *repository) InsertHardwareSale(ctx context.Context, sale *HardwareSaleRecord) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO hardware_sales (
			id, org_id, machine_code, sold_at, amount, payment_method,
			order_number, product_code, quantity, import_batch_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		sale.ID, sale.OrgID, sale.MachineCode, sale.SoldAt, sale.Amount.String(),
		sale.PaymentMethod, sale.OrderNumber, sale.ProductCode, sale.Quantity,
		sale.ImportBatchID, sale.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateSale
		}
		return fmt.Errorf("recon: insert hardware sale: %w", err)
	}
	return nil
}

func (r *repository) ListHardwareSales(ctx context.Context, orgID uuid.UUID, from, to time.Time, machineIDs []string) ([]HardwareSaleRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, org_id, machine_code, sold_at, amount::text, payment_method,
		       order_number, product_code, quantity, import_batch_id, created_at
		FROM hardware_sales
		WHERE org_id = $1
		  AND sold_at >= $2 AND sold_at < $3 + interval '1 day'
		  AND (cardinality($4::text[]) = 0 OR machine_code = ANY($4))
		ORDER BY machine_code, sold_at`,
		orgID, from, to, emptyIfNil(machineIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("recon: list hardware sales: %w", err)
	}
	defer rows.Close()

	var sales []HardwareSaleRecord
	for rows.Next() {
		var s HardwareSaleRecord
		var amount string
		if err := rows.Scan(
			&s.ID, &s.OrgID, &s.MachineCode, &s.SoldAt, &amount, &s.PaymentMethod,
			&s.OrderNumber, &s.ProductCode, &s.Quantity, &s.ImportBatchID, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("recon: scan hardware sale: %w", err)
		}
		if s.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("recon: parse sale amount: %w", err)
		}
		sales = append(sales, s)
	}
	return sales, rows.Err()
}

func (r *repository) ListPaymentTransactions(ctx context.Context, orgID uuid.UUID, providers []string, from, to time.Time, machineIDs []string) ([]PaymentTransaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, org_id, provider, machine_code, amount::text, transacted_at,
		       order_number, status
		FROM payment_transactions
		WHERE org_id = $1
		  AND provider = ANY($2)
		  AND transacted_at >= $3 AND transacted_at < $4 + interval '1 day'
		  AND (cardinality($5::text[]) = 0 OR machine_code = ANY($5))
		ORDER BY machine_code, transacted_at`,
		orgID, providers, from, to, emptyIfNil(machineIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("recon: list payment transactions: %w", err)
	}
	defer rows.Close()

	var txs []PaymentTransaction
	for rows.Next() {
		var t PaymentTransaction
		var amount string
		if err := rows.Scan(
			&t.ID, &t.OrgID, &t.Provider, &t.MachineCode, &amount,
			&t.TransactedAt, &t.OrderNumber, &t.Status,
		); err != nil {
			return nil, fmt.Errorf("recon: scan payment transaction: %w", err)
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("recon: parse transaction amount: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func scanRun(row pgx.Row) (*ReconciliationRun, error) {
	var run ReconciliationRun
	var amountTolerance string
	var summary []byte
	err := row.Scan(
		&run.ID, &run.OrgID, &run.Status, &run.DateFrom, &run.DateTo,
		&run.Sources, &run.MachineIDs, &run.TimeTolerance, &amountTolerance,
		&run.StartedAt, &run.CompletedAt, &run.ProcessingTimeMs, &summary,
		&run.ErrorMessage, &run.CreatedBy, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if run.AmountTolerance, err = decimal.NewFromString(amountTolerance); err != nil {
		return nil, fmt.Errorf("parse amount tolerance: %w", err)
	}
	if len(summary) > 0 {
		var s RunSummary
		if err := json.Unmarshal(summary, &s); err != nil {
			return nil, fmt.Errorf("unmarshal summary: %w", err)
		}
		run.Summary = &s
	}
	return &run, nil
}

func scanMismatch(row pgx.Row) (*Mismatch, error) {
	var m Mismatch
	var amount, discrepancy string
	var sources []byte
	err := row.Scan(
		&m.ID, &m.RunID, &m.OrgID, &m.OrderNumber, &m.MachineCode, &m.OrderTime,
		&amount, &m.PaymentMethod, &m.Type, &m.MatchScore, &discrepancy,
		&sources, &m.Description, &m.IsResolved, &m.ResolutionNotes,
		&m.ResolvedAt, &m.ResolvedBy, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if m.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if m.DiscrepancyAmount, err = decimal.NewFromString(discrepancy); err != nil {
		return nil, fmt.Errorf("parse discrepancy amount: %w", err)
	}
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &m.SourcesData); err != nil {
			return nil, fmt.Errorf("unmarshal sources data: %w", err)
		}
	}
	return &m, nil
}

func emptyIfNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
