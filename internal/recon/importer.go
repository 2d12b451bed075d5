package recon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Importer bulk-loads externally supplied hardware sale rows into the
// comparison pool, independent of any run. Ingestion only appends, so it
// is safe to run concurrently with run execution.
type Importer struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewImporter constructs an Importer.
func NewImporter(repo Repository, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ImportSales validates and inserts rows one by one. A row failing
// validation (or duplicating an existing sale) is skipped and recorded in
// the batch errors; the batch itself still succeeds with partial counts.
// One malformed row in a 500-row spreadsheet must not discard the other 499.
func (im *Importer) ImportSales(ctx context.Context, in ImportInput) (*ImportBatch, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := im.now()
	batch := &ImportBatch{
		ID:        uuid.New(),
		OrgID:     in.OrgID,
		Source:    in.Source,
		Errors:    append([]ImportRowError(nil), in.Rejected...),
		CreatedBy: in.ActorID,
		CreatedAt: now,
	}
	if in.Filename != "" {
		name := in.Filename
		batch.Filename = &name
	}
	batch.SkippedCount = len(in.Rejected)

	// The batch row goes in before any sale row so an inserted sale never
	// references a batch that does not exist; counts are written once the
	// rows have been attempted.
	if err := im.repo.InsertImportBatch(ctx, batch); err != nil {
		return nil, err
	}

	for i, row := range in.Rows {
		rowNum := i + 1
		if msg := validateImportRow(row); msg != "" {
			batch.SkippedCount++
			batch.Errors = append(batch.Errors, ImportRowError{Row: rowNum, Message: msg})
			continue
		}

		quantity := row.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		sale := &HardwareSaleRecord{
			ID:            uuid.New(),
			OrgID:         in.OrgID,
			MachineCode:   strings.TrimSpace(row.MachineCode),
			SoldAt:        row.SoldAt.UTC(),
			Amount:        row.Amount,
			PaymentMethod: row.PaymentMethod,
			OrderNumber:   row.OrderNumber,
			ProductCode:   row.ProductCode,
			Quantity:      quantity,
			ImportBatchID: batch.ID,
			CreatedAt:     now,
		}
		if err := im.repo.InsertHardwareSale(ctx, sale); err != nil {
			if errors.Is(err, ErrDuplicateSale) {
				batch.SkippedCount++
				batch.Errors = append(batch.Errors, ImportRowError{Row: rowNum, Message: "duplicate sale"})
				continue
			}
			return nil, fmt.Errorf("recon: import row %d: %w", rowNum, err)
		}
		batch.ImportedCount++
	}

	if err := im.repo.FinalizeImportBatch(ctx, batch); err != nil {
		return nil, err
	}

	im.logger.Info("sales import finished",
		slog.String("batch_id", batch.ID.String()),
		slog.String("source", string(batch.Source)),
		slog.Int("imported", batch.ImportedCount),
		slog.Int("skipped", batch.SkippedCount),
	)
	return batch, nil
}

func validateImportRow(row ImportRow) string {
	if strings.TrimSpace(row.MachineCode) == "" {
		return "machine code required"
	}
	if row.SoldAt.IsZero() {
		return "sale timestamp required"
	}
	if !row.Amount.IsPositive() {
		return "amount must be positive"
	}
	return ""
}
