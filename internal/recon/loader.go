package recon

import (
	"context"
	"fmt"
	"time"
)

// Loader fetches and normalizes both comparison sides for a run. It has
// no matching logic; it reduces provider-specific records to the shared
// NormalizedRecord shape so the matcher stays source agnostic. Empty
// result sets are not errors.
type Loader struct {
	repo Repository
}

// NewLoader constructs a Loader.
func NewLoader(repo Repository) *Loader {
	return &Loader{repo: repo}
}

// Load returns the normalized hardware and payment records for the run's
// organization, date window, sources, and machine filter. Timestamps are
// truncated to whole seconds; tolerance math never sees sub-second noise.
func (l *Loader) Load(ctx context.Context, run *ReconciliationRun) (hardware, payments []NormalizedRecord, err error) {
	if run.WantsHardware() {
		sales, err := l.repo.ListHardwareSales(ctx, run.OrgID, run.DateFrom, run.DateTo, run.MachineIDs)
		if err != nil {
			return nil, nil, fmt.Errorf("recon: load hardware side: %w", err)
		}
		hardware = make([]NormalizedRecord, 0, len(sales))
		for _, s := range sales {
			hardware = append(hardware, NormalizedRecord{
				MachineCode:   s.MachineCode,
				Timestamp:     s.SoldAt.Truncate(time.Second),
				Amount:        s.Amount,
				OrderNumber:   s.OrderNumber,
				Provider:      SourceHardware,
				PaymentMethod: s.PaymentMethod,
			})
		}
	}

	providers := run.ProviderSources()
	if len(providers) > 0 {
		txs, err := l.repo.ListPaymentTransactions(ctx, run.OrgID, providers, run.DateFrom, run.DateTo, run.MachineIDs)
		if err != nil {
			return nil, nil, fmt.Errorf("recon: load payment side: %w", err)
		}
		payments = make([]NormalizedRecord, 0, len(txs))
		for _, t := range txs {
			payments = append(payments, NormalizedRecord{
				MachineCode: t.MachineCode,
				Timestamp:   t.TransactedAt.Truncate(time.Second),
				Amount:      t.Amount,
				OrderNumber: t.OrderNumber,
				Provider:    t.Provider,
			})
		}
	}

	return hardware, payments, nil
}
