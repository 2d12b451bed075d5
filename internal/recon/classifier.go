package recon

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BuildMismatches turns matcher discrepancies into persistable Mismatch
// records for a run. Each run's mismatches are independent; records from
// earlier runs sharing an order number are never touched.
func BuildMismatches(run *ReconciliationRun, discrepancies []Discrepancy, now time.Time) []Mismatch {
	out := make([]Mismatch, 0, len(discrepancies))
	for _, d := range discrepancies {
		m := Mismatch{
			ID:        uuid.New(),
			RunID:     run.ID,
			OrgID:     run.OrgID,
			Type:      d.Type,
			CreatedAt: now,
		}

		if d.Hardware != nil {
			hw := *d.Hardware
			m.SourcesData.Hardware = &hw
			m.MachineCode = hw.MachineCode
			m.OrderTime = hw.Timestamp
			m.Amount = hw.Amount
			m.OrderNumber = hw.OrderNumber
			m.PaymentMethod = hw.PaymentMethod
		}
		if d.Payment != nil {
			p := *d.Payment
			m.SourcesData.Payment = &p
			if d.Hardware == nil {
				m.MachineCode = p.MachineCode
				m.OrderTime = p.Timestamp
				m.Amount = p.Amount
				m.OrderNumber = p.OrderNumber
			}
		}

		switch d.Type {
		case MismatchAmount:
			score := d.Score
			m.MatchScore = &score
			m.DiscrepancyAmount = d.Delta
			m.Description = fmt.Sprintf(
				"amount differs: hardware %s vs %s %s (delta %s)",
				d.Hardware.Amount, d.Payment.Provider, d.Payment.Amount, d.Delta,
			)
		case MismatchPaymentNotFound:
			m.DiscrepancyAmount = d.Hardware.Amount
			m.Description = fmt.Sprintf(
				"no payment found for hardware sale on machine %s at %s for %s",
				d.Hardware.MachineCode, d.Hardware.Timestamp.Format(time.RFC3339), d.Hardware.Amount,
			)
		case MismatchOrderNotFound:
			m.DiscrepancyAmount = d.Payment.Amount
			m.Description = fmt.Sprintf(
				"no hardware sale found for %s payment on machine %s at %s for %s",
				d.Payment.Provider, d.Payment.MachineCode, d.Payment.Timestamp.Format(time.RFC3339), d.Payment.Amount,
			)
		}

		out = append(out, m)
	}
	return out
}
