package recon

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func classifierRun() *ReconciliationRun {
	return &ReconciliationRun{ID: uuid.New(), OrgID: testOrg}
}

func normRec(provider string, amount int64, order string) *NormalizedRecord {
	return &NormalizedRecord{
		MachineCode: "VM-1",
		Timestamp:   time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC),
		Amount:      decimal.NewFromInt(amount),
		OrderNumber: order,
		Provider:    provider,
	}
}

func TestBuildMismatchesAmountMismatch(t *testing.T) {
	run := classifierRun()
	now := time.Date(2025, 2, 11, 8, 0, 0, 0, time.UTC)
	score := 0.95

	out := BuildMismatches(run, []Discrepancy{{
		Type:     MismatchAmount,
		Hardware: normRec(SourceHardware, 100000, "ORD-1"),
		Payment:  normRec("payme", 95000, "ORD-1"),
		Delta:    decimal.NewFromInt(5000),
		Score:    score,
	}}, now)

	require.Len(t, out, 1)
	m := out[0]
	assert.Equal(t, run.ID, m.RunID)
	assert.Equal(t, run.OrgID, m.OrgID)
	assert.Equal(t, MismatchAmount, m.Type)
	assert.Equal(t, now, m.CreatedAt)
	assert.False(t, m.IsResolved)

	// Hardware side takes field precedence when both records exist.
	assert.Equal(t, "VM-1", m.MachineCode)
	assert.Equal(t, "ORD-1", m.OrderNumber)
	assert.True(t, m.Amount.Equal(decimal.NewFromInt(100000)))
	assert.True(t, m.DiscrepancyAmount.Equal(decimal.NewFromInt(5000)))

	require.NotNil(t, m.MatchScore)
	assert.InDelta(t, score, *m.MatchScore, 1e-9)
	assert.Contains(t, m.Description, "amount differs")
	assert.Contains(t, m.Description, "payme")

	require.NotNil(t, m.SourcesData.Hardware)
	require.NotNil(t, m.SourcesData.Payment)
	assert.True(t, m.SourcesData.Payment.Amount.Equal(decimal.NewFromInt(95000)))
}

func TestBuildMismatchesPaymentNotFound(t *testing.T) {
	out := BuildMismatches(classifierRun(), []Discrepancy{{
		Type:     MismatchPaymentNotFound,
		Hardware: normRec(SourceHardware, 7000, ""),
		Delta:    decimal.NewFromInt(7000),
	}}, time.Now().UTC())

	require.Len(t, out, 1)
	m := out[0]
	assert.Nil(t, m.MatchScore)
	assert.True(t, m.DiscrepancyAmount.Equal(decimal.NewFromInt(7000)))
	assert.Contains(t, m.Description, "no payment found")
	assert.NotNil(t, m.SourcesData.Hardware)
	assert.Nil(t, m.SourcesData.Payment)
}

func TestBuildMismatchesOrderNotFound(t *testing.T) {
	out := BuildMismatches(classifierRun(), []Discrepancy{{
		Type:    MismatchOrderNotFound,
		Payment: normRec("click", 4500, "ORD-9"),
		Delta:   decimal.NewFromInt(4500),
	}}, time.Now().UTC())

	require.Len(t, out, 1)
	m := out[0]
	assert.Nil(t, m.MatchScore)

	// Payment fields fill in when there is no hardware side.
	assert.Equal(t, "VM-1", m.MachineCode)
	assert.Equal(t, "ORD-9", m.OrderNumber)
	assert.True(t, m.Amount.Equal(decimal.NewFromInt(4500)))
	assert.Contains(t, m.Description, "no hardware sale found")
	assert.Contains(t, m.Description, "click")
	assert.Nil(t, m.SourcesData.Hardware)
	assert.NotNil(t, m.SourcesData.Payment)
}

func TestBuildMismatchesDistinctIDs(t *testing.T) {
	out := BuildMismatches(classifierRun(), []Discrepancy{
		{Type: MismatchPaymentNotFound, Hardware: normRec(SourceHardware, 100, "")},
		{Type: MismatchPaymentNotFound, Hardware: normRec(SourceHardware, 200, "")},
	}, time.Now().UTC())

	require.Len(t, out, 2)
	assert.NotEqual(t, out[0].ID, out[1].ID)
}
