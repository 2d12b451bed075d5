package recon

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBase = time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC)

func hwRec(machine string, offset time.Duration, amount int64, order string) NormalizedRecord {
	return NormalizedRecord{
		MachineCode: machine,
		Timestamp:   testBase.Add(offset),
		Amount:      decimal.NewFromInt(amount),
		OrderNumber: order,
		Provider:    SourceHardware,
	}
}

func payRec(machine string, offset time.Duration, amount int64, order string) NormalizedRecord {
	return NormalizedRecord{
		MachineCode: machine,
		Timestamp:   testBase.Add(offset),
		Amount:      decimal.NewFromInt(amount),
		OrderNumber: order,
		Provider:    "click",
	}
}

func defaultOpts() MatchOptions {
	return MatchOptions{
		TimeTolerance:   300 * time.Second,
		AmountTolerance: decimal.RequireFromString("0.01"),
	}
}

func TestMatchPairsWithinTolerance(t *testing.T) {
	hw := []NormalizedRecord{hwRec("VM-1", 0, 10000, "")}
	pay := []NormalizedRecord{payRec("VM-1", 90*time.Second, 10000, "")}

	res, err := Match(context.Background(), hw, pay, defaultOpts())
	require.NoError(t, err)
	require.Len(t, res.Pairs, 1)
	assert.Empty(t, res.Discrepancies)
}

func TestMatchAmountOutsideTolerance(t *testing.T) {
	hw := []NormalizedRecord{hwRec("VM-1", 0, 100000, "")}
	pay := []NormalizedRecord{payRec("VM-1", 30*time.Second, 95000, "")}

	res, err := Match(context.Background(), hw, pay, defaultOpts())
	require.NoError(t, err)
	assert.Empty(t, res.Pairs)
	require.Len(t, res.Discrepancies, 1)

	d := res.Discrepancies[0]
	assert.Equal(t, MismatchAmount, d.Type)
	assert.True(t, d.Delta.Equal(decimal.NewFromInt(5000)), "delta: %s", d.Delta)
	assert.InDelta(t, 0.95, d.Score, 0.0001)
}

func TestMatchPaymentNotFound(t *testing.T) {
	hw := []NormalizedRecord{hwRec("VM-1", 0, 5000, "")}
	pay := []NormalizedRecord{payRec("VM-1", 6*time.Minute, 5000, "")}

	res, err := Match(context.Background(), hw, pay, defaultOpts())
	require.NoError(t, err)
	assert.Empty(t, res.Pairs)

	types := mismatchTypes(res)
	assert.Contains(t, types, MismatchPaymentNotFound)
	// The payment carries no order reference, so it is not reported.
	assert.NotContains(t, types, MismatchOrderNotFound)
}

func TestMatchOrderNotFound(t *testing.T) {
	pay := []NormalizedRecord{payRec("VM-1", 0, 5000, "ORD-9")}

	res, err := Match(context.Background(), nil, pay, defaultOpts())
	require.NoError(t, err)
	require.Len(t, res.Discrepancies, 1)
	assert.Equal(t, MismatchOrderNotFound, res.Discrepancies[0].Type)
}

func TestMatchUnreferencedPaymentIncludedOnRequest(t *testing.T) {
	pay := []NormalizedRecord{payRec("VM-1", 0, 5000, "")}

	opts := defaultOpts()
	res, err := Match(context.Background(), nil, pay, opts)
	require.NoError(t, err)
	assert.Empty(t, res.Discrepancies)

	opts.IncludeUnreferencedPayments = true
	res, err = Match(context.Background(), nil, pay, opts)
	require.NoError(t, err)
	require.Len(t, res.Discrepancies, 1)
	assert.Equal(t, MismatchOrderNotFound, res.Discrepancies[0].Type)
}

func TestMatchOrderNumberMustAgree(t *testing.T) {
	hw := []NormalizedRecord{hwRec("VM-1", 0, 5000, "ORD-1")}
	pay := []NormalizedRecord{payRec("VM-1", 10*time.Second, 5000, "ORD-2")}

	res, err := Match(context.Background(), hw, pay, defaultOpts())
	require.NoError(t, err)
	assert.Empty(t, res.Pairs)

	types := mismatchTypes(res)
	assert.Contains(t, types, MismatchPaymentNotFound)
	assert.Contains(t, types, MismatchOrderNotFound)
}

func TestMatchPrefersSmallestTimeDelta(t *testing.T) {
	hw := []NormalizedRecord{hwRec("VM-1", 0, 5000, "")}
	pay := []NormalizedRecord{
		payRec("VM-1", -200*time.Second, 5000, ""),
		payRec("VM-1", 20*time.Second, 4000, ""),
	}

	res, err := Match(context.Background(), hw, pay, MatchOptions{
		TimeTolerance:   300 * time.Second,
		AmountTolerance: decimal.RequireFromString("0.5"),
	})
	require.NoError(t, err)
	require.Len(t, res.Pairs, 1)
	// The 20s-away candidate wins despite the worse amount.
	assert.True(t, res.Pairs[0].Payment.Amount.Equal(decimal.NewFromInt(4000)))
}

func TestMatchBreaksTimeTiesByAmount(t *testing.T) {
	hw := []NormalizedRecord{hwRec("VM-1", 0, 5000, "")}
	pay := []NormalizedRecord{
		payRec("VM-1", 60*time.Second, 4900, ""),
		payRec("VM-1", -60*time.Second, 5000, ""),
	}

	res, err := Match(context.Background(), hw, pay, defaultOpts())
	require.NoError(t, err)
	require.Len(t, res.Pairs, 1)
	assert.True(t, res.Pairs[0].Payment.Amount.Equal(decimal.NewFromInt(5000)))
}

func TestMatchConsumesPaymentOnce(t *testing.T) {
	hw := []NormalizedRecord{
		hwRec("VM-1", 0, 5000, ""),
		hwRec("VM-1", 30*time.Second, 5000, ""),
	}
	pay := []NormalizedRecord{payRec("VM-1", 10*time.Second, 5000, "")}

	res, err := Match(context.Background(), hw, pay, defaultOpts())
	require.NoError(t, err)
	assert.Len(t, res.Pairs, 1)
	require.Len(t, res.Discrepancies, 1)
	assert.Equal(t, MismatchPaymentNotFound, res.Discrepancies[0].Type)
}

func TestMatchNeverCrossesMachines(t *testing.T) {
	hw := []NormalizedRecord{hwRec("VM-1", 0, 5000, "")}
	pay := []NormalizedRecord{payRec("VM-2", 0, 5000, "")}

	res, err := Match(context.Background(), hw, pay, defaultOpts())
	require.NoError(t, err)
	assert.Empty(t, res.Pairs)
	require.Len(t, res.Discrepancies, 1)
	assert.Equal(t, MismatchPaymentNotFound, res.Discrepancies[0].Type)
}

func TestMatchParallelMatchesSequential(t *testing.T) {
	var hw, pay []NormalizedRecord
	machines := []string{"VM-1", "VM-2", "VM-3", "VM-4"}
	for i := 0; i < 200; i++ {
		machine := machines[i%len(machines)]
		offset := time.Duration(i) * 37 * time.Second
		hw = append(hw, hwRec(machine, offset, int64(1000+i), ""))
		if i%7 != 0 {
			pay = append(pay, payRec(machine, offset+15*time.Second, int64(1000+i), ""))
		}
	}

	seq, err := Match(context.Background(), hw, pay, defaultOpts())
	require.NoError(t, err)

	opts := defaultOpts()
	opts.Workers = 4
	par, err := Match(context.Background(), hw, pay, opts)
	require.NoError(t, err)

	assert.Equal(t, seq, par)
}

func TestMatchSummaryExample(t *testing.T) {
	// 150 hardware records, 145 matching payments within tolerance and 5
	// with amounts outside tolerance.
	var hw, pay []NormalizedRecord
	for i := 0; i < 150; i++ {
		offset := time.Duration(i) * 20 * time.Minute
		hw = append(hw, hwRec("VM-1", offset, 10000, ""))
		amount := int64(10000)
		if i < 5 {
			amount = 7000
		}
		pay = append(pay, payRec("VM-1", offset+time.Minute, amount, ""))
	}

	res, err := Match(context.Background(), hw, pay, defaultOpts())
	require.NoError(t, err)

	s := Summarize(res)
	assert.Equal(t, 150, s.TotalRecords)
	assert.Equal(t, 145, s.Matched)
	assert.Equal(t, 5, s.Mismatched)
	assert.Equal(t, 0, s.Missing)
	assert.InDelta(t, 96.67, s.MatchRate, 0.001)
}

func mismatchTypes(res MatchResult) []MismatchType {
	types := make([]MismatchType, 0, len(res.Discrepancies))
	for _, d := range res.Discrepancies {
		types = append(types, d.Type)
	}
	return types
}
