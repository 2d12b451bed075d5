package recon

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// MatchOptions configures one matching pass.
type MatchOptions struct {
	// TimeTolerance is the maximum timestamp distance between a hardware
	// sale and a payment candidate. Whole seconds.
	TimeTolerance time.Duration
	// AmountTolerance is a fraction of the larger amount; pairs whose
	// amount delta stays within it are considered the same transaction.
	AmountTolerance decimal.Decimal
	// IncludeUnreferencedPayments classifies unmatched payments lacking
	// an order reference as order_not_found instead of dropping them
	// from reporting and totals.
	IncludeUnreferencedPayments bool
	// Workers bounds per-machine parallelism. Values <= 1 run sequentially.
	Workers int
}

// MatchedPair is a hardware sale paired with its payment within tolerance.
type MatchedPair struct {
	Hardware NormalizedRecord
	Payment  NormalizedRecord
}

// Discrepancy is a matcher outcome that did not reconcile.
type Discrepancy struct {
	Type     MismatchType
	Hardware *NormalizedRecord
	Payment  *NormalizedRecord
	// Delta and Score are populated only for amount_mismatch.
	Delta decimal.Decimal
	Score float64
}

// MatchResult is the full outcome of a matching pass. Pairs and
// Discrepancies are disjoint; every hardware record lands in exactly one.
type MatchResult struct {
	Pairs         []MatchedPair
	Discrepancies []Discrepancy
}

// Match pairs hardware sales against payment transactions. Matching
// never crosses machines, so both sides are partitioned by machine code
// and each partition is scanned independently; the merged output is
// deterministic regardless of Workers.
func Match(ctx context.Context, hardware, payments []NormalizedRecord, opts MatchOptions) (MatchResult, error) {
	hwByMachine := partition(hardware)
	payByMachine := partition(payments)

	machines := make([]string, 0, len(hwByMachine)+len(payByMachine))
	seen := make(map[string]struct{}, len(hwByMachine))
	for code := range hwByMachine {
		machines = append(machines, code)
		seen[code] = struct{}{}
	}
	for code := range payByMachine {
		if _, ok := seen[code]; !ok {
			machines = append(machines, code)
		}
	}
	sort.Strings(machines)

	partial := make([]MatchResult, len(machines))
	if opts.Workers > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Workers)
		for i, code := range machines {
			i, code := i, code
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				partial[i] = matchMachine(hwByMachine[code], payByMachine[code], opts)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return MatchResult{}, err
		}
	} else {
		for i, code := range machines {
			if err := ctx.Err(); err != nil {
				return MatchResult{}, err
			}
			partial[i] = matchMachine(hwByMachine[code], payByMachine[code], opts)
		}
	}

	var out MatchResult
	for _, p := range partial {
		out.Pairs = append(out.Pairs, p.Pairs...)
		out.Discrepancies = append(out.Discrepancies, p.Discrepancies...)
	}
	return out, nil
}

// matchMachine runs the windowed scan for a single machine partition.
// Both sides are sorted by timestamp; for each hardware record the
// candidate window is the payments within TimeTolerance, and the best
// candidate wins by smallest time delta, then smallest amount delta.
// Each payment is consumed at most once.
func matchMachine(hardware, payments []NormalizedRecord, opts MatchOptions) MatchResult {
	hw := sortedByTime(hardware)
	pay := sortedByTime(payments)

	var res MatchResult
	used := make([]bool, len(pay))
	lo := 0
	for i := range hw {
		h := &hw[i]
		windowStart := h.Timestamp.Add(-opts.TimeTolerance)
		windowEnd := h.Timestamp.Add(opts.TimeTolerance)
		for lo < len(pay) && pay[lo].Timestamp.Before(windowStart) {
			lo++
		}

		best := -1
		var bestDT time.Duration
		var bestDA decimal.Decimal
		for j := lo; j < len(pay); j++ {
			if pay[j].Timestamp.After(windowEnd) {
				break
			}
			if used[j] {
				continue
			}
			// When both sides carry an order number, they must agree.
			if h.OrderNumber != "" && pay[j].OrderNumber != "" && h.OrderNumber != pay[j].OrderNumber {
				continue
			}
			dt := absDuration(pay[j].Timestamp.Sub(h.Timestamp))
			da := h.Amount.Sub(pay[j].Amount).Abs()
			if best == -1 || dt < bestDT || (dt == bestDT && da.LessThan(bestDA)) {
				best, bestDT, bestDA = j, dt, da
			}
		}

		if best == -1 {
			res.Discrepancies = append(res.Discrepancies, Discrepancy{
				Type:     MismatchPaymentNotFound,
				Hardware: h,
			})
			continue
		}

		used[best] = true
		p := &pay[best]
		larger := decimal.Max(h.Amount, p.Amount)
		delta := h.Amount.Sub(p.Amount).Abs()
		if delta.LessThanOrEqual(opts.AmountTolerance.Mul(larger)) {
			res.Pairs = append(res.Pairs, MatchedPair{Hardware: *h, Payment: *p})
			continue
		}
		res.Discrepancies = append(res.Discrepancies, Discrepancy{
			Type:     MismatchAmount,
			Hardware: h,
			Payment:  p,
			Delta:    delta,
			Score:    matchScore(delta, larger),
		})
	}

	for j := range pay {
		if used[j] {
			continue
		}
		// A payment without an order reference asserts nothing the
		// hardware side can contradict; it is reported only on request.
		if pay[j].OrderNumber == "" && !opts.IncludeUnreferencedPayments {
			continue
		}
		res.Discrepancies = append(res.Discrepancies, Discrepancy{
			Type:    MismatchOrderNotFound,
			Payment: &pay[j],
		})
	}
	return res
}

// matchScore is 1 - delta/larger clamped to [0,1].
func matchScore(delta, larger decimal.Decimal) float64 {
	if larger.IsZero() {
		return 0
	}
	score, _ := decimal.NewFromInt(1).Sub(delta.Div(larger)).Float64()
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func partition(records []NormalizedRecord) map[string][]NormalizedRecord {
	out := make(map[string][]NormalizedRecord)
	for _, rec := range records {
		out[rec.MachineCode] = append(out[rec.MachineCode], rec)
	}
	return out
}

// sortedByTime copies and orders records by timestamp; order number keeps
// ties deterministic.
func sortedByTime(records []NormalizedRecord) []NormalizedRecord {
	out := make([]NormalizedRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].OrderNumber < out[j].OrderNumber
	})
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
