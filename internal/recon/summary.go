package recon

import "math"

// Summarize computes run-level statistics from a matching pass. The
// counts always satisfy matched + mismatched + missing == total.
func Summarize(result MatchResult) RunSummary {
	s := RunSummary{Matched: len(result.Pairs)}
	for _, d := range result.Discrepancies {
		switch d.Type {
		case MismatchAmount:
			s.Mismatched++
		case MismatchPaymentNotFound, MismatchOrderNotFound:
			s.Missing++
		}
	}
	s.TotalRecords = s.Matched + s.Mismatched + s.Missing
	if s.TotalRecords > 0 {
		s.MatchRate = round2(float64(s.Matched) / float64(s.TotalRecords) * 100)
	}
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
