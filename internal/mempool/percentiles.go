package mempool

import "github.com/holiman/uint256"

// Percentiles picks p25/p50/p75/p90 out of an ascending-sorted fee list using
// floor indices (len*k/100). An empty list yields all zeros.
func Percentiles(sorted []uint256.Int) FeePercentiles {
	if len(sorted) == 0 {
		return FeePercentiles{}
	}
	n := len(sorted)
	return FeePercentiles{
		P25: sorted[n*25/100],
		P50: sorted[n*50/100],
		P75: sorted[n*75/100],
		P90: sorted[n*90/100],
	}
}

func (p FeePercentiles) IsZero() bool {
	return p.P25.IsZero() && p.P50.IsZero() && p.P75.IsZero() && p.P90.IsZero()
}
