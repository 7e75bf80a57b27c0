package detect

import (
	"math"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/pvzzle/censorwatch/internal/mempool"
)

const (
	// blocksForFullTimeScore is the wait after which the time component of the
	// score saturates at 1.0.
	blocksForFullTimeScore = 10.0
	confidenceWeight       = 0.5
)

// FeeRatio returns fee/threshold computed on rationals. A zero threshold
// yields 0.
func FeeRatio(fee, threshold *uint256.Int) float64 {
	if threshold.IsZero() {
		return 0
	}
	r := new(big.Rat).SetFrac(fee.ToBig(), threshold.ToBig())
	f, _ := r.Float64()
	return f
}

func TimeScore(blocksWaited uint64) float64 {
	return math.Min(float64(blocksWaited)/blocksForFullTimeScore, 1.0)
}

func Confidence(feeRatio float64, blocksWaited uint64) float64 {
	return math.Min(feeRatio*TimeScore(blocksWaited)*confidenceWeight, 1.0)
}

// PercentileBucket returns the highest percentile bucket whose value is at or
// below fee, or 0.10 when fee is below p25.
func PercentileBucket(fee *uint256.Int, p mempool.FeePercentiles) float64 {
	switch {
	case !fee.Lt(&p.P90):
		return 0.90
	case !fee.Lt(&p.P75):
		return 0.75
	case !fee.Lt(&p.P50):
		return 0.50
	case !fee.Lt(&p.P25):
		return 0.25
	default:
		return 0.10
	}
}
