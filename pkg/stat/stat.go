// Package stat provides the two statistical surfaces SPEC_FULL.md's domain
// stack names for gonum.org/v1/gonum/stat: plain-float batch diagnostics
// (used by the aggregator to summarise a scenario batch) and the
// AD-transparent array reductions the script language's `.mean()`/`.std()`
// method calls need, which must stay on the ad.Scalar abstraction so a
// differentiated run keeps tape lineage through them.
package stat

import (
	"math"

	"github.com/aristath/derivscript/internal/ad"
	gonumstat "gonum.org/v1/gonum/stat"
)

// BatchMean and BatchStdDev operate on plain float64 batches: one scenario
// value per path. They back the aggregator's diagnostic summaries (batch
// mean/stddev of a priced quantity across scenarios, reported alongside
// the expected value) rather than the script-level array intrinsics.
func BatchMean(xs []float64) float64 {
	return gonumstat.Mean(xs, nil)
}

// BatchStdDev returns the population standard deviation of xs (divisor N,
// matching the script language's array .std() convention rather than
// gonum's default sample statistics).
func BatchStdDev(xs []float64) float64 {
	_, variance := gonumstat.PopMeanVariance(xs, nil)
	return math.Sqrt(variance)
}

// Mean reduces a Scalar array to its arithmetic mean, preserving tape
// lineage when any element is an ad.Var (spec §4.6/§4.7 array `.mean()`).
func Mean(xs []ad.Scalar) ad.Scalar {
	if len(xs) == 0 {
		return ad.Double(0)
	}
	sum := xs[0]
	for _, x := range xs[1:] {
		sum = ad.CombineAdd(sum, x)
	}
	return sum.Div(ad.ScalarOf(float64(len(xs))))
}

// StdDev returns the population standard deviation of xs (divisor N,
// matching spec §8 scenario 5: `[1,2,3].std() == sqrt(2/3)`), preserving
// tape lineage the same way Mean does.
func StdDev(xs []ad.Scalar) ad.Scalar {
	if len(xs) == 0 {
		return ad.Double(0)
	}
	mean := Mean(xs)
	sumSq := mean.Sub(mean) // zero of the same concrete type as mean
	for _, x := range xs {
		d := ad.CombineSub(x, mean)
		sumSq = ad.CombineAdd(sumSq, d.Mul(d))
	}
	variance := sumSq.Div(ad.ScalarOf(float64(len(xs))))
	return variance.Sqrt()
}
