// Package noise draws the differentially private slack that is added to the
// padded size of an OKVS, so that the published encoding length does not
// reveal the exact number of real bins.
package noise

import (
	"math"

	"github.com/google/differential-privacy/go/v2/rand"
)

// GeomDistribution samples a geometric distribution with success
// probability p = 1 - e^-λ.
type GeomDistribution struct {
	lambda float64
}

// NewGeomDistribution returns a sampler with parameter lambda. A larger
// lambda means less noise.
func NewGeomDistribution(lambda float64) *GeomDistribution {
	return &GeomDistribution{
		lambda: lambda,
	}
}

// geometric is the geometric sampler of google-dp's Laplace mechanism
// (go/v2/noise/laplace_noise.go), kept as is and fed by its rand package. It
// returns the number of Bernoulli trials until the first success, truncated
// to the max int64 value.
func (geom *GeomDistribution) geometric() int64 {
	if rand.Uniform() > -1.0*math.Expm1(-1.0*geom.lambda*math.MaxInt64) {
		return math.MaxInt64
	}

	// Binary search over (left, right]: each step keeps the subinterval that
	// holds the sample, split close to the median of the remaining mass.
	var left int64 = 0
	var right int64 = math.MaxInt64

	for left+1 < right {
		mid := left - int64(math.Floor((math.Log(0.5)+math.Log1p(math.Exp(geom.lambda*float64(left-right))))/geom.lambda))
		// finite precision can push mid out of the interval
		if mid <= left {
			mid = left + 1
		} else if mid >= right {
			mid = right - 1
		}

		// q = Pr[X ≤ mid | left < X ≤ right]
		q := math.Expm1(geom.lambda*float64(left-mid)) / math.Expm1(geom.lambda*float64(left-right))
		if rand.Uniform() <= q {
			right = mid
		} else {
			left = mid
		}
	}
	return right
}

// Slack returns a non-negative padding increment, bounded by limit. Padding
// can only grow an encoding, so the one-sided distribution is used.
func (geom *GeomDistribution) Slack(limit int) int {
	if geom.lambda <= 0 || limit <= 0 {
		return 0
	}
	s := geom.geometric() - 1
	if s > int64(limit) {
		return limit
	}
	return int(s)
}
