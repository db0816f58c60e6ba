// Package uncertainty propagates factor- and activity-level uncertainty
// into confidence-interval bounds, by closed form where a distribution
// allows it and by Monte-Carlo sampling otherwise.
package uncertainty

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/google/uuid"

	"carbon-scribe/emissions-engine/internal/inventory"
)

// Defaults for the propagation configuration surface.
const (
	DefaultIterations = 10000
	DefaultConfidence = 95
)

// Request describes one propagation. FactorUncertaintyPct and
// ActivityUncertaintyPct are relative percentages combined in quadrature;
// triangular and uniform distributions ignore them and take an explicit
// Range instead.
type Request struct {
	Point                  float64
	FactorUncertaintyPct   float64
	ActivityUncertaintyPct float64
	Distribution           inventory.Distribution
	Range                  *inventory.UncertaintyRange
	Iterations             int
	Confidence             float64

	// Seed, when set, makes sampling deterministic. Derive it with
	// DeriveSeed so repeated runs of the same calculation reproduce
	// bit-identical bounds.
	Seed *Seed
}

// Seed is a deterministic PRNG seed pair.
type Seed struct {
	Hi, Lo uint64
}

// DeriveSeed builds a stable seed from a configured base seed plus the
// calculation and record identity, so per-record sampling is reproducible
// and independent of worker scheduling.
func DeriveSeed(base uint64, calculationID, recordID uuid.UUID) Seed {
	buf := make([]byte, 8, 8+32)
	binary.BigEndian.PutUint64(buf, base)
	buf = append(buf, calculationID[:]...)
	buf = append(buf, recordID[:]...)
	sum := sha256.Sum256(buf)
	return Seed{
		Hi: binary.BigEndian.Uint64(sum[0:8]),
		Lo: binary.BigEndian.Uint64(sum[8:16]),
	}
}

// Propagate computes confidence bounds for a point estimate.
// Zero combined uncertainty short-circuits to the point estimate for both
// bounds without sampling. Result invariant: Lower <= Point <= Upper, and
// both bounds non-negative when the point is.
func Propagate(req Request) (*inventory.UncertaintyResult, error) {
	if math.IsNaN(req.Point) || math.IsInf(req.Point, 0) {
		return nil, fmt.Errorf("invalid point estimate %v", req.Point)
	}
	if req.FactorUncertaintyPct < 0 || req.ActivityUncertaintyPct < 0 {
		return nil, fmt.Errorf("negative uncertainty percentage")
	}

	if req.Iterations <= 0 {
		req.Iterations = DefaultIterations
	}
	if req.Confidence <= 0 {
		req.Confidence = DefaultConfidence
	}
	if req.Confidence >= 100 {
		return nil, fmt.Errorf("confidence level %v out of range", req.Confidence)
	}
	if req.Distribution == "" {
		req.Distribution = inventory.DistributionNormal
	}

	result := &inventory.UncertaintyResult{
		Point:        req.Point,
		Distribution: req.Distribution,
		Confidence:   req.Confidence,
	}

	switch req.Distribution {
	case inventory.DistributionNormal, inventory.DistributionLognormal:
		combined := math.Sqrt(req.FactorUncertaintyPct*req.FactorUncertaintyPct+
			req.ActivityUncertaintyPct*req.ActivityUncertaintyPct) / 100
		if combined == 0 {
			result.Lower, result.Upper = req.Point, req.Point
			result.Mode = inventory.ModeNone
			return result, nil
		}
		closedForm(result, req, combined)
		return result, nil

	case inventory.DistributionTriangular, inventory.DistributionUniform:
		if req.Range == nil || (req.Range.Min == req.Point && req.Range.Max == req.Point) {
			result.Lower, result.Upper = req.Point, req.Point
			result.Mode = inventory.ModeNone
			return result, nil
		}
		if req.Range.Min > req.Range.Max {
			return nil, fmt.Errorf("invalid range [%v, %v]", req.Range.Min, req.Range.Max)
		}
		return result, monteCarlo(result, req)

	default:
		return nil, fmt.Errorf("unsupported distribution %q", req.Distribution)
	}
}

// closedForm computes analytic bounds for normal and lognormal
// distributions from the combined relative standard deviation.
func closedForm(result *inventory.UncertaintyResult, req Request, combined float64) {
	z := ZScore(req.Confidence)
	sigma := math.Abs(req.Point) * combined
	result.StdDev = sigma
	result.Mode = inventory.ModeClosedForm

	if req.Distribution == inventory.DistributionLognormal && req.Point > 0 {
		// Median at the point estimate; geometric bounds stay positive.
		sigmaLN := math.Sqrt(math.Log(1 + combined*combined))
		result.Lower = req.Point * math.Exp(-z*sigmaLN)
		result.Upper = req.Point * math.Exp(z*sigmaLN)
		return
	}

	result.Lower = req.Point - z*sigma
	result.Upper = req.Point + z*sigma
	if req.Point >= 0 && result.Lower < 0 {
		result.Lower = 0
	}
}

// monteCarlo draws req.Iterations samples and takes percentile bounds.
func monteCarlo(result *inventory.UncertaintyResult, req Request) error {
	var rng *rand.Rand
	if req.Seed != nil {
		rng = rand.New(rand.NewPCG(req.Seed.Hi, req.Seed.Lo))
		result.Mode = inventory.ModeSeeded
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		result.Mode = inventory.ModeProcess
	}

	samples := make([]float64, req.Iterations)
	var sum, sumSq float64
	for i := range samples {
		var v float64
		switch req.Distribution {
		case inventory.DistributionTriangular:
			v = sampleTriangular(rng, req.Range.Min, req.Point, req.Range.Max)
		case inventory.DistributionUniform:
			v = req.Range.Min + rng.Float64()*(req.Range.Max-req.Range.Min)
		}
		samples[i] = v
		sum += v
		sumSq += v * v
	}

	sort.Float64s(samples)
	alpha := (100 - req.Confidence) / 200
	result.Lower = percentile(samples, alpha)
	result.Upper = percentile(samples, 1-alpha)
	result.Iterations = req.Iterations

	n := float64(req.Iterations)
	variance := (sumSq - sum*sum/n) / (n - 1)
	if variance > 0 {
		result.StdDev = math.Sqrt(variance)
	}

	// Percentile bounds of a skewed distribution can land on one side of
	// the point estimate; the interval must still contain it.
	if result.Lower > result.Point {
		result.Lower = result.Point
	}
	if result.Upper < result.Point {
		result.Upper = result.Point
	}
	if result.Point >= 0 && result.Lower < 0 {
		result.Lower = 0
	}
	return nil
}

// sampleTriangular draws from a triangular distribution by inverse CDF,
// with the mode clamped into [min, max].
func sampleTriangular(rng *rand.Rand, min, mode, max float64) float64 {
	if mode < min {
		mode = min
	}
	if mode > max {
		mode = max
	}
	u := rng.Float64()
	cut := (mode - min) / (max - min)
	if u < cut {
		return min + math.Sqrt(u*(max-min)*(mode-min))
	}
	return max - math.Sqrt((1-u)*(max-min)*(max-mode))
}

// percentile interpolates the q-quantile (0..1) of sorted samples.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	i := int(pos)
	if i >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(i)
	return sorted[i]*(1-frac) + sorted[i+1]*frac
}

// ZScore returns the two-sided standard normal critical value for a
// confidence level in percent.
func ZScore(confidence float64) float64 {
	switch confidence {
	case 90:
		return 1.6448536269514722
	case 95:
		return 1.959963984540054
	case 99:
		return 2.5758293035489004
	}
	return inverseNormalCDF(1 - (100-confidence)/200)
}

// inverseNormalCDF is Acklam's rational approximation of the standard
// normal quantile function, accurate to ~1e-9 over (0, 1).
func inverseNormalCDF(p float64) float64 {
	a := [6]float64{-3.969683028665376e+01, 2.209460984245205e+02, -2.759285104469687e+02,
		1.383577518672690e+02, -3.066479806614716e+01, 2.506628277459239e+00}
	b := [5]float64{-5.447609879822406e+01, 1.615858368580409e+02, -1.556989798598866e+02,
		6.680131188771972e+01, -1.328068155288572e+01}
	c := [6]float64{-7.784894002430293e-03, -3.223964580411365e-01, -2.400758277161838e+00,
		-2.549732539343734e+00, 4.374664141464968e+00, 2.938163982698783e+00}
	d := [4]float64{7.784695709041462e-03, 3.224671290700398e-01, 2.445134137142996e+00,
		3.754408661907416e+00}

	const low, high = 0.02425, 1 - 0.02425

	switch {
	case p < low:
		q := math.Sqrt(-2 * math.Log(p))
		return (((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	case p > high:
		q := math.Sqrt(-2 * math.Log(1-p))
		return -(((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	default:
		q := p - 0.5
		r := q * q
		return (((((a[0]*r+a[1])*r+a[2])*r+a[3])*r+a[4])*r + a[5]) * q /
			(((((b[0]*r+b[1])*r+b[2])*r+b[3])*r+b[4])*r + 1)
	}
}
