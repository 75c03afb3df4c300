package sampler

import (
	"math"
	"math/rand/v2"
)

// sampleGamma draws from Gamma(shape, 1) via Marsaglia & Tsang's method.
// Only shape >= 1 is needed here: AdState's invariant keeps alpha and
// beta at or above 1.
func sampleGamma(rng *rand.Rand, shape float64) float64 {
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)

	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1.0 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()

		if u < 1.0-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v)) {
			return d * v
		}
	}
}

// SampleBeta draws one sample from Beta(alpha, beta) by ratioing two
// independent Gamma draws, the standard Gamma-ratio construction.
func SampleBeta(rng *rand.Rand, alpha, beta float64) float64 {
	x := sampleGamma(rng, alpha)
	y := sampleGamma(rng, beta)
	if x+y == 0 {
		return 0
	}
	return x / (x + y)
}

// betaContinuedFraction evaluates the continued-fraction term of the
// regularized incomplete beta function (Numerical Recipes' betacf).
func betaContinuedFraction(a, b, x float64) float64 {
	const maxIterations = 200
	const epsilon = 3e-12
	const tiny = 1e-300

	qab := a + b
	qap := a + 1
	qam := a - 1
	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < tiny {
		d = tiny
	}
	d = 1 / d
	h := d

	for m := 1; m <= maxIterations; m++ {
		mf := float64(m)
		m2 := 2 * mf

		aa := mf * (b - mf) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		h *= d * c

		aa = -(a + mf) * (qab + mf) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		del := d * c
		h *= del

		if math.Abs(del-1.0) < epsilon {
			break
		}
	}
	return h
}

// regularizedIncompleteBeta computes I_x(a, b), the CDF of Beta(a, b) at
// x. Used to turn a posterior (alpha, beta) into an exact probability
// mass above a decision threshold, rather than a noisy Monte-Carlo
// estimate.
func regularizedIncompleteBeta(x, a, b float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}

	lgab, _ := math.Lgamma(a + b)
	lga, _ := math.Lgamma(a)
	lgb, _ := math.Lgamma(b)
	front := math.Exp(lgab-lga-lgb + a*math.Log(x) + b*math.Log(1-x))

	if x < (a+1)/(a+b+2) {
		return front * betaContinuedFraction(a, b, x) / a
	}
	return 1 - front*betaContinuedFraction(b, a, 1-x)/b
}

// ProbabilityAboveThreshold returns P(theta > threshold) for
// theta ~ Beta(alpha, beta), used as a recommendation's confidence.
func ProbabilityAboveThreshold(alpha, beta, threshold float64) float64 {
	if threshold <= 0 {
		return 1
	}
	if threshold >= 1 {
		return 0
	}
	return 1 - regularizedIncompleteBeta(threshold, alpha, beta)
}
