package agent

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/fernandobusta/farm-concurrency/sim"
)

// GapSampler draws the number of ticks until the next delivery.
type GapSampler interface {
	// SampleGap always returns a value >= 1.
	SampleGap(rng *rand.Rand) int64
}

// PoissonGap draws exponentially distributed gaps (CV=1).
type PoissonGap struct {
	mean float64
}

func (s *PoissonGap) SampleGap(rng *rand.Rand) int64 {
	return atLeastOne(rng.ExpFloat64() * s.mean)
}

// GammaGap draws Gamma distributed gaps. CV > 1 gives bursty deliveries,
// CV < 1 gives more regular ones.
type GammaGap struct {
	shape float64 // 1/CV²
	scale float64 // mean·CV²
}

func (s *GammaGap) SampleGap(rng *rand.Rand) int64 {
	return atLeastOne(gammaRand(rng, s.shape, s.scale))
}

// WeibullGap draws Weibull distributed gaps.
type WeibullGap struct {
	shape float64 // k
	scale float64 // λ, in ticks
}

func (s *WeibullGap) SampleGap(rng *rand.Rand) int64 {
	// Inverse CDF: scale * (-ln(U))^(1/shape)
	u := rng.Float64()
	if u == 0 {
		u = math.SmallestNonzeroFloat64
	}
	return atLeastOne(s.scale * math.Pow(-math.Log(u), 1.0/s.shape))
}

// NewGapSampler creates the named sampler with the given mean gap in ticks.
// A cv of 0 means 1.
func NewGapSampler(process string, meanTicks, cv float64) (GapSampler, error) {
	if meanTicks < 1 {
		return nil, fmt.Errorf("%w: mean delivery gap must be >= 1 tick, got %v", sim.ErrInvalidConfig, meanTicks)
	}
	if cv <= 0 {
		cv = 1.0
	}
	switch process {
	case sim.ArrivalPoisson:
		return &PoissonGap{mean: meanTicks}, nil

	case sim.ArrivalGamma:
		shape := 1.0 / (cv * cv)
		if shape < 0.01 {
			logrus.Warnf("Gamma shape %.4f (CV=%.1f) is very small; falling back to Poisson", shape, cv)
			return &PoissonGap{mean: meanTicks}, nil
		}
		return &GammaGap{shape: shape, scale: meanTicks * cv * cv}, nil

	case sim.ArrivalWeibull:
		k := weibullShapeFromCV(cv)
		// scale = mean / Γ(1 + 1/k)
		return &WeibullGap{shape: k, scale: meanTicks / math.Gamma(1.0+1.0/k)}, nil

	default:
		return nil, fmt.Errorf("%w: unknown arrival process %q", sim.ErrInvalidConfig, process)
	}
}

func atLeastOne(ticks float64) int64 {
	if ticks < 1 {
		return 1
	}
	return int64(math.Round(ticks))
}

// gammaRand samples from Gamma(shape, scale) using Marsaglia-Tsang's method.
// For shape < 1: Gamma(shape) = Gamma(shape+1) * U^(1/shape).
func gammaRand(rng *rand.Rand, shape, scale float64) float64 {
	if shape < 1.0 {
		u := rng.Float64()
		return gammaRand(rng, shape+1.0, scale) * math.Pow(u, 1.0/shape)
	}

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

		// Squeeze test
		if u < 1.0-0.0331*(x*x)*(x*x) {
			return d * v * scale
		}
		if math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v)) {
			return d * v * scale
		}
	}
}

// weibullShapeFromCV finds k with CV² = Γ(1+2/k)/Γ(1+1/k)² - 1 by bisection
// over [0.1, 100].
func weibullShapeFromCV(targetCV float64) float64 {
	lo, hi := 0.1, 100.0
	for i := 0; i < 100; i++ {
		mid := (lo + hi) / 2.0
		cv := weibullCV(mid)
		if math.Abs(cv-targetCV) < 0.001 {
			return mid
		}
		// CV is monotonically decreasing in k
		if cv > targetCV {
			lo = mid
		} else {
			hi = mid
		}
	}
	logrus.Warnf("weibullShapeFromCV: bisection did not converge for CV=%.3f; using k=%.3f", targetCV, (lo+hi)/2.0)
	return (lo + hi) / 2.0
}

func weibullCV(k float64) float64 {
	g1 := math.Gamma(1.0 + 1.0/k)
	g2 := math.Gamma(1.0 + 2.0/k)
	return math.Sqrt(g2/(g1*g1) - 1.0)
}
