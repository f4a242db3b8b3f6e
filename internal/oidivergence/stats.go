package oidivergence

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// StatsBackend abstracts the correlation machinery so the scorer can degrade
// when a full statistics implementation is unavailable. The backend is chosen
// once at scorer construction, not per call.
type StatsBackend interface {
	Name() string
	KendallTau(x, y []float64) (float64, bool)
	Spearman(x, y []float64) (float64, bool)
	Pearson(x, y []float64) (float64, bool)
	// SpearmanPValue returns the two-sided p-value for an observed Spearman
	// coefficient under the t approximation, or nil when not computable.
	SpearmanPValue(rho float64, n int) *float64
	// PermutationPValue estimates a p-value for the observed Spearman
	// coefficient by permutation resampling of the second series.
	PermutationPValue(x, y []float64, observed float64, resamples int, seed int64) *float64
}

// GonumBackend computes correlations with gonum/stat.
type GonumBackend struct{}

func (GonumBackend) Name() string { return "gonum" }

func (GonumBackend) KendallTau(x, y []float64) (float64, bool) {
	tau := stat.Kendall(x, y, nil)
	if math.IsNaN(tau) {
		return 0, false
	}
	return tau, true
}

func (GonumBackend) Spearman(x, y []float64) (float64, bool) {
	rho := stat.Correlation(rankAverage(x), rankAverage(y), nil)
	if math.IsNaN(rho) {
		return 0, false
	}
	return rho, true
}

func (GonumBackend) Pearson(x, y []float64) (float64, bool) {
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return 0, false
	}
	return r, true
}

func (GonumBackend) SpearmanPValue(rho float64, n int) *float64 {
	if n <= 2 {
		return nil
	}
	if 1-rho*rho <= 0 {
		p := 0.0
		return &p
	}
	t := rho * math.Sqrt(float64(n-2)/(1-rho*rho))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 2)}
	p := 2 * (1 - dist.CDF(math.Abs(t)))
	if p > 1 {
		p = 1
	}
	return &p
}

func (b GonumBackend) PermutationPValue(x, y []float64, observed float64, resamples int, seed int64) *float64 {
	if resamples <= 0 {
		return nil
	}
	rng := rand.New(rand.NewSource(seed))
	shuffled := make([]float64, len(y))
	copy(shuffled, y)

	exceed := 0
	for i := 0; i < resamples; i++ {
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		rho, ok := b.Spearman(x, shuffled)
		if !ok {
			continue
		}
		if math.Abs(rho) >= math.Abs(observed) {
			exceed++
		}
	}

	p := (float64(exceed) + 1) / (float64(resamples) + 1)
	return &p
}

// DegradedBackend reports every statistic as unavailable, which forces each
// method tier down to the direction-only comparison.
type DegradedBackend struct{}

func (DegradedBackend) Name() string { return "degraded" }

func (DegradedBackend) KendallTau(_, _ []float64) (float64, bool) { return 0, false }

func (DegradedBackend) Spearman(_, _ []float64) (float64, bool) { return 0, false }

func (DegradedBackend) Pearson(_, _ []float64) (float64, bool) { return 0, false }

func (DegradedBackend) SpearmanPValue(float64, int) *float64 { return nil }

func (DegradedBackend) PermutationPValue([]float64, []float64, float64, int, int64) *float64 {
	return nil
}

// rankAverage assigns 1-based ranks, averaging ties.
func rankAverage(values []float64) []float64 {
	n := len(values)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && values[idx[j+1]] == values[idx[i]] {
			j++
		}
		avg := float64(i+j+2) / 2 // mean of ranks i+1..j+1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}
	return ranks
}
