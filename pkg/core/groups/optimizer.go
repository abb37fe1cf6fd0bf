// Package groups partitions the accepted cohort into fixed-size groups by
// randomized local search over a balance-energy function.
package groups

import (
	"fmt"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// Matrix is the optimizer's input: one row per accepted applicant, one
// column per balancing feature. It is never mutated; trials permute their
// own copies of the row order.
type Matrix struct {
	// Features names the columns, in order.
	Features []string

	// Weights holds one weight per column. They are normalized to sum to 1
	// inside the energy function, so only their ratios matter.
	Weights []float64

	// Rows holds the resolved feature values, one row per applicant.
	Rows [][]float64

	// IDs carries a caller-side identifier per row (e.g. the applicant's
	// index) so the winning partition can be mapped back to people.
	IDs []int
}

// Config holds the search parameters.
type Config struct {
	// GroupSize is the number of rows per group. The row count must be an
	// exact multiple of this.
	GroupSize int

	// Trials is the number of independent random restarts.
	Trials int

	// Iterations is the number of swap proposals per trial.
	Iterations int

	// AcceptWorseProbability is the chance of keeping an energy-increasing
	// swap anyway, to escape local minima. Zero (the default) accepts only
	// non-worsening swaps. This is a primitive Monte-Carlo acceptance, not
	// an annealing schedule.
	AcceptWorseProbability float64

	// Seed is the top-level seed; see DeriveSeed.
	Seed uint64

	// Parallelism bounds the number of concurrently running trials.
	// Zero means GOMAXPROCS. Trials share nothing mutable, so the result
	// is identical regardless of this setting.
	Parallelism int
}

// Trial is the outcome of one random restart.
type Trial struct {
	Index         int
	InitialEnergy float64
	FinalEnergy   float64

	// Order is the final permutation of row indices; consecutive blocks of
	// GroupSize rows form the groups.
	Order []int
}

// Result is the outcome of a full optimization run.
type Result struct {
	Best Trial

	// Per-trial energies before and after local search, indexed by trial,
	// plus their statistics for diagnostic reporting.
	InitialEnergies []float64
	FinalEnergies   []float64
	InitialMean     float64
	InitialStdDev   float64
	FinalMean       float64
	FinalStdDev     float64
}

// Groups maps the winning partition back to the caller's row IDs.
func (r *Result) Groups(m *Matrix, groupSize int) [][]int {
	groups := make([][]int, 0, len(r.Best.Order)/groupSize)
	for start := 0; start < len(r.Best.Order); start += groupSize {
		group := make([]int, groupSize)
		for i := 0; i < groupSize; i++ {
			group[i] = m.IDs[r.Best.Order[start+i]]
		}
		groups = append(groups, group)
	}
	return groups
}

// Optimize runs the random-restart local search and returns the lowest
// energy partition found. Given identical inputs and seed the result is
// bit-identical across runs.
func Optimize(m *Matrix, cfg Config) (*Result, error) {
	if err := validate(m, cfg); err != nil {
		return nil, err
	}

	trials := make([]Trial, cfg.Trials)

	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	var eg errgroup.Group
	eg.SetLimit(parallelism)
	for t := 0; t < cfg.Trials; t++ {
		t := t
		eg.Go(func() error {
			trials[t] = runTrial(m, cfg, t)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	result := &Result{
		InitialEnergies: make([]float64, cfg.Trials),
		FinalEnergies:   make([]float64, cfg.Trials),
	}
	best := 0
	for i, trial := range trials {
		result.InitialEnergies[i] = trial.InitialEnergy
		result.FinalEnergies[i] = trial.FinalEnergy
		if trial.FinalEnergy < trials[best].FinalEnergy {
			best = i
		}
	}
	result.Best = trials[best]
	result.InitialMean = stat.Mean(result.InitialEnergies, nil)
	result.InitialStdDev = popStdDev(result.InitialEnergies)
	result.FinalMean = stat.Mean(result.FinalEnergies, nil)
	result.FinalStdDev = popStdDev(result.FinalEnergies)
	return result, nil
}

func validate(m *Matrix, cfg Config) error {
	if cfg.GroupSize < 1 {
		return fmt.Errorf("group size must be positive, got %d", cfg.GroupSize)
	}
	if cfg.Trials < 1 {
		return fmt.Errorf("trial count must be positive, got %d", cfg.Trials)
	}
	if cfg.Iterations < 0 {
		return fmt.Errorf("iteration count must not be negative, got %d", cfg.Iterations)
	}
	if cfg.AcceptWorseProbability < 0 || cfg.AcceptWorseProbability > 1 {
		return fmt.Errorf("accept-worse probability must be in [0, 1], got %g",
			cfg.AcceptWorseProbability)
	}
	if len(m.Rows) == 0 {
		return fmt.Errorf("feature matrix has no rows")
	}
	if len(m.Rows)%cfg.GroupSize != 0 {
		return fmt.Errorf("row count %d is not a multiple of group size %d",
			len(m.Rows), cfg.GroupSize)
	}
	if len(m.Weights) != len(m.Features) {
		return fmt.Errorf("got %d weights for %d features", len(m.Weights), len(m.Features))
	}
	weightSum := 0.0
	for _, w := range m.Weights {
		if w < 0 {
			return fmt.Errorf("feature weights must not be negative, got %g", w)
		}
		weightSum += w
	}
	if weightSum == 0 {
		return fmt.Errorf("feature weights sum to zero")
	}
	for i, row := range m.Rows {
		if len(row) != len(m.Features) {
			return fmt.Errorf("row %d has %d values for %d features",
				i, len(row), len(m.Features))
		}
	}
	if len(m.IDs) != len(m.Rows) {
		return fmt.Errorf("got %d row IDs for %d rows", len(m.IDs), len(m.Rows))
	}
	return nil
}

// runTrial performs one random restart: an independently seeded shuffle
// followed by cfg.Iterations swap proposals.
func runTrial(m *Matrix, cfg Config, index int) Trial {
	rng := rand.New(rand.NewSource(int64(uint64(index+1) * cfg.Seed)))

	n := len(m.Rows)
	order := rng.Perm(n)

	initial := m.Energy(order, cfg.GroupSize)
	energy := initial
	// With a single group there is no cross-block swap to propose.
	iterations := cfg.Iterations
	if n == cfg.GroupSize {
		iterations = 0
	}
	for it := 0; it < iterations; it++ {
		i, j := rng.Intn(n), rng.Intn(n)
		// The pair must span two different blocks or the swap is a no-op.
		for i/cfg.GroupSize == j/cfg.GroupSize {
			i, j = rng.Intn(n), rng.Intn(n)
		}

		order[i], order[j] = order[j], order[i]
		next := m.Energy(order, cfg.GroupSize)
		if next <= energy ||
			(cfg.AcceptWorseProbability > 0 && rng.Float64() < cfg.AcceptWorseProbability) {
			energy = next
		} else {
			order[i], order[j] = order[j], order[i]
		}
	}

	return Trial{Index: index, InitialEnergy: initial, FinalEnergy: energy, Order: order}
}
