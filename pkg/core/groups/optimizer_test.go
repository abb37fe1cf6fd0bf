package groups

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fourRowMatrix() *Matrix {
	return &Matrix{
		Features: []string{"gender", "python"},
		Weights:  []float64{1, 1},
		Rows: [][]float64{
			{0, 1},
			{1, 0},
			{0, 0},
			{1, 1},
		},
		IDs: []int{0, 1, 2, 3},
	}
}

func TestOptimize_ZeroIterationsReturnsInitialPermutation(t *testing.T) {
	m := fourRowMatrix()
	cfg := Config{GroupSize: 2, Trials: 1, Iterations: 0, Seed: DeriveSeed("test", 1)}

	result, err := Optimize(m, cfg)
	require.NoError(t, err)

	// With no proposal steps the trial result is exactly its seeded
	// starting permutation and that permutation's energy.
	rng := rand.New(rand.NewSource(int64(uint64(1) * cfg.Seed)))
	wantOrder := rng.Perm(4)
	assert.Equal(t, wantOrder, result.Best.Order)
	assert.Equal(t, m.Energy(wantOrder, 2), result.Best.FinalEnergy)
	assert.Equal(t, result.Best.InitialEnergy, result.Best.FinalEnergy)
}

func TestOptimize_ConstantColumnContributesZero(t *testing.T) {
	constant := &Matrix{
		Features: []string{"constant"},
		Weights:  []float64{1},
		Rows:     [][]float64{{3}, {3}, {3}, {3}, {3}, {3}},
		IDs:      []int{0, 1, 2, 3, 4, 5},
	}

	for _, order := range [][]int{
		{0, 1, 2, 3, 4, 5},
		{5, 4, 3, 2, 1, 0},
		{2, 0, 4, 1, 5, 3},
	} {
		assert.Equal(t, 0.0, constant.Energy(order, 2))
		assert.Equal(t, 0.0, constant.Energy(order, 3))
	}

	// Adding the constant column to a varying matrix changes nothing: its
	// contribution is zero, and the weight normalization covers the rest.
	varying := fourRowMatrix()
	withConstant := &Matrix{
		Features: []string{"gender", "python", "constant"},
		Weights:  []float64{1, 1, 0},
		Rows: [][]float64{
			{0, 1, 7},
			{1, 0, 7},
			{0, 0, 7},
			{1, 1, 7},
		},
		IDs: []int{0, 1, 2, 3},
	}
	order := []int{3, 1, 0, 2}
	assert.InDelta(t, varying.Energy(order, 2), withConstant.Energy(order, 2), 1e-12)
}

func TestOptimize_FinalEnergyNeverExceedsInitialWithoutWorseAcceptance(t *testing.T) {
	m := &Matrix{
		Features: []string{"gender", "python", "programming"},
		Weights:  []float64{1, 2, 1},
		Rows: [][]float64{
			{0, 1, -1}, {1, 0, 0}, {0, 0, 1}, {1, 1, -1},
			{0, 1, 1}, {1, -1, 0}, {0, 0, 0}, {1, 1, 1},
		},
		IDs: []int{0, 1, 2, 3, 4, 5, 6, 7},
	}
	cfg := Config{
		GroupSize:  4,
		Trials:     8,
		Iterations: 50,
		Seed:       DeriveSeed("monotone", 8),
	}

	result, err := Optimize(m, cfg)
	require.NoError(t, err)

	for i := range result.FinalEnergies {
		assert.LessOrEqual(t, result.FinalEnergies[i], result.InitialEnergies[i],
			"trial %d worsened with p=0", i)
	}
	assert.LessOrEqual(t, result.FinalMean, result.InitialMean)
}

func TestOptimize_Deterministic(t *testing.T) {
	m := fourRowMatrix()
	cfg := Config{
		GroupSize:  2,
		Trials:     5,
		Iterations: 25,
		Seed:       DeriveSeed("same seed", 5),
	}

	first, err := Optimize(m, cfg)
	require.NoError(t, err)
	second, err := Optimize(m, cfg)
	require.NoError(t, err)

	assert.Equal(t, first.Best.Order, second.Best.Order)
	assert.Equal(t, first.Best.FinalEnergy, second.Best.FinalEnergy)
	assert.Equal(t, first.InitialEnergies, second.InitialEnergies)
	assert.Equal(t, first.FinalEnergies, second.FinalEnergies)
}

func TestOptimize_DeterministicAcrossParallelism(t *testing.T) {
	m := fourRowMatrix()
	cfg := Config{
		GroupSize:  2,
		Trials:     6,
		Iterations: 20,
		Seed:       DeriveSeed("parallel", 6),
	}

	serial := cfg
	serial.Parallelism = 1
	parallel := cfg
	parallel.Parallelism = 4

	a, err := Optimize(m, serial)
	require.NoError(t, err)
	b, err := Optimize(m, parallel)
	require.NoError(t, err)

	assert.Equal(t, a.Best.Order, b.Best.Order)
	assert.Equal(t, a.FinalEnergies, b.FinalEnergies)
}

func TestOptimize_BestIsLowestFinalEnergy(t *testing.T) {
	m := fourRowMatrix()
	cfg := Config{
		GroupSize:  2,
		Trials:     10,
		Iterations: 10,
		Seed:       DeriveSeed("best", 10),
	}

	result, err := Optimize(m, cfg)
	require.NoError(t, err)

	for _, e := range result.FinalEnergies {
		assert.GreaterOrEqual(t, e, result.Best.FinalEnergy)
	}
	assert.Equal(t, result.Best.FinalEnergy, result.FinalEnergies[result.Best.Index])
}

func TestOptimize_RejectsIndivisibleRowCount(t *testing.T) {
	m := fourRowMatrix()
	cfg := Config{GroupSize: 3, Trials: 1, Iterations: 0, Seed: 1}

	_, err := Optimize(m, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a multiple of group size")
}

func TestOptimize_RejectsWeightFeatureMismatch(t *testing.T) {
	m := fourRowMatrix()
	m.Weights = []float64{1}

	_, err := Optimize(m, Config{GroupSize: 2, Trials: 1, Seed: 1})
	assert.Error(t, err)
}

func TestOptimize_RejectsZeroWeights(t *testing.T) {
	m := fourRowMatrix()
	m.Weights = []float64{0, 0}

	_, err := Optimize(m, Config{GroupSize: 2, Trials: 1, Seed: 1})
	assert.Error(t, err)
}

func TestOptimize_AcceptWorseKeepsWorseningSwaps(t *testing.T) {
	// With p=1 every proposed swap is kept. The four-row matrix has one
	// zero-energy pairing, so any trial that starts there and swaps once
	// must end strictly worse than it started; over this many restarts
	// such a trial occurs.
	m := fourRowMatrix()
	cfg := Config{
		GroupSize:              2,
		Trials:                 64,
		Iterations:             1,
		AcceptWorseProbability: 1,
		Seed:                   DeriveSeed("accept-worse", 64),
	}

	first, err := Optimize(m, cfg)
	require.NoError(t, err)

	worsened := false
	for i := range first.FinalEnergies {
		assert.Equal(t, m.Energy(trialOrder(m, cfg, i), cfg.GroupSize), first.FinalEnergies[i])
		if first.FinalEnergies[i] > first.InitialEnergies[i] {
			worsened = true
		}
	}
	assert.True(t, worsened, "no trial kept a worsening swap at p=1")

	second, err := Optimize(m, cfg)
	require.NoError(t, err)
	assert.Equal(t, first.InitialEnergies, second.InitialEnergies)
	assert.Equal(t, first.FinalEnergies, second.FinalEnergies)
	assert.Equal(t, first.Best.Order, second.Best.Order)
}

// trialOrder replays trial i's random stream to recover its final order.
func trialOrder(m *Matrix, cfg Config, index int) []int {
	trial := runTrial(m, cfg, index)
	return trial.Order
}

func TestOptimize_SwapPartnersAlwaysInDifferentGroups(t *testing.T) {
	// With two rows per group and four rows, a same-group swap would be a
	// no-op that burns an iteration; the search must resample instead.
	// Verified indirectly: with enough iterations the four-row matrix
	// reaches the global optimum (energy 0 is achievable by pairing
	// complementary rows).
	m := fourRowMatrix()
	cfg := Config{
		GroupSize:  2,
		Trials:     4,
		Iterations: 200,
		Seed:       DeriveSeed("optimum", 4),
	}

	result, err := Optimize(m, cfg)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, result.Best.FinalEnergy, 1e-12)
}

func TestResult_GroupsMapsIDs(t *testing.T) {
	m := fourRowMatrix()
	m.IDs = []int{10, 11, 12, 13}
	cfg := Config{GroupSize: 2, Trials: 1, Iterations: 0, Seed: DeriveSeed("ids", 1)}

	result, err := Optimize(m, cfg)
	require.NoError(t, err)

	groups := result.Groups(m, 2)
	require.Len(t, groups, 2)
	seen := map[int]bool{}
	for _, group := range groups {
		require.Len(t, group, 2)
		for _, id := range group {
			assert.False(t, seen[id])
			seen[id] = true
			assert.Contains(t, []int{10, 11, 12, 13}, id)
		}
	}
}

func TestDeriveSeed_Deterministic(t *testing.T) {
	assert.Equal(t, DeriveSeed("seed-2026", 100), DeriveSeed("seed-2026", 100))
	assert.NotEqual(t, DeriveSeed("seed-2026", 100), DeriveSeed("seed-2027", 100))
	assert.NotEqual(t, DeriveSeed("seed-2026", 100), DeriveSeed("seed-2026", 200))
}

func TestEnergy_WeightScalingInvariant(t *testing.T) {
	m := fourRowMatrix()
	scaled := fourRowMatrix()
	scaled.Weights = []float64{5, 5}

	order := []int{0, 1, 2, 3}
	assert.InDelta(t, m.Energy(order, 2), scaled.Energy(order, 2), 1e-12)
}
