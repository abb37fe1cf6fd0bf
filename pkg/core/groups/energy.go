package groups

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Energy scores how balanced a partition is. order is a permutation of row
// indices; consecutive blocks of groupSize rows form the groups.
//
// For each feature column the per-group means are computed and their
// spread (population standard deviation across groups) is weighted by the
// feature's normalized weight and summed. Only between-group mean spread
// is penalized; within-group variance is deliberately not part of the
// metric. Lower is better.
func (m *Matrix) Energy(order []int, groupSize int) float64 {
	groupCount := len(order) / groupSize

	weightSum := 0.0
	for _, w := range m.Weights {
		weightSum += w
	}

	energy := 0.0
	groupMeans := make([]float64, groupCount)
	column := make([]float64, groupSize)
	for c, weight := range m.Weights {
		for g := 0; g < groupCount; g++ {
			for i := 0; i < groupSize; i++ {
				column[i] = m.Rows[order[g*groupSize+i]][c]
			}
			groupMeans[g] = stat.Mean(column, nil)
		}
		energy += weight / weightSum * popStdDev(groupMeans)
	}
	return energy
}

// popStdDev is the population standard deviation (divisor n, not n-1),
// matching how the balance metric has always been computed.
func popStdDev(xs []float64) float64 {
	mean := stat.Mean(xs, nil)
	sum := 0.0
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}
