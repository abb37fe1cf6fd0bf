package formula

import (
	"math"

	"github.com/jakechorley/cohort-grader/pkg/core/rating"
)

// Tables holds the three skill rating tables a formula draws values from.
type Tables struct {
	Programming rating.Table
	OpenSource  rating.Table
	Python      rating.Table
}

// Bounds computes the provable minimum and maximum of the formula by
// exhaustively evaluating it over a small representative domain per
// variable: two sentinel birth years, both gender spellings (and both
// female flags, independently), a sentinel nation/country plus the host
// country, the full discrete grade range for motivation and cv, every
// value present in each rating table, and both applied flags.
//
// Static range analysis over arbitrary user arithmetic is infeasible, so
// brute force over a deliberately tiny domain is the tractable way to get
// a believable interval. The cost is exponential in the rating-table
// sizes; keep each table to a handful of distinct values.
//
// An empty product (never in practice, every axis has at least two
// values) returns the degenerate (+Inf, -Inf).
func Bounds(f *Formula, tables Tables, hostCountry string) (minScore, maxScore float64, err error) {
	axes := [][]func(*Vars){
		intAxis(func(v *Vars, x int) { v.Born = x }, 1900, 2012),
		stringAxis(func(v *Vars, s string) { v.Gender = s }, "M", "F"),
		floatAxis(func(v *Vars, x float64) { v.Female = x }, 0, 1),
		stringAxis(func(v *Vars, s string) { v.Nation = s }, "Nicaragua", hostCountry),
		stringAxis(func(v *Vars, s string) { v.Country = s }, "Nicaragua", hostCountry),
		floatAxis(func(v *Vars, x float64) { v.Motivation = x }, ScoreRange...),
		floatAxis(func(v *Vars, x float64) { v.CV = x }, ScoreRange...),
		floatAxis(func(v *Vars, x float64) { v.Programming = x }, tables.Programming.Values()...),
		floatAxis(func(v *Vars, x float64) { v.OpenSource = x }, tables.OpenSource.Values()...),
		floatAxis(func(v *Vars, x float64) { v.Applied = x }, 0, 1),
		floatAxis(func(v *Vars, x float64) { v.Python = x }, tables.Python.Values()...),
	}

	minScore = math.Inf(1)
	maxScore = math.Inf(-1)

	var vars Vars
	err = walkProduct(axes, 0, &vars, func(v Vars) error {
		score, err := f.Eval(v)
		if err != nil {
			return err
		}
		minScore = math.Min(minScore, score)
		maxScore = math.Max(maxScore, score)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return minScore, maxScore, nil
}

// walkProduct visits the Cartesian product of all axes, mutating a single
// Vars in place as it descends.
func walkProduct(axes [][]func(*Vars), depth int, vars *Vars, visit func(Vars) error) error {
	if depth == len(axes) {
		return visit(*vars)
	}
	for _, set := range axes[depth] {
		set(vars)
		if err := walkProduct(axes, depth+1, vars, visit); err != nil {
			return err
		}
	}
	return nil
}

func intAxis(set func(*Vars, int), values ...int) []func(*Vars) {
	setters := make([]func(*Vars), len(values))
	for i, value := range values {
		value := value
		setters[i] = func(v *Vars) { set(v, value) }
	}
	return setters
}

func floatAxis(set func(*Vars, float64), values ...float64) []func(*Vars) {
	setters := make([]func(*Vars), len(values))
	for i, value := range values {
		value := value
		setters[i] = func(v *Vars) { set(v, value) }
	}
	return setters
}

func stringAxis(set func(*Vars, string), values ...string) []func(*Vars) {
	setters := make([]func(*Vars), len(values))
	for i, value := range values {
		value := value
		setters[i] = func(v *Vars) { set(v, value) }
	}
	return setters
}
