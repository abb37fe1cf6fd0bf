// Package ranking scores applicants against the configured formula and
// assigns ranks, collapsing applicants that share a lab onto one rank so
// a lab is never split across the accept boundary.
package ranking

import (
	"fmt"
	"math"
	"sort"

	"github.com/jakechorley/cohort-grader/pkg/applicants"
	"github.com/jakechorley/cohort-grader/pkg/core/formula"
	"github.com/jakechorley/cohort-grader/pkg/core/rating"
)

// Candidate pairs an applicant with the reviewer grades collected for it.
// Motivation and CV hold the grades that exist (zero, one or two entries);
// their means feed the formula, NaN when no reviewer has graded yet.
type Candidate struct {
	Applicant  *applicants.Applicant
	Motivation []float64
	CV         []float64
}

// Outcome is the result of a ranking run.
type Outcome struct {
	// Ranked holds the applicants in descending score order. Each has had
	// Score and Rank filled in.
	Ranked []*applicants.Applicant

	// MinScore and MaxScore are the formula bounds every non-NaN score was
	// checked against.
	MinScore float64
	MaxScore float64

	// Labs maps each lab key to the rank it was assigned.
	Labs map[string]int

	// RankCounts maps each rank to the number of applicants sharing it, so
	// the caller can split accepted / same-lab-conflict / rejected.
	RankCounts map[int]int
}

// ScoreAndRank scores every candidate with the formula, sorts by score and
// assigns lab-collapsed ranks. Applicants are enriched in place; the
// returned outcome orders them by descending score with ties keeping
// input order and NaN scores sorting last.
//
// A non-NaN score outside the formula bounds means the bounds domain does
// not cover the formula's real inputs; that is a contract failure and is
// returned as an error rather than clamped.
func ScoreAndRank(cands []Candidate, f *formula.Formula, tables formula.Tables,
	equivs Equivalences, hostCountry string) (*Outcome, error) {

	minScore, maxScore, err := formula.Bounds(f, tables, hostCountry)
	if err != nil {
		return nil, fmt.Errorf("failed to compute formula bounds: %w", err)
	}

	ranked := make([]*applicants.Applicant, 0, len(cands))
	for _, cand := range cands {
		score, err := scoreCandidate(cand, f, tables)
		if err != nil {
			return nil, err
		}
		if !math.IsNaN(score) && (score < minScore || score > maxScore) {
			return nil, fmt.Errorf(
				"score %g for %s outside bounds [%g, %g]: bounds domain does not cover formula inputs",
				score, cand.Applicant.FullName(), minScore, maxScore)
		}
		cand.Applicant.Score = score
		ranked = append(ranked, cand.Applicant)
	}

	// Stable descending sort; equal scores keep arrival order, NaN sinks
	// to the bottom.
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := ranked[i].Score, ranked[j].Score
		if math.IsNaN(si) {
			return false
		}
		if math.IsNaN(sj) {
			return true
		}
		return si > sj
	})

	labs := make(map[string]int)
	rank := 0
	for _, app := range ranked {
		lab := equivs.Canonical(app.Institute) + " / " + equivs.Canonical(app.Group)
		if _, seen := labs[lab]; !seen {
			labs[lab] = rank
			rank++
		}
		app.Rank = labs[lab]
	}

	counts := make(map[int]int)
	for _, app := range ranked {
		counts[app.Rank]++
	}

	return &Outcome{
		Ranked:     ranked,
		MinScore:   minScore,
		MaxScore:   maxScore,
		Labs:       labs,
		RankCounts: counts,
	}, nil
}

// scoreCandidate resolves the skill ratings, assembles the variable
// snapshot and evaluates the formula.
func scoreCandidate(cand Candidate, f *formula.Formula, tables formula.Tables) (float64, error) {
	app := cand.Applicant

	programming, err := rating.Resolve("programming", tables.Programming, app.Programming)
	if err != nil {
		return 0, err
	}
	openSource, err := rating.Resolve("open_source", tables.OpenSource, app.OpenSource)
	if err != nil {
		return 0, err
	}
	python, err := rating.Resolve("python", tables.Python, app.Python)
	if err != nil {
		return 0, err
	}

	vars := formula.Vars{
		Born:        app.Born,
		Gender:      app.Gender,
		Female:      boolToFloat(app.IsFemale()),
		Nation:      app.Nation,
		Country:     app.Country,
		Motivation:  applicants.GradeMean(cand.Motivation),
		CV:          applicants.GradeMean(cand.CV),
		Programming: programming,
		OpenSource:  openSource,
		Python:      python,
		Applied:     boolToFloat(app.AppliedBefore()),
	}
	return f.Eval(vars)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
