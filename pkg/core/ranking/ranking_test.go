package ranking

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakechorley/cohort-grader/pkg/applicants"
	"github.com/jakechorley/cohort-grader/pkg/core/formula"
	"github.com/jakechorley/cohort-grader/pkg/core/rating"
)

func rankingTables() formula.Tables {
	return formula.Tables{
		Programming: rating.Table{"novice": -1, "competent": 0, "expert": 1},
		OpenSource:  rating.Table{"never": -1, "user": 0, "contributor": 1},
		Python:      rating.Table{"none": -1, "some": 0, "expert": 1},
	}
}

func newCandidate(name, institute, group string, motivation float64) Candidate {
	return Candidate{
		Applicant: &applicants.Applicant{
			Name:        name,
			LastName:    "Test",
			Gender:      "Female",
			Nation:      "Portugal",
			Country:     "Portugal",
			Born:        1990,
			Applied:     "No",
			Institute:   institute,
			Group:       group,
			Programming: "competent",
			OpenSource:  "user",
			Python:      "some",
		},
		Motivation: []float64{motivation},
		CV:         []float64{motivation},
	}
}

// A (0.9) and B (0.85) share lab X/1 so both take rank 0; C (0.7) in lab
// Y/1 takes rank 1, not 2.
func TestScoreAndRank_SharedLabCollapsesRank(t *testing.T) {
	f, err := formula.Compile("motivation")
	require.NoError(t, err)

	cands := []Candidate{
		newCandidate("A", "X", "1", 0.9),
		newCandidate("B", "X", "1", 0.85),
		newCandidate("C", "Y", "1", 0.7),
	}

	outcome, err := ScoreAndRank(cands, f, rankingTables(), Equivalences{}, "Germany")
	require.NoError(t, err)
	require.Len(t, outcome.Ranked, 3)

	assert.Equal(t, "A", outcome.Ranked[0].Name)
	assert.Equal(t, "B", outcome.Ranked[1].Name)
	assert.Equal(t, "C", outcome.Ranked[2].Name)

	assert.Equal(t, 0, outcome.Ranked[0].Rank)
	assert.Equal(t, 0, outcome.Ranked[1].Rank)
	assert.Equal(t, 1, outcome.Ranked[2].Rank)

	assert.Equal(t, map[int]int{0: 2, 1: 1}, outcome.RankCounts)
	assert.Equal(t, map[string]int{"X / 1": 0, "Y / 1": 1}, outcome.Labs)
}

func TestScoreAndRank_RanksNonDecreasingAndSharedIffSameLab(t *testing.T) {
	f, err := formula.Compile("motivation + cv")
	require.NoError(t, err)

	cands := []Candidate{
		newCandidate("A", "MPI", "Theory", 1),
		newCandidate("B", "UCL", "Vision", 0.5),
		newCandidate("C", "mpi", "theory", 0),
		newCandidate("D", "EPFL", "Neuro", -0.5),
	}

	outcome, err := ScoreAndRank(cands, f, rankingTables(), Equivalences{}, "Germany")
	require.NoError(t, err)

	prev := -1
	for _, app := range outcome.Ranked {
		assert.GreaterOrEqual(t, app.Rank, prev)
		prev = app.Rank
	}

	equivs := Equivalences{}
	labOf := func(a *applicants.Applicant) string {
		return equivs.Canonical(a.Institute) + " / " + equivs.Canonical(a.Group)
	}
	for i, a := range outcome.Ranked {
		for j, b := range outcome.Ranked {
			if i == j {
				continue
			}
			sameLab := labOf(a) == labOf(b)
			assert.Equal(t, sameLab, a.Rank == b.Rank,
				"%s vs %s: lab equality must match rank equality", a.Name, b.Name)
		}
	}
}

func TestScoreAndRank_TiesKeepInputOrder(t *testing.T) {
	f, err := formula.Compile("motivation")
	require.NoError(t, err)

	cands := []Candidate{
		newCandidate("First", "A", "1", 0.5),
		newCandidate("Second", "B", "1", 0.5),
		newCandidate("Third", "C", "1", 0.5),
	}

	outcome, err := ScoreAndRank(cands, f, rankingTables(), Equivalences{}, "Germany")
	require.NoError(t, err)

	assert.Equal(t, "First", outcome.Ranked[0].Name)
	assert.Equal(t, "Second", outcome.Ranked[1].Name)
	assert.Equal(t, "Third", outcome.Ranked[2].Name)
}

func TestScoreAndRank_EquivalencesMergeLabs(t *testing.T) {
	f, err := formula.Compile("motivation")
	require.NoError(t, err)

	equivs := Equivalences{"University of Lisbon": {"Uni Lisbon"}}
	cands := []Candidate{
		newCandidate("A", "University of Lisbon", "Neuro", 0.9),
		newCandidate("B", "uni lisbon", "neuro", 0.1),
	}

	outcome, err := ScoreAndRank(cands, f, rankingTables(), equivs, "Germany")
	require.NoError(t, err)

	assert.Equal(t, 0, outcome.Ranked[0].Rank)
	assert.Equal(t, 0, outcome.Ranked[1].Rank)
}

func TestScoreAndRank_UngradedScoreIsNaNAndSortsLast(t *testing.T) {
	f, err := formula.Compile("motivation + cv")
	require.NoError(t, err)

	graded := newCandidate("Graded", "A", "1", -1)
	ungraded := newCandidate("Ungraded", "B", "1", 0)
	ungraded.Motivation = nil
	ungraded.CV = nil

	outcome, err := ScoreAndRank([]Candidate{ungraded, graded}, f, rankingTables(), Equivalences{}, "Germany")
	require.NoError(t, err)

	assert.Equal(t, "Graded", outcome.Ranked[0].Name)
	assert.Equal(t, "Ungraded", outcome.Ranked[1].Name)
	assert.True(t, math.IsNaN(outcome.Ranked[1].Score))
	// NaN scores are legitimate (missing reviewer grades) and still ranked.
	assert.Equal(t, 1, outcome.Ranked[1].Rank)
}

func TestScoreAndRank_MissingRatingSurfaces(t *testing.T) {
	f, err := formula.Compile("motivation")
	require.NoError(t, err)

	cand := newCandidate("A", "X", "1", 0.5)
	cand.Applicant.Programming = "wizard"

	_, err = ScoreAndRank([]Candidate{cand}, f, rankingTables(), Equivalences{}, "Germany")
	require.Error(t, err)

	var missing *rating.MissingRatingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "programming", missing.Category)
	assert.Equal(t, "wizard", missing.Key)
}

func TestScoreAndRank_ScoresWithinBounds(t *testing.T) {
	f, err := formula.Compile("motivation + cv + programming + open_source + python")
	require.NoError(t, err)

	cands := []Candidate{
		newCandidate("A", "X", "1", 1),
		newCandidate("B", "Y", "1", -1),
	}

	outcome, err := ScoreAndRank(cands, f, rankingTables(), Equivalences{}, "Germany")
	require.NoError(t, err)

	for _, app := range outcome.Ranked {
		assert.GreaterOrEqual(t, app.Score, outcome.MinScore)
		assert.LessOrEqual(t, app.Score, outcome.MaxScore)
	}
}
