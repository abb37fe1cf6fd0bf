package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
hostCountry: Germany
formula:
  expression: "motivation + cv + programming"
  acceptCount: 30
ratings:
  programming:
    novice: -1
    competent: 0
    expert: 1
  openSource:
    never: -1
    user: 0
    contributor: 1
  python:
    none: -1
    some: 0
    expert: 1
groupRatings:
  gender:
    female: 1
    male: 0
  python:
    none: -1
    some: 0
    expert: 1
equivalences:
  University of Lisbon:
    - Uni Lisbon
gradings:
  motivation:
    0:
      Ana Silva: 1
    1:
      Ana Silva: 0
labels:
  ana silva:
    - CONFIRMED
groups:
  groupSize: 4
  trials: 100
  iterations: 1000
  acceptWorseProbability: 0
  seed: summer-2026
  features:
    - name: gender
      weight: 1
    - name: python
      weight: 1
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "grader.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_ParsesFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "Germany", cfg.HostCountry)
	assert.Equal(t, "motivation + cv + programming", cfg.Formula.Expression)
	assert.Equal(t, 30, cfg.Formula.AcceptCount)
	assert.Equal(t, 1.0, cfg.Ratings.Programming["expert"])
	assert.Equal(t, "University of Lisbon", cfg.Equivalences.Canonical("uni lisbon"))
	assert.Equal(t, []float64{1, 0}, cfg.Grades("motivation", "Ana Silva"))
	assert.Equal(t, []string{"CONFIRMED"}, cfg.Labels["ana silva"])
	assert.Equal(t, 4, cfg.Groups.GroupSize)
	assert.Equal(t, "summer-2026", cfg.Groups.Seed)
}

func TestLoad_RejectsInvalidFormula(t *testing.T) {
	bad := writeConfig(t, `
hostCountry: Germany
formula:
  expression: "motivation + "
groups:
  groupSize: 4
  trials: 1
  seed: s
  features:
    - name: gender
      weight: 1
groupRatings:
  gender: {}
`)
	_, err := Load(bad)
	assert.Error(t, err)
}

func TestLoad_RejectsFeatureWithoutRatingTable(t *testing.T) {
	bad := writeConfig(t, `
hostCountry: Germany
groups:
  groupSize: 4
  trials: 1
  seed: s
  features:
    - name: vcs
      weight: 1
`)
	_, err := Load(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no group rating table for feature "vcs"`)
}

func TestLoad_RejectsMissingHostCountry(t *testing.T) {
	bad := writeConfig(t, `
groups:
  groupSize: 4
  trials: 1
  seed: s
  features:
    - name: gender
      weight: 1
groupRatings:
  gender: {}
`)
	_, err := Load(bad)
	assert.Error(t, err)
}

func TestLoad_DefaultsAcceptCount(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
hostCountry: Germany
groups:
  groupSize: 4
  trials: 1
  seed: s
  features:
    - name: gender
      weight: 1
groupRatings:
  gender: {}
`))
	require.NoError(t, err)
	assert.Equal(t, DefaultAcceptCount, cfg.Formula.AcceptCount)
}

func TestSetFormula_InvalidKeepsOldFormula(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	err = cfg.SetFormula("motivation + (")
	require.Error(t, err)
	assert.Equal(t, "motivation + cv + programming", cfg.Formula.Expression)

	require.NoError(t, cfg.SetFormula("cv"))
	assert.Equal(t, "cv", cfg.Formula.Expression)
}

func TestSaveAndReload_RoundTrips(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	cfg.SetGrade("cv", 1, "Ana Silva", -1)
	require.NoError(t, cfg.SetRating("programming", "guru", 1))
	cfg.Equivalences.Add("University of Lisbon", "ULisboa")

	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reloaded, err := Load(path)
	require.NoError(t, err)

	grade, ok := reloaded.Grade("cv", 1, "Ana Silva")
	require.True(t, ok)
	assert.Equal(t, -1.0, grade)
	assert.Equal(t, 1.0, reloaded.Ratings.Programming["guru"])
	assert.Equal(t, "University of Lisbon", reloaded.Equivalences.Canonical("ulisboa"))
}

func TestGrades_SkipsIdentitiesWithoutGrade(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	assert.Empty(t, cfg.Grades("motivation", "Nobody Here"))

	cfg.SetGrade("motivation", 1, "Ana Silva", 1)
	assert.Equal(t, []float64{1}, cfg.Grades("motivation", "Ana Silva"))
}

func TestRatingTable_Lookup(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	table, ok := cfg.RatingTable("python")
	require.True(t, ok)
	assert.Equal(t, 1.0, table["expert"])

	_, ok = cfg.RatingTable("juggling")
	assert.False(t, ok)
}
