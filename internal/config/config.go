// Package config loads, validates and saves the grading configuration:
// the scoring formula, the rating tables, lab equivalences, reviewer
// grades, confirmation labels and the group-optimizer parameters. All of
// it lives in one YAML file so a year's grading state travels as a single
// artifact.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jakechorley/cohort-grader/pkg/core/formula"
	"github.com/jakechorley/cohort-grader/pkg/core/rating"
	"github.com/jakechorley/cohort-grader/pkg/core/ranking"
)

// ReviewerIdentities is the fixed set of reviewer indices grades are
// recorded under.
var ReviewerIdentities = []int{0, 1}

// DefaultAcceptCount is used when the config does not set one.
const DefaultAcceptCount = 30

// FormulaConfig holds the scoring expression and the accept threshold.
type FormulaConfig struct {
	Expression  string `yaml:"expression"`
	AcceptCount int    `yaml:"acceptCount" validate:"min=0"`
}

// RatingsConfig holds the three skill rating tables the formula draws
// its programming, open_source and python variables from.
type RatingsConfig struct {
	Programming rating.Table `yaml:"programming"`
	OpenSource  rating.Table `yaml:"openSource"`
	Python      rating.Table `yaml:"python"`
}

// Tables adapts the config to the formula package's table set.
func (r RatingsConfig) Tables() formula.Tables {
	return formula.Tables{
		Programming: r.Programming,
		OpenSource:  r.OpenSource,
		Python:      r.Python,
	}
}

// FeatureWeight is one balancing feature and its weight in the group
// energy function.
type FeatureWeight struct {
	Name   string  `yaml:"name" validate:"required"`
	Weight float64 `yaml:"weight" validate:"gt=0"`
}

// GroupsConfig holds the group-optimizer parameters.
type GroupsConfig struct {
	GroupSize              int             `yaml:"groupSize" validate:"min=1"`
	Trials                 int             `yaml:"trials" validate:"min=1"`
	Iterations             int             `yaml:"iterations" validate:"min=0"`
	AcceptWorseProbability float64         `yaml:"acceptWorseProbability" validate:"min=0,max=1"`
	Seed                   string          `yaml:"seed" validate:"required"`
	Features               []FeatureWeight `yaml:"features" validate:"min=1,dive"`
}

// Config is the full grading configuration.
type Config struct {
	// HostCountry is the distinguished country the bounds analyzer pairs
	// against a sentinel in the nation/country domains.
	HostCountry string `yaml:"hostCountry" validate:"required"`

	Formula FormulaConfig `yaml:"formula"`
	Ratings RatingsConfig `yaml:"ratings"`

	// GroupRatings maps each balancing feature to its own rating table,
	// keyed by normalized (lowercased, first-token) labels.
	GroupRatings map[string]rating.Table `yaml:"groupRatings"`

	// Equivalences is the lab-equivalence table for rank collapsing.
	Equivalences ranking.Equivalences `yaml:"equivalences"`

	// Gradings holds reviewer grades per category ("motivation", "cv"),
	// reviewer identity and applicant full name.
	Gradings map[string]map[int]map[string]float64 `yaml:"gradings"`

	// Labels tags applicants (keyed by lowercased full name) with workflow
	// markers such as CONFIRMED.
	Labels map[string][]string `yaml:"labels"`

	Groups GroupsConfig `yaml:"groups"`
}

var validate = validator.New()

// Load reads and validates the configuration from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration back to path. Grading state is personal
// data, so the file is not group or world readable.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate runs struct validation plus a syntax check of the formula.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if cfg.Formula.Expression != "" {
		if _, err := formula.Compile(cfg.Formula.Expression); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}
	for _, feature := range cfg.Groups.Features {
		if _, ok := cfg.GroupRatings[feature.Name]; !ok {
			return fmt.Errorf("config validation failed: no group rating table for feature %q",
				feature.Name)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Formula.AcceptCount == 0 {
		c.Formula.AcceptCount = DefaultAcceptCount
	}
	if c.GroupRatings == nil {
		c.GroupRatings = map[string]rating.Table{}
	}
	if c.Equivalences == nil {
		c.Equivalences = ranking.Equivalences{}
	}
	if c.Labels == nil {
		c.Labels = map[string][]string{}
	}
	if c.Gradings == nil {
		c.Gradings = map[string]map[int]map[string]float64{}
	}
}

// SetFormula syntax-checks expr before storing it, so a typo never
// replaces a working formula.
func (c *Config) SetFormula(expr string) error {
	if _, err := formula.Compile(expr); err != nil {
		return err
	}
	c.Formula.Expression = expr
	return nil
}

// CompiledFormula compiles the configured expression.
func (c *Config) CompiledFormula() (*formula.Formula, error) {
	if c.Formula.Expression == "" {
		return nil, fmt.Errorf("formula not set yet")
	}
	return formula.Compile(c.Formula.Expression)
}

// Grades returns the grades recorded for one applicant in one category,
// across all reviewer identities, in identity order. Identities that have
// not graded yet are skipped.
func (c *Config) Grades(category, fullName string) []float64 {
	byIdentity := c.Gradings[category]
	var grades []float64
	for _, identity := range ReviewerIdentities {
		if grade, ok := byIdentity[identity][fullName]; ok {
			grades = append(grades, grade)
		}
	}
	return grades
}

// Grade looks up a single reviewer's grade.
func (c *Config) Grade(category string, identity int, fullName string) (float64, bool) {
	grade, ok := c.Gradings[category][identity][fullName]
	return grade, ok
}

// SetGrade records a reviewer's grade, creating the nested maps on first
// use.
func (c *Config) SetGrade(category string, identity int, fullName string, grade float64) {
	if c.Gradings[category] == nil {
		c.Gradings[category] = map[int]map[string]float64{}
	}
	if c.Gradings[category][identity] == nil {
		c.Gradings[category][identity] = map[string]float64{}
	}
	c.Gradings[category][identity][fullName] = grade
}

// RatingTable returns the named skill rating table.
func (c *Config) RatingTable(category string) (rating.Table, bool) {
	switch category {
	case "programming":
		return c.Ratings.Programming, true
	case "open_source":
		return c.Ratings.OpenSource, true
	case "python":
		return c.Ratings.Python, true
	}
	return nil, false
}

// SetRating writes one entry of a skill rating table, creating the table
// on first use.
func (c *Config) SetRating(category, key string, value float64) error {
	switch category {
	case "programming":
		if c.Ratings.Programming == nil {
			c.Ratings.Programming = rating.Table{}
		}
		c.Ratings.Programming[key] = value
	case "open_source":
		if c.Ratings.OpenSource == nil {
			c.Ratings.OpenSource = rating.Table{}
		}
		c.Ratings.OpenSource[key] = value
	case "python":
		if c.Ratings.Python == nil {
			c.Ratings.Python = rating.Table{}
		}
		c.Ratings.Python[key] = value
	default:
		return fmt.Errorf("unknown rating category %q", category)
	}
	return nil
}
