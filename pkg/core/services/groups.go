package services

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jakechorley/cohort-grader/internal/config"
	"github.com/jakechorley/cohort-grader/pkg/applicants"
	"github.com/jakechorley/cohort-grader/pkg/core/groups"
	"github.com/jakechorley/cohort-grader/pkg/core/rating"
)

// ConfirmedLabel marks an applicant as a confirmed participant in the
// labels table.
const ConfirmedLabel = "CONFIRMED"

// featureAttr maps a balancing feature name to the applicant field it
// reads.
var featureAttr = map[string]func(*applicants.Applicant) string{
	"gender":      func(a *applicants.Applicant) string { return a.Gender },
	"python":      func(a *applicants.Applicant) string { return a.Python },
	"programming": func(a *applicants.Applicant) string { return a.Programming },
	"open_source": func(a *applicants.Applicant) string { return a.OpenSource },
}

// GroupsReport is the outcome of a group-creation run, mapped back to
// people.
type GroupsReport struct {
	// RunID correlates this run's log lines and printed report.
	RunID uuid.UUID

	// Members holds the winning partition, group by group.
	Members [][]*applicants.Applicant

	Matrix *groups.Matrix
	Result *groups.Result
}

// GroupAverages returns the per-group mean of each feature column for the
// winning partition, group by group.
func (r *GroupsReport) GroupAverages() [][]float64 {
	averages := make([][]float64, len(r.Members))
	groupSize := len(r.Members[0])
	for g := range r.Members {
		averages[g] = make([]float64, len(r.Matrix.Features))
		for c := range r.Matrix.Features {
			sum := 0.0
			for i := 0; i < groupSize; i++ {
				sum += r.Matrix.Rows[r.Result.Best.Order[g*groupSize+i]][c]
			}
			averages[g][c] = sum / float64(groupSize)
		}
	}
	return averages
}

// TargetAverages returns the all-participant mean of each feature column,
// the value every group mean is ideally close to.
func (r *GroupsReport) TargetAverages() []float64 {
	targets := make([]float64, len(r.Matrix.Features))
	for c := range r.Matrix.Features {
		sum := 0.0
		for _, row := range r.Matrix.Rows {
			sum += row[c]
		}
		targets[c] = sum / float64(len(r.Matrix.Rows))
	}
	return targets
}

// CreateGroups selects the confirmed participants, builds the feature
// matrix from the group rating tables and runs the optimizer.
func CreateGroups(cfg *config.Config, apps []*applicants.Applicant, logger *zap.Logger) (*GroupsReport, error) {
	confirmed := Participants(cfg, apps)
	if len(confirmed) == 0 {
		return nil, fmt.Errorf("no confirmed participants in labels table")
	}
	if len(confirmed)%cfg.Groups.GroupSize != 0 {
		return nil, fmt.Errorf(
			"%d confirmed participants cannot be split into groups of %d",
			len(confirmed), cfg.Groups.GroupSize)
	}

	matrix, err := buildMatrix(cfg, confirmed)
	if err != nil {
		return nil, err
	}

	runID := uuid.New()
	logger.Info("Optimizing groups",
		zap.String("run_id", runID.String()),
		zap.Int("participants", len(confirmed)),
		zap.Int("group_size", cfg.Groups.GroupSize),
		zap.Int("trials", cfg.Groups.Trials),
		zap.Int("iterations", cfg.Groups.Iterations))

	result, err := groups.Optimize(matrix, groups.Config{
		GroupSize:              cfg.Groups.GroupSize,
		Trials:                 cfg.Groups.Trials,
		Iterations:             cfg.Groups.Iterations,
		AcceptWorseProbability: cfg.Groups.AcceptWorseProbability,
		Seed:                   groups.DeriveSeed(cfg.Groups.Seed, cfg.Groups.Trials),
	})
	if err != nil {
		return nil, fmt.Errorf("group optimization failed: %w", err)
	}

	logger.Info("Groups optimized",
		zap.String("run_id", runID.String()),
		zap.Float64("initial_mean_energy", result.InitialMean),
		zap.Float64("initial_std_energy", result.InitialStdDev),
		zap.Float64("final_mean_energy", result.FinalMean),
		zap.Float64("final_std_energy", result.FinalStdDev),
		zap.Float64("best_energy", result.Best.FinalEnergy),
		zap.Int("best_trial", result.Best.Index))

	members := make([][]*applicants.Applicant, 0, len(confirmed)/cfg.Groups.GroupSize)
	for _, group := range result.Groups(matrix, cfg.Groups.GroupSize) {
		groupMembers := make([]*applicants.Applicant, len(group))
		for i, id := range group {
			groupMembers[i] = confirmed[id]
		}
		members = append(members, groupMembers)
	}

	return &GroupsReport{
		RunID:   runID,
		Members: members,
		Matrix:  matrix,
		Result:  result,
	}, nil
}

// Participants returns the applicants whose labels include CONFIRMED, in
// input order. Labels are keyed by lowercased full name.
func Participants(cfg *config.Config, apps []*applicants.Applicant) []*applicants.Applicant {
	var confirmed []*applicants.Applicant
	for _, app := range apps {
		for _, label := range cfg.Labels[strings.ToLower(app.FullName())] {
			if label == ConfirmedLabel {
				confirmed = append(confirmed, app)
				break
			}
		}
	}
	return confirmed
}

func buildMatrix(cfg *config.Config, confirmed []*applicants.Applicant) (*groups.Matrix, error) {
	features := make([]string, len(cfg.Groups.Features))
	weights := make([]float64, len(cfg.Groups.Features))
	attrs := make([]func(*applicants.Applicant) string, len(cfg.Groups.Features))
	for i, feature := range cfg.Groups.Features {
		attr, ok := featureAttr[feature.Name]
		if !ok {
			return nil, fmt.Errorf("unknown balancing feature %q", feature.Name)
		}
		features[i] = feature.Name
		weights[i] = feature.Weight
		attrs[i] = attr
	}

	matrix := &groups.Matrix{
		Features: features,
		Weights:  weights,
		Rows:     make([][]float64, len(confirmed)),
		IDs:      make([]int, len(confirmed)),
	}
	for idx, app := range confirmed {
		row := make([]float64, len(features))
		for c, feature := range features {
			value, err := rating.Resolve(feature, cfg.GroupRatings[feature],
				NormalizeFeatureLabel(attrs[c](app)))
			if err != nil {
				return nil, fmt.Errorf("cannot rate %s for grouping: %w", app.FullName(), err)
			}
			row[c] = value
		}
		matrix.Rows[idx] = row
		matrix.IDs[idx] = idx
	}
	return matrix, nil
}

// NormalizeFeatureLabel applies the group tables' light normalization:
// lowercase, then repeatedly keep the first token before space, slash and
// comma.
func NormalizeFeatureLabel(label string) string {
	label = strings.ToLower(label)
	for _, sep := range []string{" ", "/", ","} {
		label, _, _ = strings.Cut(label, sep)
	}
	return label
}
