// Package services wires the configuration and the parsed applications
// into the core scoring, ranking and grouping calls. The core packages
// stay free of I/O and configuration; everything ambient happens here.
package services

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/jakechorley/cohort-grader/internal/config"
	"github.com/jakechorley/cohort-grader/pkg/applicants"
	"github.com/jakechorley/cohort-grader/pkg/core/ranking"
)

// RankOutcome is a ranking run plus the accept threshold it should be
// read against.
type RankOutcome struct {
	*ranking.Outcome
	AcceptCount int
}

// Accepted reports whether the applicant clears the accept threshold on
// its own: rank below the cutoff and nobody else sharing the rank.
func (o *RankOutcome) Accepted(a *applicants.Applicant) bool {
	return a.Rank < o.AcceptCount && o.RankCounts[a.Rank] == 1
}

// SameLabConflict reports whether the applicant clears the threshold but
// shares its rank with labmates, so acceptance needs a manual decision.
func (o *RankOutcome) SameLabConflict(a *applicants.Applicant) bool {
	return a.Rank < o.AcceptCount && o.RankCounts[a.Rank] != 1
}

// Rejected reports whether the applicant's rank misses the threshold.
func (o *RankOutcome) Rejected(a *applicants.Applicant) bool {
	return a.Rank >= o.AcceptCount
}

// RankApplicants scores and ranks every application using the configured
// formula, rating tables and lab equivalences.
func RankApplicants(cfg *config.Config, apps []*applicants.Applicant, logger *zap.Logger) (*RankOutcome, error) {
	f, err := cfg.CompiledFormula()
	if err != nil {
		return nil, err
	}

	cands := make([]ranking.Candidate, len(apps))
	for i, app := range apps {
		cands[i] = ranking.Candidate{
			Applicant:  app,
			Motivation: cfg.Grades("motivation", app.FullName()),
			CV:         cfg.Grades("cv", app.FullName()),
		}
	}

	outcome, err := ranking.ScoreAndRank(cands, f, cfg.Ratings.Tables(),
		cfg.Equivalences, cfg.HostCountry)
	if err != nil {
		return nil, fmt.Errorf("ranking failed: %w", err)
	}

	logger.Info("Applications ranked",
		zap.Int("applicants", len(outcome.Ranked)),
		zap.Int("labs", len(outcome.Labs)),
		zap.Float64("min_score", outcome.MinScore),
		zap.Float64("max_score", outcome.MaxScore))

	return &RankOutcome{Outcome: outcome, AcceptCount: cfg.Formula.AcceptCount}, nil
}
