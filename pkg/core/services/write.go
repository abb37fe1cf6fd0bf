package services

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/jakechorley/cohort-grader/pkg/applicants"
)

// Mail-merge output files, one per decision bucket.
const (
	AcceptedFile = "applications_accepted.csv"
	SameLabFile  = "applications_same_lab.csv"
	RejectedFile = "applications_rejected.csv"
)

// mailMergeHeader matches the placeholders of the mail template.
var mailMergeHeader = []string{"$NAME$", "$SURNAME$", "$EMAIL$"}

// WriteRecipientLists splits the ranked applicants into accepted,
// same-lab-conflict and rejected buckets and writes one semicolon-
// separated mail-merge file per bucket into dir. Returns the written
// paths.
func WriteRecipientLists(outcome *RankOutcome, dir string, logger *zap.Logger) ([]string, error) {
	buckets := []struct {
		file    string
		include func(*applicants.Applicant) bool
	}{
		{AcceptedFile, outcome.Accepted},
		{SameLabFile, outcome.SameLabConflict},
		{RejectedFile, outcome.Rejected},
	}

	logger.Info("Writing recipient lists",
		zap.Int("accept_count", outcome.AcceptCount),
		zap.String("dir", dir))

	paths := make([]string, 0, len(buckets))
	for _, bucket := range buckets {
		path := filepath.Join(dir, bucket.file)
		count, err := writeRecipients(path, outcome, bucket.include)
		if err != nil {
			return nil, err
		}
		logger.Info("Recipient list written",
			zap.String("file", path),
			zap.Int("recipients", count))
		paths = append(paths, path)
	}
	return paths, nil
}

func writeRecipients(path string, outcome *RankOutcome, include func(*applicants.Applicant) bool) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = ';'

	if err := w.Write(mailMergeHeader); err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", path, err)
	}

	count := 0
	for _, app := range outcome.Ranked {
		if !include(app) {
			continue
		}
		if err := w.Write([]string{app.Name, app.LastName, app.Email}); err != nil {
			return 0, fmt.Errorf("failed to write %s: %w", path, err)
		}
		count++
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("failed to close %s: %w", path, err)
	}
	return count, nil
}
