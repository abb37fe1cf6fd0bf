// Package applicants holds the application record model and the parser
// for the survey tool's CSV export.
package applicants

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Fields is the exact column set of the application export, in order.
// The parser refuses files whose header does not have this shape.
var Fields = []string{
	"id", "completed", "last_page_seen", "start_language",
	"date_last_action", "date_started",
	"ip_address", "referrer",
	"nation", "born", "gender",
	"institute", "group", "country",
	"position", "position_other",
	"applied",
	"programming", "python", "programming_description",
	"open_source", "open_source_description",
	"motivation", "cv",
	"name", "lastname", "email",
	"token",
}

// Applicant is one application record. The survey fields are immutable
// once parsed; Score and Rank are filled in later by the ranker.
type Applicant struct {
	ID           string
	Completed    string
	LastPageSeen string
	StartLang    string
	LastAction   string
	Started      string
	IPAddress    string
	Referrer     string

	Nation        string
	Born          int
	Gender        string
	Institute     string
	Group         string
	Country       string
	Position      string
	PositionOther string

	// Applied is the raw "applied before" answer, e.g. "Yes" or "no".
	Applied string

	Programming            string
	Python                 string
	ProgrammingDescription string
	OpenSource             string
	OpenSourceDescription  string

	// Motivation and CV are the free-text statements reviewers grade.
	Motivation string
	CV         string

	Name     string
	LastName string
	Email    string
	Token    string

	// Score and Rank are assigned by the ranker. Score defaults to NaN,
	// Rank to -1, until a ranking run has happened.
	Score float64
	Rank  int
}

// FullName joins first and last name the way the grading config keys
// reviewer grades.
func (a *Applicant) FullName() string {
	return a.Name + " " + a.LastName
}

// AppliedBefore reports whether the applicant applied in a previous year.
// Any answer not starting with 'n' or 'N' counts as yes.
func (a *Applicant) AppliedBefore() bool {
	return a.Applied != "" && a.Applied[0] != 'n' && a.Applied[0] != 'N'
}

// IsFemale reports the gender flag the formula sees as `female`.
func (a *Applicant) IsFemale() bool {
	return a.Gender == "Female"
}

// ParseCSV reads the application export. The header row must match Fields
// column for column.
func ParseCSV(r io.Reader) ([]*Applicant, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(Fields)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read applications header: %w", err)
	}
	for i, want := range Fields {
		if strings.TrimSpace(header[i]) != want {
			return nil, fmt.Errorf("unexpected applications header: column %d is %q, want %q",
				i, header[i], want)
		}
	}

	var apps []*Applicant
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read application row %d: %w", len(apps)+2, err)
		}
		app, err := fromRecord(record)
		if err != nil {
			return nil, fmt.Errorf("bad application row %d: %w", len(apps)+2, err)
		}
		apps = append(apps, app)
	}
	return apps, nil
}

func fromRecord(record []string) (*Applicant, error) {
	get := func(name string) string {
		for i, field := range Fields {
			if field == name {
				return record[i]
			}
		}
		return ""
	}

	born, err := strconv.Atoi(strings.TrimSpace(get("born")))
	if err != nil {
		return nil, fmt.Errorf("invalid birth year %q: %w", get("born"), err)
	}

	return &Applicant{
		ID:           get("id"),
		Completed:    get("completed"),
		LastPageSeen: get("last_page_seen"),
		StartLang:    get("start_language"),
		LastAction:   get("date_last_action"),
		Started:      get("date_started"),
		IPAddress:    get("ip_address"),
		Referrer:     get("referrer"),

		Nation:        get("nation"),
		Born:          born,
		Gender:        get("gender"),
		Institute:     get("institute"),
		Group:         get("group"),
		Country:       get("country"),
		Position:      get("position"),
		PositionOther: get("position_other"),

		Applied: get("applied"),

		Programming:            get("programming"),
		Python:                 get("python"),
		ProgrammingDescription: get("programming_description"),
		OpenSource:             get("open_source"),
		OpenSourceDescription:  get("open_source_description"),

		Motivation: get("motivation"),
		CV:         get("cv"),

		Name:     get("name"),
		LastName: get("lastname"),
		Email:    get("email"),
		Token:    get("token"),

		Score: math.NaN(),
		Rank:  -1,
	}, nil
}

// GradeMean averages the available reviewer grades; no grades means NaN.
func GradeMean(grades []float64) float64 {
	if len(grades) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, g := range grades {
		sum += g
	}
	return sum / float64(len(grades))
}
