package main

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/jakechorley/cohort-grader/pkg/applicants"
	"github.com/jakechorley/cohort-grader/pkg/core/rating"
)

const shortTextWidth = 72

// filterByName keeps the applications whose full name contains any of
// the given fragments, case insensitively.
func filterByName(persons []*applicants.Applicant, fragments []string) []*applicants.Applicant {
	var matched []*applicants.Applicant
	for _, p := range persons {
		name := strings.ToLower(p.FullName())
		for _, fragment := range fragments {
			if strings.Contains(name, strings.ToLower(fragment)) {
				matched = append(matched, p)
				break
			}
		}
	}
	return matched
}

// sortedByRank returns a copy sorted by rank, unranked applications last.
func sortedByRank(persons []*applicants.Applicant) []*applicants.Applicant {
	ranked := make([]*applicants.Applicant, len(persons))
	copy(ranked, persons)
	sort.SliceStable(ranked, func(i, j int) bool {
		ri, rj := ranked[i].Rank, ranked[j].Rank
		if ri < 0 {
			return false
		}
		if rj < 0 {
			return true
		}
		return ri < rj
	})
	return ranked
}

func anyRanked(persons []*applicants.Applicant) bool {
	for _, p := range persons {
		if p.Rank >= 0 {
			return true
		}
	}
	return false
}

func applicantContains(p *applicants.Applicant, needle string) bool {
	needle = strings.ToLower(needle)
	haystacks := []string{
		p.FullName(), p.Email, p.Institute, p.Group, p.Nation, p.Country,
		p.Programming, p.Python, p.OpenSource,
		p.ProgrammingDescription, p.OpenSourceDescription,
		p.Motivation, p.CV,
	}
	for _, haystack := range haystacks {
		if strings.Contains(strings.ToLower(haystack), needle) {
			return true
		}
	}
	return false
}

// applicantRatingLabel returns the free-text answer the category's rating
// table keys on.
func applicantRatingLabel(p *applicants.Applicant, category string) string {
	switch category {
	case "programming":
		return p.Programming
	case "open_source":
		return p.OpenSource
	case "python":
		return p.Python
	}
	return ""
}

// dumpOne prints a single application. With long set, the free texts are
// printed in full instead of being cut at one line.
func dumpOne(p *applicants.Applicant, long bool) {
	score := "-"
	if !math.IsNaN(p.Score) {
		score = fmt.Sprintf("%.3f", p.Score)
	}

	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("%s  <%s>\n", p.FullName(), p.Email)
	fmt.Printf("%s / %s\n", p.Institute, p.Group)
	fmt.Printf("born: %d  gender: %s\n", p.Born, p.Gender)
	fmt.Printf("nationality: %s  country of affiliation: %s\n", p.Nation, p.Country)
	fmt.Printf("position: %s%s\n", p.Position, otherSuffix(p.PositionOther))
	fmt.Printf("appl.prev.: %s\n", p.Applied)
	for _, category := range ratingCategories {
		label := applicantRatingLabel(p, category)
		fmt.Printf("%s: %s [%s]\n", category, label, ratedAs(category, label))
	}
	if long {
		fmt.Printf("programming description: %s\n", wrapText(p.ProgrammingDescription, 70))
		fmt.Printf("open source description: %s\n", wrapText(p.OpenSourceDescription, 70))
	}
	fmt.Printf("motivation%s: %s\n", gradesSuffix("motivation", p), freeText(p.Motivation, long))
	fmt.Printf("cv%s: %s\n", gradesSuffix("cv", p), freeText(p.CV, long))
	fmt.Printf("score: %s  rank: %s\n", score, rankLabel(p.Rank))
}

func otherSuffix(other string) string {
	if other == "" {
		return ""
	}
	return " (" + other + ")"
}

func ratedAs(category, label string) string {
	table, ok := app.cfg.RatingTable(category)
	if !ok {
		return "-"
	}
	value, err := rating.Resolve(category, table, label)
	if err != nil {
		return "-"
	}
	return fmt.Sprintf("%g", value)
}

func gradesSuffix(category string, p *applicants.Applicant) string {
	grades := app.cfg.Grades(category, p.FullName())
	if len(grades) == 0 {
		return ""
	}
	parts := make([]string, len(grades))
	for i, grade := range grades {
		parts[i] = fmt.Sprintf("%g", grade)
	}
	return " [" + strings.Join(parts, " ") + "]"
}

func rankLabel(rank int) string {
	if rank < 0 {
		return "-"
	}
	return fmt.Sprintf("%d", rank)
}

func freeText(text string, long bool) string {
	if long {
		return wrapText(text, 70)
	}
	text = strings.Join(strings.Fields(text), " ")
	if runes := []rune(text); len(runes) > shortTextWidth {
		return string(runes[:shortTextWidth-3]) + "..."
	}
	return text
}

// wrapText rewraps text to the given width, keeping paragraph breaks.
func wrapText(text string, width int) string {
	var out []string
	for _, paragraph := range strings.Split(text, "\n\n") {
		words := strings.Fields(paragraph)
		if len(words) == 0 {
			continue
		}
		var lines []string
		line := words[0]
		for _, word := range words[1:] {
			if len(line)+1+len(word) > width {
				lines = append(lines, line)
				line = word
				continue
			}
			line += " " + word
		}
		lines = append(lines, line)
		out = append(out, strings.Join(lines, "\n"))
	}
	return strings.Join(out, "\n\n")
}

func printTableSorted(table rating.Table) {
	for _, key := range table.SortedKeys() {
		fmt.Printf("%-40s %g\n", key, table[key])
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func formatRow(row []float64) string {
	parts := make([]string, len(row))
	for i, v := range row {
		parts[i] = fmt.Sprintf("%.3f", v)
	}
	return strings.Join(parts, ", ")
}
