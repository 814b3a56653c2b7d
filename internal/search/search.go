// Package search indexes catalog courses for the catalog reader. Meilisearch is used when it is
// reachable; an in-memory matcher answers otherwise.
package search

import (
	"regexp"
	"sort"
	"strings"

	"pecademic/api/internal/catalog"
)

// CourseRecord is the searchable view of one catalog course.
type CourseRecord struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CourseCode string `json:"course_code"`
	Years      []int  `json:"years"`
	Papers     int    `json:"papers"`
}

// Query describes a catalog search.
type Query struct {
	Text  string
	Year  int
	Limit int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 50
	}
	return q.Limit
}

// Searcher returns the course codes matching a query, best match first.
type Searcher interface {
	Search(q Query) ([]string, error)
	Healthy() bool
}

var unsafeID = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Records converts a catalog to index records. Later duplicates of a course code are skipped so
// the index agrees with the first-match rule used when merging.
func Records(c catalog.Catalog) []CourseRecord {
	records := make([]CourseRecord, 0, len(c))
	seen := make(map[string]bool, len(c))
	for _, course := range c {
		if seen[course.CourseCode] {
			continue
		}
		seen[course.CourseCode] = true

		years := make([]int, 0, len(course.Resources.PYQs))
		have := make(map[int]bool)
		for _, pyq := range course.Resources.PYQs {
			year := int(pyq.Year)
			if year == 0 || have[year] {
				continue
			}
			have[year] = true
			years = append(years, year)
		}
		sort.Ints(years)

		records = append(records, CourseRecord{
			ID:         recordID(course.CourseCode),
			Name:       course.Name,
			CourseCode: course.CourseCode,
			Years:      years,
			Papers:     len(course.Resources.PYQs),
		})
	}
	return records
}

func recordID(code string) string {
	id := unsafeID.ReplaceAllString(strings.TrimSpace(code), "_")
	if id == "" {
		return "_"
	}
	return id
}
