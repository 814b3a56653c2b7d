package search

import (
	"strings"
	"sync"
)

// Memory matches queries by case-insensitive substring on name and course code.
type Memory struct {
	mu      sync.RWMutex
	records []CourseRecord
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Replace(records []CourseRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append([]CourseRecord(nil), records...)
}

func (m *Memory) Healthy() bool {
	return true
}

func (m *Memory) Search(q Query) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	text := strings.ToLower(strings.TrimSpace(q.Text))
	var prefix, contains []string
	for _, r := range m.records {
		if q.Year != 0 && !hasYear(r.Years, q.Year) {
			continue
		}
		name, code := strings.ToLower(r.Name), strings.ToLower(r.CourseCode)
		switch {
		case text == "":
			contains = append(contains, r.CourseCode)
		case strings.HasPrefix(code, text) || strings.HasPrefix(name, text):
			prefix = append(prefix, r.CourseCode)
		case strings.Contains(code, text) || strings.Contains(name, text):
			contains = append(contains, r.CourseCode)
		}
	}

	codes := append(prefix, contains...)
	if len(codes) > q.limit() {
		codes = codes[:q.limit()]
	}
	if codes == nil {
		codes = []string{}
	}
	return codes, nil
}

func hasYear(years []int, year int) bool {
	for _, y := range years {
		if y == year {
			return true
		}
	}
	return false
}
