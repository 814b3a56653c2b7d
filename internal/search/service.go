package search

import (
	"go.uber.org/zap"
)

// Service tries Meilisearch first and falls back to the in-memory matcher.
type Service struct {
	meili  *Meili
	memory *Memory
	logger *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{meili: meili, memory: NewMemory(), logger: logger}
}

// Search returns matching course codes in rank order.
func (s *Service) Search(q Query) []string {
	if s.meili != nil && s.meili.Healthy() {
		codes, err := s.meili.Search(q)
		if err == nil {
			return codes
		}
		s.logger.Warn("meilisearch error, falling back to memory search", zap.Error(err))
	}
	codes, _ := s.memory.Search(q)
	return codes
}

// Index replaces the in-memory records and pushes them to Meilisearch in the background.
func (s *Service) Index(records []CourseRecord) {
	s.memory.Replace(records)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexCourses(records); err != nil {
			s.logger.Warn("index courses", zap.Int("courses", len(records)), zap.Error(err))
		}
	}()
}

// Backend names the engine currently answering queries.
func (s *Service) Backend() string {
	if s.meili != nil && s.meili.Healthy() {
		return "meilisearch"
	}
	return "memory"
}

func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}
