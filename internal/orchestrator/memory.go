package orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/repo"
)

// DefaultMemoryCapacity — число прогонов, хранимых MemoryStore.
const DefaultMemoryCapacity = 100

// MemoryStore хранит последние прогоны в памяти.
// Используется, когда база данных не настроена.
type MemoryStore struct {
	capacity int

	mu    sync.RWMutex
	order []uuid.UUID
	runs  map[uuid.UUID]*domain.Run
}

// NewMemoryStore создаёт MemoryStore. capacity <= 0 — DefaultMemoryCapacity.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{capacity: capacity, runs: make(map[uuid.UUID]*domain.Run)}
}

func (s *MemoryStore) Create(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *run
	s.runs[run.ID] = &cp
	s.order = append(s.order, run.ID)
	if len(s.order) > s.capacity {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

func (s *MemoryStore) Finish(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		return repo.ErrNotFound
	}
	cp := *run
	cp.Results = append([]domain.TaskResult(nil), run.Results...)
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

// List возвращает прогоны, новые первыми, без результатов задач.
func (s *MemoryStore) List(_ context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Run
	skipped := 0
	for i := len(s.order) - 1; i >= 0; i-- {
		run := *s.runs[s.order[i]]
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if filter.Trigger != "" && run.Trigger != filter.Trigger {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		run.Results = nil
		out = append(out, run)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

var _ RunStore = (*MemoryStore)(nil)
var _ RunStore = (*repo.RunRepo)(nil)
