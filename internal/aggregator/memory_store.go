package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/shaiso/Sourcing/internal/domain"
)

// MemoryStore — Store в памяти процесса.
//
// Транзакции сериализуются одним мьютексом; изменения применяются
// только при успешном завершении fn.
type MemoryStore struct {
	mu       sync.Mutex
	entities map[string]*domain.EntityState
	errors   []domain.ErrorRecord
}

// NewMemoryStore создаёт пустой MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entities: make(map[string]*domain.EntityState)}
}

// InTx реализует Store.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, staged: make(map[string]*domain.EntityState)}
	if err := fn(tx); err != nil {
		return err
	}

	for id, state := range tx.staged {
		s.entities[id] = state
	}
	s.errors = append(s.errors, tx.errors...)
	return nil
}

// CreateEntity реализует Store.
func (s *MemoryStore) CreateEntity(_ context.Context, state *domain.EntityState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entities[state.EntityID]; ok && !existing.Status.IsTerminal() {
		return ErrEntityInProgress
	}

	s.entities[state.EntityID] = cloneState(state)
	return nil
}

// ResetEntity реализует Store.
func (s *MemoryStore) ResetEntity(_ context.Context, state *domain.EntityState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entities[state.EntityID] = cloneState(state)
	return nil
}

// GetEntity реализует Store.
func (s *MemoryStore) GetEntity(_ context.Context, entityID string) (*domain.EntityState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.entities[entityID]
	if !ok {
		return nil, ErrEntityNotFound
	}
	return cloneState(state), nil
}

// ErrorRecords возвращает записи об ошибках сущности.
func (s *MemoryStore) ErrorRecords(entityID string) []domain.ErrorRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ErrorRecord
	for _, rec := range s.errors {
		if rec.EntityID == entityID {
			out = append(out, rec)
		}
	}
	return out
}

type memoryTx struct {
	store  *MemoryStore
	staged map[string]*domain.EntityState
	errors []domain.ErrorRecord
}

func (tx *memoryTx) entity(entityID string) (*domain.EntityState, error) {
	if state, ok := tx.staged[entityID]; ok {
		return state, nil
	}
	state, ok := tx.store.entities[entityID]
	if !ok {
		return nil, ErrEntityNotFound
	}
	staged := cloneState(state)
	tx.staged[entityID] = staged
	return staged, nil
}

func (tx *memoryTx) LockEntity(_ context.Context, entityID string) (*domain.EntityState, error) {
	state, err := tx.entity(entityID)
	if err != nil {
		return nil, err
	}
	return cloneState(state), nil
}

func (tx *memoryTx) DecrementCounter(_ context.Context, entityID string, dim domain.Dimension) (bool, map[domain.Dimension]int, error) {
	state, err := tx.entity(entityID)
	if err != nil {
		return false, nil, err
	}

	applied := false
	if state.Counters[dim] > 0 {
		state.Counters[dim]--
		state.UpdatedAt = time.Now().UTC()
		applied = true
	}
	return applied, cloneCounters(state.Counters), nil
}

func (tx *memoryTx) MarkDegraded(_ context.Context, entityID string) error {
	state, err := tx.entity(entityID)
	if err != nil {
		return err
	}
	state.Degraded = true
	return nil
}

func (tx *memoryTx) SetTerminalStatus(_ context.Context, entityID string, status domain.EntityStatus) (bool, error) {
	state, err := tx.entity(entityID)
	if err != nil {
		return false, err
	}
	if state.Status.IsTerminal() {
		return false, nil
	}

	now := time.Now().UTC()
	state.Status = status
	state.UpdatedAt = now
	state.FinishedAt = &now
	return true, nil
}

func (tx *memoryTx) AppendErrorRecord(_ context.Context, rec *domain.ErrorRecord) error {
	tx.errors = append(tx.errors, *rec)
	return nil
}

func cloneState(s *domain.EntityState) *domain.EntityState {
	c := *s
	c.Counters = cloneCounters(s.Counters)
	c.Initial = cloneCounters(s.Initial)
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

func cloneCounters(m map[domain.Dimension]int) map[domain.Dimension]int {
	out := make(map[domain.Dimension]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
