package domain

import (
	"time"
)

// EntityState — состояние обработки сущности, разбитой на под-задачи.
//
// Создаётся producer'ом при рассылке под-задач. Меняется только
// атомарными декрементами агрегатора. После перехода в терминальный
// статус больше не меняется (до повторной рассылки).
type EntityState struct {
	// EntityID — идентификатор сущности.
	EntityID string `json:"entity_id"`

	// Key — тенант, которому принадлежит сущность.
	Key string `json:"key"`

	// Status — текущий статус.
	Status EntityStatus `json:"status"`

	// Degraded — хотя бы одна под-задача завершилась ошибкой.
	Degraded bool `json:"degraded"`

	// Counters — оставшееся количество под-задач по измерениям.
	Counters map[Dimension]int `json:"counters"`

	// Initial — исходное количество под-задач по измерениям.
	Initial map[Dimension]int `json:"initial"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewEntityState создаёт состояние со счётчиками по списку задач.
func NewEntityState(key, entityID string, tasks []Task) *EntityState {
	now := time.Now().UTC()
	state := &EntityState{
		EntityID:  entityID,
		Key:       key,
		Status:    EntityStatusPending,
		Counters:  make(map[Dimension]int),
		Initial:   make(map[Dimension]int),
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, task := range tasks {
		if dim := task.Kind().Dimension(); dim != "" {
			state.Counters[dim]++
			state.Initial[dim]++
		}
	}

	return state
}

// Outstanding возвращает общее количество незавершённых под-задач.
func (s *EntityState) Outstanding() int {
	total := 0
	for _, n := range s.Counters {
		total += n
	}
	return total
}

// IsFinished возвращает true, если статус терминальный.
func (s *EntityState) IsFinished() bool {
	return s.Status.IsTerminal()
}

// TerminalStatus возвращает статус, в который перейдёт сущность,
// когда все счётчики обнулятся.
func (s *EntityState) TerminalStatus() EntityStatus {
	if s.Degraded {
		return EntityStatusDegraded
	}
	return EntityStatusSucceeded
}

// AllZero проверяет, что все счётчики равны нулю.
func AllZero(counters map[Dimension]int) bool {
	for _, n := range counters {
		if n != 0 {
			return false
		}
	}
	return true
}
