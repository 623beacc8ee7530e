package admission

import (
	"log/slog"
	"sync"
	"time"
)

// Значения конфигурации по умолчанию.
const (
	defaultMinInterval = 500 * time.Millisecond
	defaultExpiry      = time.Hour
)

// State — состояние допуска для ключа.
type State struct {
	// LastProcessedAt — время последнего допуска.
	LastProcessedAt time.Time

	// InFlight — по ключу сейчас выполняется job.
	InFlight bool
}

// Controller — admission controller внутри одного процесса.
//
// Не допускает параллельного выполнения двух jobs с одним ключом
// и выдерживает минимальный интервал между допусками по ключу.
// Состояние не персистентное: при нескольких процессах взаимное
// исключение не гарантируется (см. LeaseController).
type Controller struct {
	clock       Clock
	minInterval time.Duration
	expiry      time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	states map[string]*State
}

// Config — конфигурация Controller.
type Config struct {
	// MinInterval — минимальный интервал между допусками по ключу (default: 500ms).
	// Отрицательное значение отключает ограничение.
	MinInterval time.Duration

	// Expiry — через сколько после последнего допуска запись удаляется (default: 1h).
	Expiry time.Duration

	// Clock — источник времени (default: SystemClock).
	Clock Clock

	Logger *slog.Logger
}

// New создаёт Controller.
func New(cfg Config) *Controller {
	minInterval := cfg.MinInterval
	if minInterval == 0 {
		minInterval = defaultMinInterval
	}
	if minInterval < 0 {
		minInterval = 0
	}

	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = defaultExpiry
	}

	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		clock:       clock,
		minInterval: minInterval,
		expiry:      expiry,
		logger:      logger,
		states:      make(map[string]*State),
	}
}

// TryAdmit пытается допустить job по ключу.
//
// Возвращает false, если по ключу уже выполняется job или с последнего
// допуска прошло меньше MinInterval. При успехе помечает ключ как
// занятый и запоминает время допуска. Проверка и запись атомарны.
func (c *Controller) TryAdmit(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()

	state, ok := c.states[key]
	if !ok {
		state = &State{}
		c.states[key] = state
	} else {
		if state.InFlight {
			return false
		}
		if now.Sub(state.LastProcessedAt) < c.minInterval {
			return false
		}
	}

	state.InFlight = true
	state.LastProcessedAt = now
	return true
}

// Release освобождает ключ после того, как результат job записан.
func (c *Controller) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if state, ok := c.states[key]; ok {
		state.InFlight = false
	}
}

// Purge удаляет записи, допущенные раньше Expiry назад.
// Занятые ключи не удаляются. Возвращает количество удалённых записей.
func (c *Controller) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.clock.Now().Add(-c.expiry)
	removed := 0
	for key, state := range c.states {
		if state.InFlight {
			continue
		}
		if state.LastProcessedAt.Before(cutoff) {
			delete(c.states, key)
			removed++
		}
	}

	if removed > 0 {
		c.logger.Debug("admission entries purged", "removed", removed, "remaining", len(c.states))
	}
	return removed
}

// State возвращает копию состояния ключа.
func (c *Controller) State(key string) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.states[key]
	if !ok {
		return State{}, false
	}
	return *state, true
}

// Len возвращает количество отслеживаемых ключей.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states)
}

// MinInterval возвращает минимальный интервал между допусками.
func (c *Controller) MinInterval() time.Duration {
	return c.minInterval
}
