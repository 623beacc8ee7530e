package admission

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

const (
	defaultLeaseTTL     = 5 * time.Minute
	defaultLeaseTimeout = 3 * time.Second
)

// LeaseStore — долговременное хранилище аренды ключей.
type LeaseStore interface {
	// Acquire берёт аренду ключа для holder, если она свободна,
	// истекла или уже принадлежит holder. Возвращает false, если
	// ключ занят другим процессом.
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)

	// Release освобождает аренду, если она принадлежит holder.
	Release(ctx context.Context, key, holder string) error
}

// LeaseController — admission controller с взаимным исключением
// по ключу на уровне кластера.
//
// Сначала выполняется локальная проверка (занятость и интервал),
// затем берётся аренда в LeaseStore. Ошибка хранилища трактуется
// как отказ в допуске.
type LeaseController struct {
	local   *Controller
	store   LeaseStore
	holder  string
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

// LeaseConfig — конфигурация LeaseController.
type LeaseConfig struct {
	Store LeaseStore

	// Holder — идентификатор процесса (default: hostname-pid-uuid).
	Holder string

	// TTL — срок аренды; должен превышать максимальное время выполнения job (default: 5m).
	TTL time.Duration

	// Timeout — таймаут обращения к хранилищу (default: 3s).
	Timeout time.Duration

	Logger *slog.Logger
}

// NewLeaseController создаёт LeaseController поверх локального Controller.
func NewLeaseController(local *Controller, cfg LeaseConfig) *LeaseController {
	holder := cfg.Holder
	if holder == "" {
		holder = DefaultHolder()
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultLeaseTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &LeaseController{
		local:   local,
		store:   cfg.Store,
		holder:  holder,
		ttl:     ttl,
		timeout: timeout,
		logger:  logger,
	}
}

// TryAdmit допускает job, если ключ свободен локально и в кластере.
func (c *LeaseController) TryAdmit(key string) bool {
	if !c.local.TryAdmit(key) {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	ok, err := c.store.Acquire(ctx, key, c.holder, c.ttl)
	if err != nil {
		c.logger.Warn("failed to acquire admission lease", "key", key, "error", err)
	}
	if err != nil || !ok {
		// Локальная отметка времени остаётся: ключ будет проверен
		// не раньше чем через MinInterval.
		c.local.Release(key)
		return false
	}
	return true
}

// Release освобождает аренду и локальную запись.
func (c *LeaseController) Release(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.store.Release(ctx, key, c.holder); err != nil {
		c.logger.Warn("failed to release admission lease", "key", key, "error", err)
	}
	c.local.Release(key)
}

// Local возвращает локальный Controller.
func (c *LeaseController) Local() *Controller {
	return c.local
}

// Holder возвращает идентификатор процесса-арендатора.
func (c *LeaseController) Holder() string {
	return c.holder
}

// DefaultHolder формирует идентификатор процесса.
func DefaultHolder() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}
