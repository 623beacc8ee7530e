package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Sourcing/internal/mq"
	"github.com/shaiso/Sourcing/internal/repo"
	"github.com/shaiso/Sourcing/internal/scheduler"
)

// ErrInvalidConfig — конфигурация не прошла валидацию.
var ErrInvalidConfig = errors.New("invalid config")

// Драйверы очереди.
const (
	QueueDriverRabbitMQ = "rabbitmq"
	QueueDriverMemory   = "memory"
)

// Режимы admission.
const (
	AdmissionModeLocal = "local"
	AdmissionModeLease = "lease"
)

// Config — конфигурация процессов sourcing.
//
// Порядок применения: значения по умолчанию, YAML-файл (CONFIG_FILE),
// переменные окружения.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Queue     QueueConfig     `yaml:"queue"`
	Worker    WorkerConfig    `yaml:"worker"`
	Admission AdmissionConfig `yaml:"admission"`
	Janitor   JanitorConfig   `yaml:"janitor"`
	Services  ServicesConfig  `yaml:"services"`
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
}

type DatabaseConfig struct {
	URL     string `yaml:"url"`
	Migrate bool   `yaml:"migrate"`
}

type QueueConfig struct {
	Driver   string `yaml:"driver"`
	URL      string `yaml:"url"`
	Prefetch int    `yaml:"prefetch"`
}

type WorkerConfig struct {
	// Queue — очередь стадии: sourcing.translation, sourcing.registration, sourcing.status.
	Queue          string        `yaml:"queue"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	// DequeueTimeout <= 0 — ждать бесконечно.
	DequeueTimeout time.Duration `yaml:"dequeue_timeout"`
}

type AdmissionConfig struct {
	Mode        string        `yaml:"mode"`
	MinInterval time.Duration `yaml:"min_interval"`
	Expiry      time.Duration `yaml:"expiry"`
	LeaseTTL    time.Duration `yaml:"lease_ttl"`
}

type JanitorConfig struct {
	Spec string `yaml:"spec"`
}

// ServicesConfig — адреса внешних сервисов. Пустой адрес отключает
// executor'ы соответствующих видов задач.
type ServicesConfig struct {
	TranslatorURL  string        `yaml:"translator_url"`
	MarketplaceURL string        `yaml:"marketplace_url"`
	SourcingURL    string        `yaml:"sourcing_url"`
	Timeout        time.Duration `yaml:"timeout"`
}

type HTTPConfig struct {
	Port string `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default возвращает конфигурацию по умолчанию.
func Default() Config {
	return Config{
		Database: DatabaseConfig{URL: repo.DefaultDSN},
		Queue: QueueConfig{
			Driver:   QueueDriverRabbitMQ,
			URL:      mq.DefaultURL(),
			Prefetch: 10,
		},
		Worker: WorkerConfig{
			Queue:          string(mq.QueueTranslation),
			MaxConcurrency: 4,
			PollInterval:   200 * time.Millisecond,
		},
		Admission: AdmissionConfig{
			Mode:        AdmissionModeLocal,
			MinInterval: 500 * time.Millisecond,
			Expiry:      time.Hour,
			LeaseTTL:    5 * time.Minute,
		},
		Janitor:  JanitorConfig{Spec: scheduler.DefaultSpec},
		Services: ServicesConfig{Timeout: 30 * time.Second},
		HTTP:     HTTPConfig{Port: "8080"},
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

// Load загружает конфигурацию из CONFIG_FILE и окружения процесса.
func Load() (Config, error) {
	return LoadWith(os.Getenv("CONFIG_FILE"), os.LookupEnv)
}

// LoadWith загружает конфигурацию из файла path (может быть пустым)
// и переменных окружения, читаемых через lookup.
func LoadWith(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv переопределяет значения переменными окружения.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str("DB_URL", &cfg.Database.URL)
	e.boolean("DB_MIGRATE", &cfg.Database.Migrate)
	e.str("QUEUE_DRIVER", &cfg.Queue.Driver)
	e.str("RABBITMQ_URL", &cfg.Queue.URL)
	e.integer("RABBITMQ_PREFETCH", &cfg.Queue.Prefetch)
	e.str("WORKER_QUEUE", &cfg.Worker.Queue)
	e.integer("WORKER_MAX_CONCURRENCY", &cfg.Worker.MaxConcurrency)
	e.millis("WORKER_POLL_INTERVAL_MS", &cfg.Worker.PollInterval)
	e.millis("WORKER_DEQUEUE_TIMEOUT_MS", &cfg.Worker.DequeueTimeout)
	e.str("ADMISSION_MODE", &cfg.Admission.Mode)
	e.millis("ADMISSION_MIN_INTERVAL_MS", &cfg.Admission.MinInterval)
	e.millis("ADMISSION_EXPIRY_MS", &cfg.Admission.Expiry)
	e.millis("ADMISSION_LEASE_TTL_MS", &cfg.Admission.LeaseTTL)
	e.str("JANITOR_SPEC", &cfg.Janitor.Spec)
	e.str("TRANSLATOR_URL", &cfg.Services.TranslatorURL)
	e.str("MARKETPLACE_URL", &cfg.Services.MarketplaceURL)
	e.str("SOURCING_URL", &cfg.Services.SourcingURL)
	e.str("HTTP_PORT", &cfg.HTTP.Port)
	e.str("LOG_LEVEL", &cfg.Log.Level)
	e.str("LOG_FORMAT", &cfg.Log.Format)

	if len(e.errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(e.errs...))
	}
	return nil
}

// Validate проверяет согласованность значений.
func (c Config) Validate() error {
	var errs []error

	switch c.Queue.Driver {
	case QueueDriverRabbitMQ:
		if c.Queue.URL == "" {
			errs = append(errs, errors.New("queue.url is required for rabbitmq driver"))
		}
	case QueueDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown queue driver %q", c.Queue.Driver))
	}

	if _, ok := mq.ParseQueue(c.Worker.Queue); !ok {
		errs = append(errs, fmt.Errorf("unknown worker queue %q", c.Worker.Queue))
	}
	if c.Worker.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("worker.max_concurrency must be positive"))
	}
	if c.Worker.PollInterval <= 0 {
		errs = append(errs, errors.New("worker.poll_interval must be positive"))
	}

	switch c.Admission.Mode {
	case AdmissionModeLocal:
	case AdmissionModeLease:
		if c.Admission.LeaseTTL <= 0 {
			errs = append(errs, errors.New("admission.lease_ttl must be positive in lease mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown admission mode %q", c.Admission.Mode))
	}
	if c.Admission.Expiry <= 0 {
		errs = append(errs, errors.New("admission.expiry must be positive"))
	}

	if err := scheduler.ValidateSpec(c.Janitor.Spec); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// WorkerQueue возвращает очередь стадии воркера.
func (c Config) WorkerQueue() mq.Queue {
	q, _ := mq.ParseQueue(c.Worker.Queue)
	return q
}

// AdmissionMinInterval возвращает интервал для admission.Config.
// Ноль в конфигурации отключает ограничение частоты.
func (c Config) AdmissionMinInterval() time.Duration {
	if c.Admission.MinInterval == 0 {
		return -1
	}
	return c.Admission.MinInterval
}

// envReader читает переменные окружения и копит ошибки разбора.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) integer(name string, dst *int) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*dst = n
}

func (e *envReader) millis(name string, dst *time.Duration) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*dst = time.Duration(n) * time.Millisecond
}

func (e *envReader) boolean(name string, dst *bool) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*dst = b
}
