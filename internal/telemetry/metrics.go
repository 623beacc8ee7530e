package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sourcing"

// Metrics — Prometheus метрики оркестрации.
//
// Все методы безопасны для nil-получателя: компоненты, созданные
// без метрик (например, в тестах), просто ничего не пишут.
type Metrics struct {
	jobsDequeued      *prometheus.CounterVec
	jobsRequeued      *prometheus.CounterVec
	jobsCompleted     *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	jobsInFlight      *prometheus.GaugeVec
	admissionKeys     prometheus.Gauge
	admissionPurged   prometheus.Counter
	entitiesFinalized *prometheus.CounterVec
	counterNoops      prometheus.Counter
}

// NewMetrics регистрирует метрики в reg.
// Для сервисов передаётся prometheus.DefaultRegisterer,
// для тестов — prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		jobsDequeued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dequeued_total",
			Help:      "Jobs popped from a stage queue.",
		}, []string{"queue"}),

		jobsRequeued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_requeued_total",
			Help:      "Jobs pushed back to the tail because their key was not admitted.",
		}, []string{"queue"}),

		jobsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Jobs executed by the worker, by outcome.",
		}, []string{"queue", "task_kind", "outcome"}),

		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Execution time of job bodies.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"queue", "task_kind"}),

		jobsInFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Job bodies currently executing.",
		}, []string{"queue"}),

		admissionKeys: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "admission_keys",
			Help:      "Keys tracked by the admission controller.",
		}),

		admissionPurged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_purged_total",
			Help:      "Idle admission entries removed by the janitor.",
		}),

		entitiesFinalized: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_finalized_total",
			Help:      "Entities that reached a terminal status.",
		}, []string{"status"}),

		counterNoops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_noops_total",
			Help:      "Completion reports ignored because the counter was already zero.",
		}),
	}
}

// JobDequeued учитывает извлечённый job.
func (m *Metrics) JobDequeued(queue string) {
	if m == nil {
		return
	}
	m.jobsDequeued.WithLabelValues(queue).Inc()
}

// JobRequeued учитывает job, возвращённый в хвост очереди.
func (m *Metrics) JobRequeued(queue string) {
	if m == nil {
		return
	}
	m.jobsRequeued.WithLabelValues(queue).Inc()
}

// JobStarted увеличивает количество выполняющихся jobs.
func (m *Metrics) JobStarted(queue string) {
	if m == nil {
		return
	}
	m.jobsInFlight.WithLabelValues(queue).Inc()
}

// JobFinished учитывает результат и длительность выполнения.
func (m *Metrics) JobFinished(queue, kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobsInFlight.WithLabelValues(queue).Dec()
	m.jobsCompleted.WithLabelValues(queue, kind, outcome).Inc()
	m.jobDuration.WithLabelValues(queue, kind).Observe(d.Seconds())
}

// AdmissionKeys выставляет размер таблицы admission.
func (m *Metrics) AdmissionKeys(n int) {
	if m == nil {
		return
	}
	m.admissionKeys.Set(float64(n))
}

// AdmissionPurged учитывает удалённые записи admission.
func (m *Metrics) AdmissionPurged(n int) {
	if m == nil {
		return
	}
	m.admissionPurged.Add(float64(n))
}

// EntityFinalized учитывает переход сущности в терминальный статус.
func (m *Metrics) EntityFinalized(status string) {
	if m == nil {
		return
	}
	m.entitiesFinalized.WithLabelValues(status).Inc()
}

// CounterNoop учитывает отчёт, не изменивший счётчик.
func (m *Metrics) CounterNoop() {
	if m == nil {
		return
	}
	m.counterNoops.Inc()
}
