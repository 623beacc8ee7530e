package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Sourcing/internal/domain"
)

const defaultPrefetch = 1

// Broker — JobQueue поверх RabbitMQ.
//
// Enqueue публикует job в sourcing.jobs с routing key = имя очереди.
// Dequeue потребляет с ручным ack и подтверждает сообщение сразу
// при извлечении (at-most-once).
type Broker struct {
	conn     *Connection
	logger   *slog.Logger
	prefetch int

	mu   sync.Mutex
	subs map[Queue]*subscription
}

// BrokerConfig — конфигурация Broker.
type BrokerConfig struct {
	// Prefetch — сколько сообщений RabbitMQ отдаёт consumer'у заранее.
	// Неподтверждённые сообщения из prefetch-буфера RabbitMQ вернёт в очередь
	// при закрытии канала; теряется только уже извлечённый (и подтверждённый) job.
	Prefetch int

	Logger *slog.Logger
}

// NewBroker создаёт Broker поверх соединения.
func NewBroker(conn *Connection, cfg BrokerConfig) *Broker {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Broker{
		conn:     conn,
		logger:   logger,
		prefetch: prefetch,
		subs:     make(map[Queue]*subscription),
	}
}

// Enqueue публикует job в очередь. Fire-and-forget: подтверждение
// от брокера не ожидается.
func (b *Broker) Enqueue(ctx context.Context, queue Queue, job domain.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	return b.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(ExchangeJobs), // exchange
			string(queue),        // routing key
			false,                // mandatory
			false,                // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // переживёт рестарт RabbitMQ
				MessageId:    job.ID.String(),
				Type:         string(job.Kind),
				Timestamp:    job.EnqueuedAt,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s: %w", queue, err)
		}

		b.logger.Debug("job enqueued",
			"queue", queue,
			"job_id", job.ID,
			"key", job.Key,
			"task_kind", job.Kind,
		)
		return nil
	})
}
