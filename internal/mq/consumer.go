package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Sourcing/internal/domain"
)

// resubscribeDelay — пауза перед повторной подпиской, если канала нет.
const resubscribeDelay = time.Second

// subscription — активная подписка на очередь в рамках одного соединения.
type subscription struct {
	deliveries <-chan amqp.Delivery
	generation uint64
}

// Dequeue извлекает следующий job из очереди.
//
// Сообщение подтверждается сразу после получения: если воркер упадёт
// до завершения обработки, job потерян. Неразбираемые сообщения
// отправляются в DLQ и пропускаются.
func (b *Broker) Dequeue(ctx context.Context, queue Queue, timeout time.Duration) (*domain.Job, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		deliveries, err := b.subscribe(queue)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return nil, err
			}
			b.logger.Warn("failed to subscribe", "queue", queue, "error", err)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-deadline:
				return nil, ErrEmpty
			case <-b.conn.ReconnectNotify():
			case <-time.After(resubscribeDelay):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-deadline:
			return nil, ErrEmpty

		case raw, ok := <-deliveries:
			if !ok {
				b.logger.Warn("deliveries channel closed, resubscribing", "queue", queue)
				b.dropSubscription(queue)
				continue
			}

			job, err := b.decode(queue, raw)
			if err != nil {
				continue
			}
			return job, nil
		}
	}
}

// subscribe возвращает канал доставки для очереди, создавая подписку
// при первом вызове или после переподключения.
func (b *Broker) subscribe(queue Queue) (<-chan amqp.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, generation, err := b.conn.consumeChannel()
	if err != nil {
		return nil, err
	}

	if sub, ok := b.subs[queue]; ok && sub.generation == generation {
		return sub.deliveries, nil
	}

	if err := ch.Qos(b.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		string(queue), // queue
		fmt.Sprintf("sourcing-%s-%s", queue, uuid.NewString()[:8]), // consumer tag
		false, // auto-ack (ack вручную при извлечении)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}

	b.subs[queue] = &subscription{deliveries: deliveries, generation: generation}
	b.logger.Info("consumer started", "queue", queue)

	return deliveries, nil
}

// dropSubscription забывает подписку, чтобы следующий Dequeue создал новую.
func (b *Broker) dropSubscription(queue Queue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, queue)
}

// reject отправляет нераспознанное сообщение в dead-letter очередь.
func (b *Broker) reject(queue Queue, raw amqp.Delivery) {
	if err := raw.Nack(false, false); err != nil {
		b.logger.Warn("failed to nack job", "queue", queue, "error", err)
	}
}

// decode подтверждает сообщение и разбирает job.
func (b *Broker) decode(queue Queue, raw amqp.Delivery) (*domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(raw.Body, &job); err != nil {
		b.logger.Error("failed to unmarshal job",
			"queue", queue,
			"error", err,
			"body", string(raw.Body),
		)
		b.reject(queue, raw)
		return nil, err
	}

	if err := job.Validate(); err != nil {
		b.logger.Error("invalid job in queue",
			"queue", queue,
			"job_id", job.ID,
			"error", err,
		)
		b.reject(queue, raw)
		return nil, err
	}

	if err := raw.Ack(false); err != nil {
		b.logger.Warn("failed to ack job", "queue", queue, "job_id", job.ID, "error", err)
	}

	b.logger.Debug("job dequeued",
		"queue", queue,
		"job_id", job.ID,
		"key", job.Key,
		"task_kind", job.Kind,
	)
	return &job, nil
}
