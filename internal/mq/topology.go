package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// Exchanges — имена обменников.
const (
	ExchangeJobs Exchange = "sourcing.jobs"
	ExchangeDLQ  Exchange = "sourcing.dlq"
)

// Queues — очереди стадий пайплайна.
const (
	QueueTranslation    Queue = "sourcing.translation"
	QueueRegistration   Queue = "sourcing.registration"
	QueueSourcingStatus Queue = "sourcing.status"
	QueueDead           Queue = "sourcing.dead"
)

// routingKeyDead — routing key для dead letter.
const routingKeyDead = "dead"

// StageQueues возвращает очереди, которые потребляют воркеры.
func StageQueues() []Queue {
	return []Queue{QueueTranslation, QueueRegistration, QueueSourcingStatus}
}

// SetupTopology объявляет exchanges, очереди и привязки.
// Очереди стадий привязываются к sourcing.jobs по собственному имени.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range []Exchange{ExchangeJobs, ExchangeDLQ} {
			if err := ch.ExchangeDeclare(
				string(ex), // name
				"direct",   // type
				true,       // durable
				false,      // auto-deleted
				false,      // internal
				false,      // no-wait
				nil,        // arguments
			); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex, err)
			}
		}

		// Неразбираемые сообщения уходят в sourcing.dead
		dlqArgs := amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": routingKeyDead,
		}

		for _, q := range StageQueues() {
			if err := declareAndBind(ch, q, string(q), ExchangeJobs, dlqArgs); err != nil {
				return err
			}
		}

		return declareAndBind(ch, QueueDead, routingKeyDead, ExchangeDLQ, nil)
	})
}

func declareAndBind(ch *amqp.Channel, q Queue, routingKey string, ex Exchange, args amqp.Table) error {
	if _, err := ch.QueueDeclare(
		string(q), // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		args,      // arguments
	); err != nil {
		return fmt.Errorf("declare queue %s: %w", q, err)
	}

	if err := ch.QueueBind(string(q), routingKey, string(ex), false, nil); err != nil {
		return fmt.Errorf("bind queue %s to %s: %w", q, ex, err)
	}
	return nil
}
