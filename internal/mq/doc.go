// Package mq предоставляет очередь jobs для стадий пайплайна.
//
// Структура:
//   - queue.go      — интерфейс JobQueue, ошибки, маршрутизация вида задачи в очередь
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — Broker.Enqueue: публикация job в очередь
//   - consumer.go   — Broker.Dequeue: извлечение job с ack при извлечении
//   - memory.go     — MemoryQueue для тестов и локального запуска
//
// Очереди:
//   - sourcing.translation  — перевод атрибутов, опций, SEO (fan-in)
//   - sourcing.registration — регистрация на маркетплейсе
//   - sourcing.status       — обновление статуса поставщика
//   - sourcing.dead         — неразбираемые сообщения, ручная обработка
//
// Доставка at-most-once: job, извлечённый Dequeue, подтверждён.
// Падение процесса после извлечения теряет job.
package mq
