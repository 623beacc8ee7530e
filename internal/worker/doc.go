// Package worker обслуживает очередь одной стадии пайплайна.
//
// # Обзор
//
// Worker извлекает job из очереди, проверяет допуск его ключа
// (тенанта) через Admitter и выполняет допущенный job через executor
// его вида. Job с недопущенным ключом сразу возвращается в хвост
// очереди, поэтому занятый тенант не блокирует остальных.
//
//	w := worker.New(worker.Config{
//	    Queue:    mq.QueueTranslation,
//	    Jobs:     broker,
//	    Admitter: controller,
//	    Registry: worker.NewDefaultRegistry(collaborators),
//	    Reporter: agg,
//	    Attempts: attemptRepo,
//	    Errors:   errorRepo,
//	    Logger:   logger,
//	})
//
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
// # Выполнение job
//
//  1. Для single-job видов создаётся попытка в статусе pending
//  2. Payload декодируется в вариант задачи, вызывается Executor
//  3. Инфраструктурная ошибка повторяется один раз, паника считается ошибкой
//  4. Fan-in вид отчитывается агрегатору, single-job — в статус попытки
//  5. Ключ освобождается всегда
//
// # Ошибки
//
// Executor различает два уровня ошибок:
//   - Инфраструктурные (error от Execute) — сеть, таймаут, HTTP 5xx
//   - Логические (ExecutionResult.Error) — HTTP 4xx, нет ключа тенанта,
//     нераспознанный ответ
//
// Автоматических повторов через очередь нет: неуспешный job попадает
// в журнал ошибок для ручной повторной обработки.
package worker
