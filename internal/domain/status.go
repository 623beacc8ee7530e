package domain

// EntityStatus — статус обработки сущности (товара), разбитой на под-задачи.
//
// Жизненный цикл:
//
//	PENDING → SUCCEEDED
//	        ↘ DEGRADED (хотя бы одна под-задача завершилась ошибкой)
//
// Терминальный статус выставляется ровно один раз, когда все счётчики
// измерений сущности доходят до нуля.
type EntityStatus string

const (
	// EntityStatusPending — под-задачи разосланы, ещё не все завершены.
	EntityStatusPending EntityStatus = "PENDING"

	// EntityStatusSucceeded — все под-задачи завершились успешно.
	EntityStatusSucceeded EntityStatus = "SUCCEEDED"

	// EntityStatusDegraded — все под-задачи завершились, но часть с ошибкой.
	EntityStatusDegraded EntityStatus = "DEGRADED"
)

// IsTerminal возвращает true, если статус финальный.
func (s EntityStatus) IsTerminal() bool {
	switch s {
	case EntityStatusSucceeded, EntityStatusDegraded:
		return true
	default:
		return false
	}
}

// AttemptStatus — статус попытки регистрации (single-job пайплайны).
//
// Жизненный цикл:
//
//	pending → success
//	        ↘ fail
//
// Оба терминальных статуса финальные, автоматического retry нет.
type AttemptStatus string

const (
	// AttemptStatusPending — job принят и выполняется.
	AttemptStatusPending AttemptStatus = "pending"

	// AttemptStatusSuccess — внешний вызов вернул распознанный успех.
	AttemptStatusSuccess AttemptStatus = "success"

	// AttemptStatusFail — ошибка, нераспознанный ответ или нет предусловия.
	AttemptStatusFail AttemptStatus = "fail"
)

// IsTerminal возвращает true, если статус финальный.
func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptStatusSuccess || s == AttemptStatusFail
}
