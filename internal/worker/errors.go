package worker

import "errors"

// Ошибки воркера.
var (
	// ErrUnknownTaskKind — нет executor'а для данного вида задачи.
	ErrUnknownTaskKind = errors.New("no executor for task kind")

	// ErrExecutionPanic — executor запаниковал; job считается неуспешным.
	ErrExecutionPanic = errors.New("executor panicked")

	// ErrMissingCredential — у тенанта нет ключа для маркетплейса.
	ErrMissingCredential = errors.New("missing credential")

	// ErrUnrecognizedResponse — внешний API вернул 2xx, но ответ не распознан как успех.
	ErrUnrecognizedResponse = errors.New("unrecognized response")

	// ErrHTTPRequest — HTTP-запрос не выполнен (сеть, DNS, таймаут).
	ErrHTTPRequest = errors.New("http request failed")

	// ErrWorkerStopped — воркер остановлен.
	ErrWorkerStopped = errors.New("worker stopped")
)
