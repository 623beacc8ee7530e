package dispatch

import "errors"

// Ошибки producer'а.
var (
	// ErrInvalidDispatch — запрос на рассылку не прошёл валидацию.
	ErrInvalidDispatch = errors.New("invalid dispatch")
)
