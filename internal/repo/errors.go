package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState — операция невозможна в текущем состоянии
	// (например, попытка уже в терминальном статусе).
	ErrInvalidState = errors.New("invalid state")
)
