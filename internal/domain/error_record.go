package domain

import (
	"time"

	"github.com/google/uuid"
)

// ErrorRecord — запись о терминальной ошибке.
//
// Только добавляется; ядро её не меняет и не удаляет. Содержит
// достаточно контекста для ручной повторной обработки.
type ErrorRecord struct {
	ID        uuid.UUID `json:"id"`
	Key       string    `json:"key"`
	EntityID  string    `json:"entity_id"`
	Kind      TaskKind  `json:"task_kind,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// NewErrorRecord создаёт запись об ошибке.
func NewErrorRecord(key, entityID string, kind TaskKind, message string) *ErrorRecord {
	return &ErrorRecord{
		ID:        uuid.New(),
		Key:       key,
		EntityID:  entityID,
		Kind:      kind,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
}

// Credential — ключ доступа тенанта к API маркетплейса.
type Credential struct {
	Key         string `json:"key"`
	Marketplace string `json:"marketplace"`
	APIKey      string `json:"-"`
}
