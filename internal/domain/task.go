package domain

import (
	"encoding/json"
	"fmt"
)

// TaskKind — вид под-задачи. Определяет тип payload, очередь и executor.
type TaskKind string

const (
	// TaskKindTranslateAttribute — перевод атрибутов товара.
	TaskKindTranslateAttribute TaskKind = "translate_attribute"

	// TaskKindTranslateOption — перевод одной опции товара (цвет, размер...).
	TaskKindTranslateOption TaskKind = "translate_option"

	// TaskKindGenerateSEO — генерация SEO-полей (заголовок, ключевые слова).
	TaskKindGenerateSEO TaskKind = "generate_seo"

	// TaskKindRegisterListing — регистрация товара на маркетплейсе.
	TaskKindRegisterListing TaskKind = "register_listing"

	// TaskKindUpdateSourcingStatus — обновление статуса наличия у поставщика.
	TaskKindUpdateSourcingStatus TaskKind = "update_sourcing_status"
)

// Dimension — имя счётчика fan-in для сущности.
type Dimension string

const (
	// DimensionOverall — общий счётчик под-задач товара.
	DimensionOverall Dimension = "overall"

	// DimensionOption — счётчик под-задач по опциям товара.
	DimensionOption Dimension = "option"
)

// Dimension возвращает счётчик, который уменьшает завершение задачи.
// Для single-job видов возвращает пустую строку.
func (k TaskKind) Dimension() Dimension {
	switch k {
	case TaskKindTranslateAttribute, TaskKindGenerateSEO:
		return DimensionOverall
	case TaskKindTranslateOption:
		return DimensionOption
	default:
		return ""
	}
}

// IsFanIn возвращает true, если завершение задачи агрегируется по сущности.
func (k TaskKind) IsFanIn() bool {
	return k.Dimension() != ""
}

// IsValid проверяет, что вид задачи известен.
func (k TaskKind) IsValid() bool {
	switch k {
	case TaskKindTranslateAttribute, TaskKindTranslateOption, TaskKindGenerateSEO,
		TaskKindRegisterListing, TaskKindUpdateSourcingStatus:
		return true
	default:
		return false
	}
}

// Task — вариант под-задачи. Каждый вид задачи имеет свой тип payload.
type Task interface {
	Kind() TaskKind
}

// AttributeTranslation — payload для translate_attribute.
type AttributeTranslation struct {
	ProductName string            `json:"product_name"`
	Attributes  map[string]string `json:"attributes"`
	SourceLang  string            `json:"source_lang,omitempty"`
	TargetLang  string            `json:"target_lang"`
}

// Kind реализует Task.
func (AttributeTranslation) Kind() TaskKind { return TaskKindTranslateAttribute }

// OptionTranslation — payload для translate_option.
type OptionTranslation struct {
	OptionName string   `json:"option_name"`
	Values     []string `json:"values"`
	SourceLang string   `json:"source_lang,omitempty"`
	TargetLang string   `json:"target_lang"`
}

// Kind реализует Task.
func (OptionTranslation) Kind() TaskKind { return TaskKindTranslateOption }

// SEOGeneration — payload для generate_seo.
type SEOGeneration struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	TargetLang  string   `json:"target_lang"`
}

// Kind реализует Task.
func (SEOGeneration) Kind() TaskKind { return TaskKindGenerateSEO }

// ListingRegistration — payload для register_listing.
//
// Listing — готовое тело запроса маркетплейса; ядро его не интерпретирует.
type ListingRegistration struct {
	Marketplace string          `json:"marketplace"`
	Listing     json.RawMessage `json:"listing"`
}

// Kind реализует Task.
func (ListingRegistration) Kind() TaskKind { return TaskKindRegisterListing }

// SourcingStatusUpdate — payload для update_sourcing_status.
type SourcingStatusUpdate struct {
	SourceURL string `json:"source_url"`
}

// Kind реализует Task.
func (SourcingStatusUpdate) Kind() TaskKind { return TaskKindUpdateSourcingStatus }

// DecodeTask восстанавливает вариант задачи по виду и сырому payload.
func DecodeTask(kind TaskKind, payload json.RawMessage) (Task, error) {
	var task Task
	switch kind {
	case TaskKindTranslateAttribute:
		task = &AttributeTranslation{}
	case TaskKindTranslateOption:
		task = &OptionTranslation{}
	case TaskKindGenerateSEO:
		task = &SEOGeneration{}
	case TaskKindRegisterListing:
		task = &ListingRegistration{}
	case TaskKindUpdateSourcingStatus:
		task = &SourcingStatusUpdate{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTaskKind, kind)
	}

	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, task); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
	}
	return task, nil
}
