// Package cli реализует инструмент командной строки сервиса.
//
// # Обзор
//
// CLI — клиентская утилита для HTTP API. Внутренние пакеты системы
// не импортирует: типы ответов продублированы в client.go.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент API. Разбирает конверты {"data"} и {"error"}.
//
//	client := cli.NewClient("http://localhost:8080")
//	entity, err := client.GetEntity("P1")
//
// ## Output
//
// Таблицы (text/tabwriter) по умолчанию, JSON с флагом --json.
// Данные идут в stdout, сообщения в stderr:
//
//	sourcing entity show P1 --json | jq .status
//
// ## Commands
//
//   - entity: dispatch, show, errors
//   - job: submit, attempts
//
// Группы создаются фабриками (NewEntityCmd, NewJobCmd), которые
// принимают clientFn и outputFn для ленивого создания Client и Output
// после разбора PersistentFlags.
package cli
