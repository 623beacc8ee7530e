// Package api содержит HTTP API сервиса.
//
// Структура:
//   - handler.go        — Handler с DI (dispatcher, чтение состояния, журналы)
//   - routes.go         — регистрация маршрутов
//   - middleware.go     — middleware (request id, logging, recovery)
//   - response.go       — унифицированные JSON-ответы и маппинг ошибок
//   - dto.go            — Data Transfer Objects (request/response)
//   - entity_handler.go — рассылка под-задач и состояние сущностей
//   - job_handler.go    — single-job задачи и их попытки
//
// Ответы имеют вид {"data": ...} или {"error": {"code", "message"}}.
package api
