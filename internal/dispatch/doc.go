// Package dispatch — producer под-задач.
//
// Dispatch разбивает сущность на fan-in под-задачи: создаёт счётчики
// в Store и ставит по одному job на задачу в очередь её стадии.
// Submit ставит в очередь single-job задачу (регистрация, статус поставщика).
package dispatch
