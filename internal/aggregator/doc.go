// Package aggregator реализует fan-in завершений под-задач сущности.
//
// Producer рассылает N под-задач товара (например, перевод атрибутов,
// опций и SEO) и создаёт счётчики по измерениям. Воркер после каждой
// под-задачи вызывает Aggregator.Report. Когда все счётчики доходят
// до нуля, сущность ровно один раз переходит в SUCCEEDED или DEGRADED.
//
// Счётчики хранятся в Store (PostgreSQL в repo.EntityRepo), поэтому
// fan-in корректен при любом количестве процессов-воркеров.
package aggregator
