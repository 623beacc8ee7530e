// Package admission ограничивает выполнение jobs по ключу тенанта.
//
// Controller гарантирует, что внутри одного процесса по одному ключу
// одновременно выполняется не больше одного job, и что между допусками
// по ключу проходит не меньше MinInterval. Внешние API маркетплейсов
// ограничены по ключу, поэтому воркер спрашивает разрешение перед
// каждым выполнением и при отказе возвращает job в хвост очереди.
//
// Состояние Controller живёт в памяти. Записи создаются лениво и
// удаляются Purge после Expiry без активности; занятые ключи не удаляются.
//
// LeaseController добавляет аренду ключа в PostgreSQL (таблица
// admission_leases), что даёт взаимное исключение между процессами.
// Включается через ADMISSION_MODE=lease.
package admission
