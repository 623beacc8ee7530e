// Package scheduler — фоновые задачи по расписанию.
//
// Janitor по cron-расписанию очищает состояние admission controller'а
// и удаляет истёкшие аренды ключей:
//
//	j, err := scheduler.New(scheduler.Config{
//	    Admission: controller,
//	    Leases:    leaseRepo, // опционально
//	    Spec:      "@every 5m",
//	    Logger:    logger,
//	})
//	if err != nil {
//	    return err
//	}
//	j.Start(ctx)
//	defer j.Stop()
//
// Расписание — 5 полей cron или дескриптор (@every 1m, @hourly).
package scheduler
