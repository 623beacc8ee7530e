package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSpec — расписание janitor'а по умолчанию.
const DefaultSpec = "@every 5m"

// cronParser — парсер расписаний: 5 полей или дескриптор (@every, @hourly).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSpec проверяет валидность расписания.
func ValidateSpec(spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// NextRun вычисляет следующее время запуска после from.
func NextRun(spec string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return schedule.Next(from), nil
}
