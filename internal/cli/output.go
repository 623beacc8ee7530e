package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
)

// Output печатает ответы API: таблицей или JSON (--json).
// Данные идут в w, сообщения о ходе работы в errW.
type Output struct {
	jsonMode bool
	w        io.Writer
	errW     io.Writer
}

// NewOutput создаёт Output поверх stdout/stderr.
func NewOutput(jsonMode bool) *Output {
	return NewOutputTo(jsonMode, os.Stdout, os.Stderr)
}

// NewOutputTo создаёт Output с заданными потоками вывода.
func NewOutputTo(jsonMode bool, w, errW io.Writer) *Output {
	return &Output{jsonMode: jsonMode, w: w, errW: errW}
}

// Dispatched печатает итог рассылки под-задач.
func (o *Output) Dispatched(r *DispatchResponse) {
	o.notice("Entity dispatched: %s (%d jobs, %d failed to enqueue)", r.EntityID, len(r.Jobs), r.Failed)
	o.render(r, []string{"ENTITY_ID", "STATUS", "JOBS", "FAILED"}, [][]string{
		{r.EntityID, r.Status, strconv.Itoa(len(r.Jobs)), strconv.Itoa(r.Failed)},
	})
}

// Entity печатает состояние обработки сущности.
func (o *Output) Entity(e *EntityResponse) {
	status := e.Status
	if e.Degraded && status == "PENDING" {
		status += " (degraded)"
	}
	o.render(e, []string{"ENTITY_ID", "KEY", "STATUS", "REMAINING", "UPDATED"}, [][]string{
		{e.EntityID, e.Key, status, formatCounters(e.Remaining, e.Initial), e.UpdatedAt},
	})
}

// ErrorRecords печатает журнал ошибок сущности.
func (o *Output) ErrorRecords(records []ErrorRecordResponse) {
	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = []string{r.CreatedAt, r.Kind, r.Message}
	}
	o.render(records, []string{"CREATED", "TASK_KIND", "MESSAGE"}, rows)
}

// Submitted печатает поставленный в очередь job.
func (o *Output) Submitted(j *JobResponse) {
	o.notice("Job submitted: %s", j.ID)
	o.render(j, []string{"ID", "ENTITY_ID", "TASK_KIND", "ENQUEUED"}, [][]string{
		{j.ID, j.EntityID, j.Kind, j.EnqueuedAt},
	})
}

// Attempts печатает попытки single-job задач.
// Для fail показывается причина, для success — ответ сервиса.
func (o *Output) Attempts(attempts []AttemptResponse) {
	rows := make([][]string, len(attempts))
	for i, a := range attempts {
		detail := a.FailureReason
		if a.Status == "success" {
			detail = string(a.ResultPayload)
		}
		rows[i] = []string{a.ID, a.Kind, a.Status, detail, a.CreatedAt}
	}
	o.render(attempts, []string{"ID", "TASK_KIND", "STATUS", "DETAIL", "CREATED"}, rows)
}

func (o *Output) notice(format string, args ...any) {
	fmt.Fprintf(o.errW, format+"\n", args...)
}

func (o *Output) render(v any, headers []string, rows [][]string) {
	if o.jsonMode {
		enc := json.NewEncoder(o.w)
		enc.SetIndent("", "  ")
		enc.Encode(v)
		return
	}

	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

// formatCounters печатает счётчики как "option=1/2,overall=0/2".
// Без initial выводится только остаток.
func formatCounters(remaining, initial map[string]int) string {
	names := make([]string, 0, len(remaining))
	for name := range remaining {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		if total, ok := initial[name]; ok {
			parts[i] = fmt.Sprintf("%s=%d/%d", name, remaining[name], total)
		} else {
			parts[i] = fmt.Sprintf("%s=%d", name, remaining[name])
		}
	}
	return strings.Join(parts, ",")
}
