package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"brook/internal/task"
)

type Registry struct {
	runsStarted   atomic.Int64
	runsSucceeded atomic.Int64
	runsFailed    atomic.Int64
	tasks         sync.Map
	buses         sync.Map
}

type taskStats struct {
	count         atomic.Int64
	failures      atomic.Int64
	durationNanos atomic.Int64
}

type busStats struct {
	published  atomic.Int64
	dropped    atomic.Int64
	filtered   atomic.Int64
	unfiltered atomic.Int64
}

var Default = &Registry{}

func (r *Registry) IncRunStarted() {
	if r == nil {
		return
	}
	r.runsStarted.Add(1)
}

func (r *Registry) IncRunSucceeded() {
	if r == nil {
		return
	}
	r.runsSucceeded.Add(1)
}

func (r *Registry) IncRunFailed() {
	if r == nil {
		return
	}
	r.runsFailed.Add(1)
}

// RecordTask accounts one settled task invocation.
func (r *Registry) RecordTask(name string, duration time.Duration, err error) {
	if r == nil {
		return
	}
	if strings.TrimSpace(name) == "" {
		name = "unknown"
	}
	stats := r.taskStats(name)
	stats.count.Add(1)
	stats.durationNanos.Add(duration.Nanoseconds())
	if err != nil {
		stats.failures.Add(1)
	}
}

// Observe records finished task events; it is usable as a task.Observer.
func (r *Registry) Observe(event task.Event) {
	if r == nil || event.EventType != task.EventTypeFinished {
		return
	}
	r.RecordTask(event.Task, event.Duration, event.Err)
}

// TaskCounts returns the invocation and failure counts recorded for name.
func (r *Registry) TaskCounts(name string) (count, failures int64) {
	if r == nil {
		return 0, 0
	}
	value, ok := r.tasks.Load(name)
	if !ok {
		return 0, 0
	}
	stats := value.(*taskStats)
	return stats.count.Load(), stats.failures.Load()
}

// EventCounts returns published and dropped totals for bus.
func (r *Registry) EventCounts(bus string) (published, dropped int64) {
	if r == nil {
		return 0, 0
	}
	value, ok := r.buses.Load(bus)
	if !ok {
		return 0, 0
	}
	stats := value.(*busStats)
	return stats.published.Load(), stats.dropped.Load()
}

func (r *Registry) IncEventPublished(bus, eventType string) {
	if r == nil {
		return
	}
	r.busStats(bus).published.Add(1)
}

func (r *Registry) IncEventDropped(bus, eventType string) {
	if r == nil {
		return
	}
	r.busStats(bus).dropped.Add(1)
}

func (r *Registry) SetEventSubscriberCounts(bus string, filtered, unfiltered int) {
	if r == nil {
		return
	}
	stats := r.busStats(bus)
	stats.filtered.Store(int64(filtered))
	stats.unfiltered.Store(int64(unfiltered))
}

func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	writeCounter(writer, "brook_runs_started_total", "Total top-level runs started", r.runsStarted.Load())
	writeCounter(writer, "brook_runs_succeeded_total", "Total top-level runs succeeded", r.runsSucceeded.Load())
	writeCounter(writer, "brook_runs_failed_total", "Total top-level runs failed", r.runsFailed.Load())

	taskNames := mapKeys(&r.tasks)
	sort.Strings(taskNames)

	writeHelp(writer, "brook_task_duration_seconds", "Task duration in seconds")
	fmt.Fprintln(writer, "# TYPE brook_task_duration_seconds summary")
	writeHelp(writer, "brook_task_failures_total", "Task failures")
	fmt.Fprintln(writer, "# TYPE brook_task_failures_total counter")

	for _, name := range taskNames {
		stats := r.taskStats(name)
		label := formatLabel(name)
		durationSeconds := float64(stats.durationNanos.Load()) / float64(time.Second)
		fmt.Fprintf(writer, "brook_task_duration_seconds_sum{task=%s} %.6f\n", label, durationSeconds)
		fmt.Fprintf(writer, "brook_task_duration_seconds_count{task=%s} %d\n", label, stats.count.Load())
		fmt.Fprintf(writer, "brook_task_failures_total{task=%s} %d\n", label, stats.failures.Load())
	}

	busNames := mapKeys(&r.buses)
	sort.Strings(busNames)
	if len(busNames) == 0 {
		return nil
	}
	writeHelp(writer, "brook_events_published_total", "Events published per bus")
	fmt.Fprintln(writer, "# TYPE brook_events_published_total counter")
	writeHelp(writer, "brook_events_dropped_total", "Events dropped per bus")
	fmt.Fprintln(writer, "# TYPE brook_events_dropped_total counter")
	writeHelp(writer, "brook_event_subscribers", "Current subscribers per bus")
	fmt.Fprintln(writer, "# TYPE brook_event_subscribers gauge")
	for _, name := range busNames {
		stats := r.busStats(name)
		label := formatLabel(name)
		fmt.Fprintf(writer, "brook_events_published_total{bus=%s} %d\n", label, stats.published.Load())
		fmt.Fprintf(writer, "brook_events_dropped_total{bus=%s} %d\n", label, stats.dropped.Load())
		fmt.Fprintf(writer, "brook_event_subscribers{bus=%s} %d\n", label, stats.filtered.Load()+stats.unfiltered.Load())
	}

	return nil
}

func (r *Registry) taskStats(name string) *taskStats {
	value, _ := r.tasks.LoadOrStore(name, &taskStats{})
	return value.(*taskStats)
}

func (r *Registry) busStats(name string) *busStats {
	value, _ := r.buses.LoadOrStore(name, &busStats{})
	return value.(*busStats)
}

func mapKeys(values *sync.Map) []string {
	var names []string
	values.Range(func(key, value interface{}) bool {
		if name, ok := key.(string); ok {
			names = append(names, name)
		}
		return true
	})
	return names
}

func writeHelp(writer io.Writer, metric, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", metric, help)
}

func writeCounter(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func formatLabel(value string) string {
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	return fmt.Sprintf("\"%s\"", escaped)
}
