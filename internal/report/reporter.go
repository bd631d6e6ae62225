// Package report turns task lifecycle events into console output.
package report

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"brook/internal/logging"
	"brook/internal/task"
	"github.com/charmbracelet/lipgloss"
)

const timeLayout = "15:04:05"

type styles struct {
	clock    lipgloss.Style
	name     lipgloss.Style
	duration lipgloss.Style
	failure  lipgloss.Style
}

// Reporter prints one line when a named task starts and one when it settles.
// Anonymous composites are not reported.
type Reporter struct {
	mu     sync.Mutex
	out    io.Writer
	styles styles
	logger *logging.Logger
	now    func() time.Time
}

func New(out io.Writer, logger *logging.Logger) *Reporter {
	if out == nil {
		out = io.Discard
	}
	renderer := lipgloss.NewRenderer(out)
	return &Reporter{
		out: out,
		styles: styles{
			clock:    renderer.NewStyle().Foreground(lipgloss.Color("#999999")),
			name:     renderer.NewStyle().Foreground(lipgloss.Color("#5B8DEF")),
			duration: renderer.NewStyle().Foreground(lipgloss.Color("#C678DD")),
			failure:  renderer.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true),
		},
		logger: logger.Category("task"),
		now:    time.Now,
	}
}

// Observe reports event. It satisfies task.Observer.
func (r *Reporter) Observe(event task.Event) {
	if r == nil || !reportable(event.Task) {
		return
	}
	fields := map[string]string{
		"task":   event.Task,
		"kind":   event.Kind.String(),
		"run_id": event.RunID,
	}
	name := r.styles.name.Render("'" + event.Task + "'")
	switch event.Type() {
	case task.EventTypeStarted:
		r.logger.Debug("task started", fields)
		r.printf("Starting %s...", name)
	case task.EventTypeFinished:
		took := r.styles.duration.Render(FormatDuration(event.Duration))
		fields["duration_ms"] = fmt.Sprint(event.Duration.Milliseconds())
		if event.Err != nil {
			fields["error"] = event.Err.Error()
			r.logger.Warn("task failed", fields)
			r.printf("%s %s after %s", name, r.styles.failure.Render("errored"), took)
			return
		}
		r.logger.Debug("task finished", fields)
		r.printf("Finished %s after %s", name, took)
	}
}

// Consume reports every event received on events until the channel closes.
func (r *Reporter) Consume(events <-chan task.Event) {
	for event := range events {
		r.Observe(event)
	}
}

// Failure prints the reason a run failed.
func (r *Reporter) Failure(err error) {
	if r == nil || err == nil {
		return
	}
	label := "Error"
	if name := task.FailedTask(err); name != "" {
		label = "Error in " + r.styles.name.Render("'"+name+"'")
	}
	r.printf("%s: %s", r.styles.failure.Render(label), err)
}

func (r *Reporter) printf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	stamp := r.styles.clock.Render("[" + r.now().Format(timeLayout) + "]")
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "%s %s\n", stamp, line)
}

// FormatDuration renders d the way build tools usually print task times.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%d μs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%d ms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2f s", d.Seconds())
	default:
		return fmt.Sprintf("%.1f min", d.Minutes())
	}
}

func reportable(name string) bool {
	return name != "" && !strings.HasPrefix(name, "<")
}
