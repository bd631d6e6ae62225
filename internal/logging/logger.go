package logging

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const DefaultBufferSize = 1000

// CategoryKey tags entries with the subsystem that produced them.
const CategoryKey = "brook.category"

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

type Options struct {
	Level  Level
	Format Format
	// Output receives one line per entry. Nil keeps entries in memory only.
	Output     io.Writer
	Buffer     *LogBuffer
	BufferSize int
}

// sink is shared by a logger and everything derived from it.
type sink struct {
	mu          sync.Mutex
	output      io.Writer
	format      Format
	buffer      *LogBuffer
	subscribers *subscribers
}

// Logger records leveled entries with string fields. A nil Logger discards
// everything.
type Logger struct {
	sink   *sink
	level  Level
	fields map[string]string
}

func New(options Options) *Logger {
	buffer := options.Buffer
	if buffer == nil {
		size := options.BufferSize
		if size <= 0 {
			size = DefaultBufferSize
		}
		buffer = NewLogBuffer(size)
	}
	output := options.Output
	if output == nil {
		output = io.Discard
	}
	format := options.Format
	if format != FormatJSON {
		format = FormatText
	}
	level := options.Level
	if _, ok := levelOrder[level]; !ok {
		level = LevelInfo
	}
	return &Logger{
		sink: &sink{
			output:      output,
			format:      format,
			buffer:      buffer,
			subscribers: newSubscribers(),
		},
		level: level,
	}
}

func NewLogger(buffer *LogBuffer, level Level) *Logger {
	return New(Options{Buffer: buffer, Level: level, Output: os.Stderr})
}

func NewLoggerWithOutput(buffer *LogBuffer, level Level, output io.Writer) *Logger {
	return New(Options{Buffer: buffer, Level: level, Output: output})
}

// Discard returns a logger that keeps entries in memory only.
func Discard() *Logger {
	return New(Options{})
}

func (l *Logger) Buffer() *LogBuffer {
	if l == nil {
		return nil
	}
	return l.sink.buffer
}

// Subscribe streams entries recorded from now on until cancel is called.
func (l *Logger) Subscribe() (<-chan LogEntry, func()) {
	if l == nil {
		return nil, func() {}
	}
	return l.sink.subscribers.add(0)
}

// Dropped counts entries that slow subscribers missed.
func (l *Logger) Dropped() uint64 {
	if l == nil {
		return 0
	}
	return l.sink.subscribers.dropped.Load()
}

func (l *Logger) With(fields map[string]string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{sink: l.sink, level: l.level, fields: merge(l.fields, fields)}
}

// Category returns a logger whose entries carry the given category.
func (l *Logger) Category(name string) *Logger {
	return l.With(map[string]string{CategoryKey: name})
}

func (l *Logger) Enabled(level Level) bool {
	return l != nil && LevelAtLeast(level, l.level)
}

func (l *Logger) Debug(message string, fields map[string]string) {
	l.record(LevelDebug, message, fields)
}

func (l *Logger) Info(message string, fields map[string]string) {
	l.record(LevelInfo, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]string) {
	l.record(LevelWarning, message, fields)
}

func (l *Logger) Error(message string, fields map[string]string) {
	l.record(LevelError, message, fields)
}

func (l *Logger) record(level Level, message string, fields map[string]string) {
	if !l.Enabled(level) {
		return
	}
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   merge(l.fields, fields),
	}
	l.sink.buffer.Add(entry)
	l.sink.subscribers.send(entry)
	l.sink.write(entry)
}

func (s *sink) write(entry LogEntry) {
	var line []byte
	if s.format == FormatJSON {
		encoded, err := json.Marshal(entry)
		if err != nil {
			return
		}
		line = append(encoded, '\n')
	} else {
		line = []byte(textLine(entry))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.output.Write(line)
}

// textLine renders an entry as logfmt, fields sorted by key.
func textLine(entry LogEntry) string {
	var builder strings.Builder
	builder.WriteString("time=")
	builder.WriteString(entry.Timestamp.Format(time.RFC3339))
	builder.WriteString(" level=")
	builder.WriteString(string(entry.Level))
	builder.WriteString(" msg=")
	builder.WriteString(strconv.Quote(entry.Message))

	keys := make([]string, 0, len(entry.Context))
	for key := range entry.Context {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		builder.WriteByte(' ')
		builder.WriteString(key)
		builder.WriteByte('=')
		builder.WriteString(strconv.Quote(entry.Context[key]))
	}
	builder.WriteByte('\n')
	return builder.String()
}

func merge(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	combined := make(map[string]string, len(base)+len(extra))
	for key, value := range base {
		combined[key] = value
	}
	for key, value := range extra {
		combined[key] = value
	}
	return combined
}
