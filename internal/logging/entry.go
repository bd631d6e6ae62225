package logging

import (
	"strings"
	"time"
)

type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

var levelOrder = map[Level]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

func (level Level) rank() int {
	if rank, ok := levelOrder[level]; ok {
		return rank
	}
	return levelOrder[LevelInfo]
}

// LevelAtLeast reports whether level is as severe as min or more.
func LevelAtLeast(level, min Level) bool {
	return level.rank() >= min.rank()
}

func ParseLevel(value string) (Level, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "warn" {
		return LevelWarning, true
	}
	if _, ok := levelOrder[Level(value)]; ok {
		return Level(value), true
	}
	return "", false
}

// LogEntry is one recorded message. Context holds the structured fields,
// including the category under CategoryKey.
type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     Level             `json:"level"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
}

func (entry LogEntry) Category() string {
	return entry.Context[CategoryKey]
}
