// Package logsink collects the leveled "[LEVEL] message" lines of one
// generation attempt and mirrors them to a zerolog logger.
package logsink

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	LevelTrace = "TRACE"
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Line is one leveled diagnostic message.
type Line struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

func (l Line) String() string {
	return fmt.Sprintf("[%s] %s", l.Level, l.Message)
}

// Drainer pushes its buffered lines into sink in production order and then
// clears its buffer.
type Drainer interface {
	DrainLogs(sink func(string))
}

// Sink is the ordered, append-only log of one generation attempt.
type Sink struct {
	mu     sync.Mutex
	lines  []Line
	logger zerolog.Logger
}

// New returns an empty Sink that mirrors every line to logger.
func New(logger zerolog.Logger) *Sink {
	return &Sink{logger: logger}
}

// Reset clears all lines. Call it once at the start of each attempt.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = nil
}

// Append parses a "[LEVEL] message" line and appends it. Lines without a
// recognised level are recorded as INFO.
func (s *Sink) Append(raw string) {
	level, message := ParseLevel(raw)
	s.add(Line{Level: level, Message: message})
}

// Info appends an INFO line.
func (s *Sink) Info(format string, args ...any) {
	s.add(Line{Level: LevelInfo, Message: fmt.Sprintf(format, args...)})
}

// Error appends an ERROR line.
func (s *Sink) Error(format string, args ...any) {
	s.add(Line{Level: LevelError, Message: fmt.Sprintf(format, args...)})
}

// DrainFrom pulls every buffered line out of d, keeping d's order.
func (s *Sink) DrainFrom(d Drainer) {
	if d == nil {
		return
	}
	d.DrainLogs(s.Append)
}

// Lines returns a copy of the current lines.
func (s *Sink) Lines() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Line, len(s.lines))
	copy(out, s.lines)
	return out
}

// Strings renders the current lines as "[LEVEL] message".
func (s *Sink) Strings() []string {
	lines := s.Lines()
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.String()
	}
	return out
}

func (s *Sink) add(line Line) {
	s.mu.Lock()
	s.lines = append(s.lines, line)
	s.mu.Unlock()

	s.logger.WithLevel(zerologLevel(line.Level)).Str("source", "generation").Msg(line.Message)
}

func zerologLevel(level string) zerolog.Level {
	switch level {
	case LevelTrace:
		return zerolog.TraceLevel
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel splits "[LEVEL] message", "LEVEL: message" or "LEVEL message".
func ParseLevel(message string) (string, string) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return LevelInfo, ""
	}

	if strings.HasPrefix(trimmed, "[") {
		if idx := strings.Index(trimmed, "]"); idx > 1 {
			level := normalizeLevel(trimmed[1:idx])
			rest := strings.TrimSpace(trimmed[idx+1:])
			if level != "" {
				return level, rest
			}
		}
	}

	if idx := strings.Index(trimmed, ":"); idx > 0 {
		level := normalizeLevel(trimmed[:idx])
		rest := strings.TrimSpace(trimmed[idx+1:])
		if level != "" {
			return level, rest
		}
	}

	fields := strings.Fields(trimmed)
	if len(fields) > 1 {
		if level := normalizeLevel(fields[0]); level != "" {
			return level, strings.TrimSpace(trimmed[len(fields[0]):])
		}
	}

	return LevelInfo, trimmed
}

func normalizeLevel(level string) string {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return ""
	}
}
