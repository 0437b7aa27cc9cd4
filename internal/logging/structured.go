package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
)

// Fields carries structured key/value context for a log line.
type Fields map[string]any

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp string `json:"ts"`
	Level     string `json:"level"`
	Component string `json:"component,omitempty"`
	Run       string `json:"run,omitempty"`
	Message   string `json:"msg"`
	Fields    Fields `json:"fields,omitempty"`
}

// StructuredLogger wraps a standard logger with component and run context.
type StructuredLogger struct {
	logger    *log.Logger
	component string
	run       string
	jsonMode  bool
}

// NewStructuredLogger creates a new structured logger
func NewStructuredLogger(logger *log.Logger, component string, jsonMode bool) *StructuredLogger {
	if logger == nil {
		logger = Logger
	}
	return &StructuredLogger{
		logger:    logger,
		component: component,
		jsonMode:  jsonMode,
	}
}

// WithRun returns a logger tagged with a run identifier.
func (s *StructuredLogger) WithRun(run string) *StructuredLogger {
	cp := *s
	cp.run = run
	return &cp
}

// WithComponent returns a logger with component context
func (s *StructuredLogger) WithComponent(component string) *StructuredLogger {
	cp := *s
	cp.component = component
	return &cp
}

func (s *StructuredLogger) log(level string, msg string, fields Fields) {
	if s == nil || s.logger == nil {
		return
	}
	if s.jsonMode {
		data, _ := json.Marshal(LogEntry{
			Timestamp: time.Now().Format(time.RFC3339),
			Level:     level,
			Component: s.component,
			Run:       s.run,
			Message:   msg,
			Fields:    fields,
		})
		s.logger.Println(string(data))
		return
	}
	s.logger.Println(s.format(level, msg, fields))
}

func (s *StructuredLogger) format(level, msg string, fields Fields) string {
	var b strings.Builder
	if s.component != "" {
		fmt.Fprintf(&b, "[%s] ", s.component)
	}
	if s.run != "" {
		fmt.Fprintf(&b, "[run:%s] ", shortID(s.run))
	}
	if level != "INFO" {
		b.WriteString(level)
		b.WriteString(" ")
	}
	b.WriteString(msg)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	return b.String()
}

// Info logs an info message
func (s *StructuredLogger) Info(msg string, fields ...Fields) {
	s.log("INFO", msg, mergeFields(fields...))
}

// Error logs an error message
func (s *StructuredLogger) Error(msg string, fields ...Fields) {
	s.log("ERROR", msg, mergeFields(fields...))
}

// Debug logs only in dev mode.
func (s *StructuredLogger) Debug(msg string, fields ...Fields) {
	if !DevMode {
		return
	}
	s.log("DEBUG", msg, mergeFields(fields...))
}

// Warn logs a warning message
func (s *StructuredLogger) Warn(msg string, fields ...Fields) {
	s.log("WARN", msg, mergeFields(fields...))
}

// Printf provides compatibility with standard logger interface
func (s *StructuredLogger) Printf(format string, args ...interface{}) {
	s.Info(fmt.Sprintf(format, args...))
}

func mergeFields(fields ...Fields) Fields {
	result := make(Fields)
	for _, m := range fields {
		for k, v := range m {
			result[k] = v
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
