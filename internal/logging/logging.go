package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
}

// ParseLevel maps a level name to a Level. "warning" is accepted as an alias.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

func (l Level) String() string { return levelNames[l] }

type Format int

const (
	FormatJSON Format = iota
	FormatText
)

func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), "text") {
		return FormatText
	}
	return FormatJSON
}

type Logger struct {
	mu     *sync.Mutex
	out    io.Writer
	level  Level
	format Format
	prefix string
	base   map[string]interface{}
}

var defaultLogger *Logger

func Init(w io.Writer, lvl Level, baseFields map[string]interface{}) {
	if w == nil {
		w = os.Stderr
	}
	defaultLogger = &Logger{
		mu:    &sync.Mutex{},
		out:   w,
		level: lvl,
		base:  copyMap(baseFields),
	}
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	nm := make(map[string]interface{}, len(m))
	for k, v := range m {
		nm[k] = v
	}
	return nm
}

func root() *Logger {
	if defaultLogger == nil {
		Init(nil, LevelInfo, nil)
	}
	return defaultLogger
}

// WithFields returns a logger that adds fields to every entry.
func WithFields(fields map[string]interface{}) *Logger {
	return root().WithFields(fields)
}

// WithPrefix returns a logger whose entries carry a "prefix" field (json) or
// a "[prefix]" marker (text).
func WithPrefix(prefix string) *Logger {
	return root().WithPrefix(prefix)
}

func (l *Logger) clone() *Logger {
	return &Logger{
		mu:     l.mu,
		out:    l.out,
		level:  l.level,
		format: l.format,
		prefix: l.prefix,
		base:   copyMap(l.base),
	}
}

func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	nl := l.clone()
	if fields != nil {
		if nl.base == nil {
			nl.base = make(map[string]interface{}, len(fields))
		}
		for k, v := range fields {
			nl.base[k] = v
		}
	}
	return nl
}

func (l *Logger) WithPrefix(prefix string) *Logger {
	nl := l.clone()
	nl.prefix = prefix
	return nl
}

func (l *Logger) enabled(lvl Level) bool {
	threshold := l.level
	if defaultLogger != nil {
		defaultLogger.mu.Lock()
		threshold = defaultLogger.level
		defaultLogger.mu.Unlock()
	}
	return lvl >= threshold
}

func (l *Logger) log(lvl Level, msg string, extra map[string]interface{}) {
	if !l.enabled(lvl) {
		return
	}
	format := l.format
	if defaultLogger != nil {
		format = defaultLogger.format
	}
	var line []byte
	if format == FormatText {
		line = l.textLine(lvl, msg, extra)
	} else {
		line = l.jsonLine(lvl, msg, extra)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Write(line)
}

func (l *Logger) jsonLine(lvl Level, msg string, extra map[string]interface{}) []byte {
	entry := make(map[string]interface{}, 5+len(l.base)+len(extra))
	entry["ts"] = time.Now().Format(time.RFC3339Nano)
	entry["lvl"] = levelNames[lvl]
	entry["msg"] = msg
	if l.prefix != "" {
		entry["prefix"] = l.prefix
	}
	for k, v := range l.base {
		entry[k] = v
	}
	for k, v := range extra {
		entry[k] = v
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return []byte(time.Now().Format(time.RFC3339Nano) + " " + levelNames[lvl] + " " + msg + "\n")
	}
	return append(b, '\n')
}

func (l *Logger) textLine(lvl Level, msg string, extra map[string]interface{}) []byte {
	var b strings.Builder
	b.WriteString(time.Now().Format("15:04:05"))
	b.WriteString(" ")
	b.WriteString(strings.ToUpper(levelNames[lvl]))
	if l.prefix != "" {
		b.WriteString(" [" + l.prefix + "]")
	}
	b.WriteString(" " + msg)
	fields := make(map[string]interface{}, len(l.base)+len(extra))
	for k, v := range l.base {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	b.WriteString("\n")
	return []byte(b.String())
}

func (l *Logger) Debug(msg string, extra map[string]interface{}) { l.log(LevelDebug, msg, extra) }
func (l *Logger) Info(msg string, extra map[string]interface{})  { l.log(LevelInfo, msg, extra) }
func (l *Logger) Warn(msg string, extra map[string]interface{})  { l.log(LevelWarn, msg, extra) }
func (l *Logger) Error(msg string, extra map[string]interface{}) { l.log(LevelError, msg, extra) }

// Log writes at a level chosen at runtime.
func (l *Logger) Log(lvl Level, msg string, extra map[string]interface{}) { l.log(lvl, msg, extra) }

// Top-level convenience wrappers
func Debug(msg string, extra map[string]interface{}) { root().Debug(msg, extra) }
func Info(msg string, extra map[string]interface{})  { root().Info(msg, extra) }
func Warn(msg string, extra map[string]interface{})  { root().Warn(msg, extra) }
func Error(msg string, extra map[string]interface{}) { root().Error(msg, extra) }

func SetLevel(lvl Level) {
	if defaultLogger == nil {
		Init(nil, lvl, nil)
		return
	}
	defaultLogger.mu.Lock()
	defaultLogger.level = lvl
	defaultLogger.mu.Unlock()
}

func SetFormat(f Format) {
	l := root()
	l.mu.Lock()
	l.format = f
	l.mu.Unlock()
}
