package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level is the logging level.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

var levelNames = map[Level]string{
	Debug: "DEBUG",
	Info:  "INFO",
	Warn:  "WARN",
	Error: "ERROR",
}

// Options configures the process logger.
type Options struct {
	Enabled bool
	Level   string
	File    string
	Console bool
}

type state struct {
	level   Level
	logger  *log.Logger
	closer  io.Closer
	enabled bool
}

var (
	mu      sync.RWMutex
	current = &state{level: Info, logger: log.New(os.Stdout, "", 0), enabled: true}
)

// Init configures the process logger. Calling it again replaces the previous
// configuration and closes a previously opened log file.
func Init(opts Options) error {
	if !opts.Enabled {
		swap(&state{enabled: false})
		return nil
	}

	var writers []io.Writer
	var closer io.Closer
	if opts.File != "" {
		dir := filepath.Dir(opts.File)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}
	if opts.Console || len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	swap(&state{
		level:   ParseLevel(opts.Level),
		logger:  log.New(io.MultiWriter(writers...), "", 0),
		closer:  closer,
		enabled: true,
	})
	return nil
}

// SetOutput sends log lines at or above level to w. Intended for tests.
func SetOutput(w io.Writer, level Level) {
	swap(&state{level: level, logger: log.New(w, "", 0), enabled: true})
}

func swap(next *state) {
	mu.Lock()
	prev := current
	current = next
	mu.Unlock()
	if prev != nil && prev.closer != nil {
		prev.closer.Close()
	}
}

// ParseLevel maps a config string to a Level, defaulting to Info.
func ParseLevel(levelStr string) Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

func logf(level Level, format string, args ...interface{}) {
	mu.RLock()
	s := current
	mu.RUnlock()
	if s == nil || !s.enabled || s.level > level {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05")
	s.logger.Println(fmt.Sprintf("[%s] [%s] %s", ts, levelNames[level], fmt.Sprintf(format, args...)))
}

// Debugf logs a debug message.
func Debugf(format string, args ...interface{}) { logf(Debug, format, args...) }

// Infof logs an info message.
func Infof(format string, args ...interface{}) { logf(Info, format, args...) }

// Warnf logs a warning.
func Warnf(format string, args ...interface{}) { logf(Warn, format, args...) }

// Errorf logs an error message.
func Errorf(format string, args ...interface{}) { logf(Error, format, args...) }
