package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = map[LogLevel]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLevel maps a LOG_LEVEL value to a level. Unknown values fall back to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

type Logger struct {
	mu     sync.RWMutex
	level  LogLevel
	prefix string
	logger *log.Logger
}

func NewLogger(level LogLevel) *Logger {
	return NewWriterLogger(os.Stdout, level)
}

// NewWriterLogger writes entries to w instead of stdout.
func NewWriterLogger(w io.Writer, level LogLevel) *Logger {
	return &Logger{
		level:  level,
		logger: log.New(w, "", 0),
	}
}

func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *Logger) Level() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// Named returns a logger sharing the output and level that tags each entry with component.
func (l *Logger) Named(component string) *Logger {
	return &Logger{
		level:  l.Level(),
		prefix: component,
		logger: l.logger,
	}
}

func (l *Logger) Debug(format string, args ...any) {
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// Fatal logs and exits the process.
func (l *Logger) Fatal(format string, args ...any) {
	l.log(LevelFatal, format, args...)
	os.Exit(1)
}

func (l *Logger) log(level LogLevel, format string, args ...any) {
	if level < l.Level() {
		return
	}

	// skip log() and the exported wrapper
	_, file, line, ok := runtime.Caller(2)
	fileName := "unknown"
	if ok {
		fileName = filepath.Base(file)
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)

	var entry string
	if l.prefix != "" {
		entry = fmt.Sprintf("[%s] [%s] [%s:%d] [%s] %s",
			timestamp, level, fileName, line, l.prefix, message)
	} else {
		entry = fmt.Sprintf("[%s] [%s] [%s:%d] %s",
			timestamp, level, fileName, line, message)
	}

	l.logger.Println(entry)
}

var (
	globalMu     sync.Mutex
	globalLogger *Logger
)

// InitLogger replaces the process-wide logger.
func InitLogger(level LogLevel) {
	globalMu.Lock()
	globalLogger = NewLogger(level)
	globalMu.Unlock()
}

func GetLogger() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewLogger(LevelInfo)
	}
	return globalLogger
}

func Debug(format string, args ...any) {
	GetLogger().log(LevelDebug, format, args...)
}

func Info(format string, args ...any) {
	GetLogger().log(LevelInfo, format, args...)
}

func Warn(format string, args ...any) {
	GetLogger().log(LevelWarn, format, args...)
}

func Error(format string, args ...any) {
	GetLogger().log(LevelError, format, args...)
}

func Fatal(format string, args ...any) {
	GetLogger().log(LevelFatal, format, args...)
	os.Exit(1)
}
