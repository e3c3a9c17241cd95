// Package logging предоставляет структурированный логгер движка поверх logrus.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level уровень логирования
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelTrace: "trace",
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "unknown"
}

// ParseLevel разбирает имя уровня
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
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

func (l Level) logrus() logrus.Level {
	switch l {
	case LevelTrace:
		return logrus.TraceLevel
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger интерфейс структурированного логирования
type Logger interface {
	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// Контекстные логгеры
	WithComponent(component string) Logger
	WithCall(token string) Logger
	WithFields(fields ...Field) Logger

	IsEnabled(level Level) bool
}

// Field поле записи лога
type Field struct {
	Key   string
	Value any
}

// Helpers для создания полей
func String(key, value string) Field                 { return Field{key, value} }
func Int(key string, value int) Field                { return Field{key, value} }
func Uint16(key string, value uint16) Field          { return Field{key, value} }
func Bool(key string, value bool) Field              { return Field{key, value} }
func Duration(key string, value time.Duration) Field { return Field{key, value.String()} }
func Stringer(key string, value fmt.Stringer) Field  { return Field{key, value.String()} }
func Any(key string, value any) Field                { return Field{key, value} }
func Err(err error) Field                            { return Field{logrus.ErrorKey, err} }

// Options настройки вывода
type Options struct {
	Level      string
	Format     string // json или text
	File       string // пусто - только stdout
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Quiet      bool // не писать в stdout
}

// Root корневой логгер, владеющий файлом
type Root struct {
	Logger
	file *lumberjack.Logger
}

// Close закрывает файл лога
func (r *Root) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// New создает корневой логгер
func New(opts Options) (*Root, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	l := logrus.New()
	l.SetLevel(level.logrus())
	switch strings.ToLower(opts.Format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	root := &Root{}
	var outputs []io.Writer
	if !opts.Quiet {
		outputs = append(outputs, os.Stdout)
	}
	if opts.File != "" {
		root.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 100), // megabytes
			MaxBackups: orDefault(opts.MaxBackups, 1),
			MaxAge:     opts.MaxAgeDays,
		}
		outputs = append(outputs, root.file)
	}
	switch len(outputs) {
	case 0:
		l.SetOutput(io.Discard)
	case 1:
		l.SetOutput(outputs[0])
	default:
		l.SetOutput(io.MultiWriter(outputs...))
	}

	root.Logger = &logrusLogger{entry: logrus.NewEntry(l)}
	return root, nil
}

// FromLogrus оборачивает существующий logrus логгер
func FromLogrus(l *logrus.Logger) Logger {
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// Nop логгер, который ничего не пишет
func Nop() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// logrusLogger реализация Logger
type logrusLogger struct {
	entry *logrus.Entry
}

func (l *logrusLogger) with(fields []Field) *logrus.Entry {
	if len(fields) == 0 {
		return l.entry
	}
	data := make(logrus.Fields, len(fields))
	for _, f := range fields {
		data[f.Key] = f.Value
	}
	return l.entry.WithFields(data)
}

func (l *logrusLogger) Trace(msg string, fields ...Field) { l.with(fields).Trace(msg) }
func (l *logrusLogger) Debug(msg string, fields ...Field) { l.with(fields).Debug(msg) }
func (l *logrusLogger) Info(msg string, fields ...Field)  { l.with(fields).Info(msg) }
func (l *logrusLogger) Warn(msg string, fields ...Field)  { l.with(fields).Warn(msg) }
func (l *logrusLogger) Error(msg string, fields ...Field) { l.with(fields).Error(msg) }

func (l *logrusLogger) WithComponent(component string) Logger {
	return &logrusLogger{entry: l.entry.WithField("component", component)}
}

func (l *logrusLogger) WithCall(token string) Logger {
	return &logrusLogger{entry: l.entry.WithField("call", token)}
}

func (l *logrusLogger) WithFields(fields ...Field) Logger {
	return &logrusLogger{entry: l.with(fields)}
}

func (l *logrusLogger) IsEnabled(level Level) bool {
	return l.entry.Logger.IsLevelEnabled(level.logrus())
}
