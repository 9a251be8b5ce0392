package logger

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
)

type LogLevel string

const (
	DebugLevel LogLevel = "DEBUG"
	InfoLevel  LogLevel = "INFO"
	ErrorLevel LogLevel = "ERROR"
)

var rank = map[LogLevel]int32{DebugLevel: 0, InfoLevel: 1, ErrorLevel: 2}

// minLevel is shared by every Logger so one SetLevel call at startup applies
// to the package-level loggers as well.
var minLevel atomic.Int32

func init() {
	minLevel.Store(rank[InfoLevel])
}

// SetLevel sets the minimum level written by all loggers. Unknown values are ignored.
func SetLevel(level string) {
	if r, ok := rank[LogLevel(strings.ToUpper(level))]; ok {
		minLevel.Store(r)
	}
}

// LogEntry describes the structure of a log message
type LogEntry struct {
	Time    string   `json:"time"`
	Level   LogLevel `json:"level"`
	Module  string   `json:"module,omitempty"`
	Message string   `json:"message"`
	Error   string   `json:"error,omitempty"`
}

// Logger is a centralized structured logger
type Logger struct {
	out *log.Logger
}

// New creates a new Logger writing to stdout
func New() *Logger {
	return NewWithWriter(os.Stdout)
}

// NewWithWriter creates a Logger writing JSON lines to w.
func NewWithWriter(w io.Writer) *Logger {
	return &Logger{
		out: log.New(w, "", 0),
	}
}

var (
	emailRegex    = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	tokenRegex    = regexp.MustCompile(`eyJ[^\s"]+`)
	bcryptRegex   = regexp.MustCompile(`\$2[aby]\$\d{2}\$[./A-Za-z0-9]{53}`)
	passwordRegex = regexp.MustCompile(`(?i)\b(password|passwd|pw)\s*[=:]\s*\S+`)
)

// Anonymize replaces sensitive information in logs (emails, tokens, password material)
func Anonymize(s string) string {
	s = emailRegex.ReplaceAllString(s, "[REDACTED_EMAIL]")
	s = tokenRegex.ReplaceAllString(s, "[REDACTED_TOKEN]")
	s = bcryptRegex.ReplaceAllString(s, "[REDACTED_HASH]")
	s = passwordRegex.ReplaceAllString(s, "$1=[REDACTED]")
	return s
}

// internal log function
func (l *Logger) log(module string, level LogLevel, msg string, err error) {
	if rank[level] < minLevel.Load() {
		return
	}
	entry := LogEntry{
		Time:    time.Now().Format(time.RFC3339),
		Level:   level,
		Module:  module,
		Message: Anonymize(msg),
	}
	if err != nil {
		entry.Error = Anonymize(err.Error())
	}
	data, _ := json.Marshal(entry)
	l.out.Println(string(data))
}

// --- Convenient methods ---
func (l *Logger) Info(module, msg string) {
	l.log(module, InfoLevel, msg, nil)
}

func (l *Logger) Debug(module, msg string) {
	l.log(module, DebugLevel, msg, nil)
}

func (l *Logger) Error(module, msg string, err error) {
	l.log(module, ErrorLevel, msg, err)
}
