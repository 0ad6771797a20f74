/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Logger = logrus.Logger

const timestampFormat = "2006-01-02 15:04:05.000"

var (
	loggerRegistryMu sync.RWMutex
	loggerRegistry   = map[string]*logrus.Logger{}

	settingsMu       sync.RWMutex
	defaultLevel     = ParseLogLevel(EnvDefaultString("LOG_LEVEL", "info"))
	consoleLogFormat = EnvDefaultString("CONSOLE_LOG_FORMAT", "text")
	consoleOutput    io.Writer = os.Stdout
	fileLogEnabled   = EnvDefaultBool("FILE_LOG_ENABLED", false)
	fileLogDir       = EnvDefaultString("FILE_LOG_DIR", "logs")
	fileLogMaxAge    = 0
)

// ParseLogLevel maps a level name onto a logrus level, defaulting to info.
func ParseLogLevel(s string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}

// ConfigureLogLevel sets the level of every registered logger and of loggers
// created afterwards.
func ConfigureLogLevel(levelStr string) {
	lvl := ParseLogLevel(levelStr)
	settingsMu.Lock()
	defaultLevel = lvl
	settingsMu.Unlock()

	loggerRegistryMu.RLock()
	for _, lg := range loggerRegistry {
		lg.SetLevel(lvl)
	}
	loggerRegistryMu.RUnlock()
}

// ConfigureConsoleLogFormat selects "json" or "text" for every registered
// logger and for loggers created afterwards.
func ConfigureConsoleLogFormat(format string) {
	settingsMu.Lock()
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		consoleLogFormat = "json"
	} else {
		consoleLogFormat = "text"
	}
	format = consoleLogFormat
	settingsMu.Unlock()

	loggerRegistryMu.RLock()
	for name, lg := range loggerRegistry {
		lg.SetFormatter(consoleFormatter(name, format))
	}
	loggerRegistryMu.RUnlock()
}

func consoleFormatter(name, format string) logrus.Formatter {
	if format == "json" {
		return &JSONLogFormatter{LoggerName: name}
	}
	return &Log4jColorFormatter{LoggerName: name, NameWidth: 10, Color: true}
}

// ConfigureConsoleOutput redirects console output of loggers created afterwards.
func ConfigureConsoleOutput(w io.Writer) {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	if w == nil {
		w = io.Discard
	}
	consoleOutput = w
}

// ConfigureFileLog enables a daily rolling log file in dir for loggers created
// afterwards. maxAgeDays <= 0 keeps every file.
func ConfigureFileLog(enabled bool, dir string, maxAgeDays int) {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	fileLogEnabled = enabled
	if dir != "" {
		fileLogDir = dir
	}
	fileLogMaxAge = maxAgeDays
}

// SetLoggerLevel changes the level of a single registered logger.
func SetLoggerLevel(name string, lvlStr string) bool {
	loggerRegistryMu.RLock()
	lg, ok := loggerRegistry[name]
	loggerRegistryMu.RUnlock()
	if !ok {
		return false
	}
	lg.SetLevel(ParseLogLevel(lvlStr))
	return true
}

// NewLogger returns a named logrus logger. Loggers are registered by name so a
// second call with the same name returns the existing instance.
func NewLogger(name string) *logrus.Logger {
	loggerRegistryMu.Lock()
	defer loggerRegistryMu.Unlock()
	if l, ok := loggerRegistry[name]; ok {
		return l
	}

	settingsMu.RLock()
	level, format, out := defaultLevel, consoleLogFormat, consoleOutput
	fileEnabled, dir, maxAge := fileLogEnabled, fileLogDir, fileLogMaxAge
	settingsMu.RUnlock()

	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(level)
	l.SetReportCaller(true)
	l.SetFormatter(consoleFormatter(name, format))
	if fileEnabled {
		l.AddHook(newDailyFileHook(dir, maxAge, &Log4jColorFormatter{LoggerName: name, NameWidth: 10}))
	}
	loggerRegistry[name] = l
	return l
}

// Log4jColorFormatter renders "time LEVEL pid --- [name] file:line : message k=v".
type Log4jColorFormatter struct {
	LoggerName string
	NameWidth  int
	Color      bool
}

func (f *Log4jColorFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	b.WriteString(entry.Time.Format(timestampFormat))
	b.WriteByte(' ')
	b.WriteString(f.wrap(fmt.Sprintf("%7s", strings.ToUpper(entry.Level.String())), levelColor(entry.Level)))
	b.WriteByte(' ')
	b.WriteString(f.wrap(fmt.Sprintf("%-6d", os.Getpid()), ansiMagenta))
	b.WriteString(" --- ")
	b.WriteString(f.wrap(fmt.Sprintf("[%*s]", f.NameWidth, limitRunes(f.LoggerName, f.NameWidth)), ansiCyan))
	if entry.Caller != nil {
		b.WriteByte(' ')
		b.WriteString(f.wrap(fmt.Sprintf("%s:%d", filepath.Base(entry.Caller.File), entry.Caller.Line), ansiFaint))
	}
	b.WriteString(" : ")
	b.WriteString(entry.Message)
	for _, k := range sortedKeys(entry.Data) {
		fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

func (f *Log4jColorFormatter) wrap(s, code string) string {
	if !f.Color {
		return s
	}
	return code + s + ansiReset
}

// JSONLogFormatter renders one JSON object per entry.
type JSONLogFormatter struct {
	LoggerName string
}

func (f *JSONLogFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	rec := map[string]interface{}{
		"time":    entry.Time.Format(timestampFormat),
		"level":   entry.Level.String(),
		"logger":  f.LoggerName,
		"message": entry.Message,
	}
	if entry.Caller != nil {
		rec["caller"] = fmt.Sprintf("%s:%d", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}
	for k, v := range entry.Data {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		rec[k] = v
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// dailyFileHook appends every entry to <dir>/log-YYYYMMDD.txt.
type dailyFileHook struct {
	dir        string
	maxAgeDays int
	formatter  logrus.Formatter

	mu      sync.Mutex
	curDate string
	file    *os.File
}

func newDailyFileHook(dir string, maxAgeDays int, formatter logrus.Formatter) *dailyFileHook {
	return &dailyFileHook{dir: dir, maxAgeDays: maxAgeDays, formatter: formatter}
}

func (h *dailyFileHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *dailyFileHook) Fire(e *logrus.Entry) error {
	b, err := h.formatter.Format(e)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	date := e.Time.Format("20060102")
	if h.file == nil || h.curDate != date {
		if err := h.rotate(date); err != nil {
			return err
		}
	}
	_, err = h.file.Write(b)
	return err
}

func (h *dailyFileHook) rotate(date string) error {
	if h.file != nil {
		_ = h.file.Close()
		h.file = nil
	}
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(h.dir, "log-"+date+".txt"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	h.file = f
	h.curDate = date
	h.cleanup()
	return nil
}

func (h *dailyFileHook) cleanup() {
	if h.maxAgeDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -h.maxAgeDays)
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "log-") || !strings.HasSuffix(name, ".txt") {
			continue
		}
		d, err := time.ParseInLocation("20060102", strings.TrimSuffix(strings.TrimPrefix(name, "log-"), ".txt"), time.Local)
		if err != nil {
			continue
		}
		if d.Before(cutoff) {
			_ = os.Remove(filepath.Join(h.dir, name))
		}
	}
}

const (
	ansiReset   = "\x1b[0m"
	ansiFaint   = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiYellow  = "\x1b[33m"
	ansiGreen   = "\x1b[32m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

func levelColor(level logrus.Level) string {
	switch level {
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return ansiRed
	case logrus.WarnLevel:
		return ansiYellow
	case logrus.InfoLevel:
		return ansiGreen
	case logrus.DebugLevel:
		return ansiBlue
	default:
		return ansiMagenta
	}
}

func limitRunes(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n])
}

func sortedKeys(m logrus.Fields) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EnvDefaultString returns the environment value for key or def when unset.
func EnvDefaultString(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EnvDefaultBool parses the environment value for key, falling back to def.
func EnvDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return def
		}
		return b
	}
	return def
}

// EnvDefaultInt parses the environment value for key, falling back to def.
func EnvDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return def
		}
		return n
	}
	return def
}
