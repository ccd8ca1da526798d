package common

import (
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log message.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// redacted replaces registered secrets in log lines.
const redacted = "********"

// AppLogger is the leveled application logger. Console output goes to
// stderr so command output on stdout stays clean. With file logging on,
// lines are also appended to pvpn.log, which is gzipped and rotated once
// it grows past maxFileSize.
type AppLogger struct {
	mu          sync.Mutex
	level       LogLevel
	logger      *log.Logger
	output      io.Writer
	logFile     *os.File
	filePath    string
	written     int64
	maxFileSize int64
	maxBackups  int
	secrets     []string
}

// LogConfig holds configuration options for the logger.
type LogConfig struct {
	Level       LogLevel
	EnableFile  bool
	Dir         string // log directory, required when EnableFile is set
	MaxFileSize int64  // in bytes, default 5MB
	MaxBackups  int    // number of rotated files to keep, default 5
}

var (
	defaultLogger *AppLogger
	loggerOnce    sync.Once
)

const (
	defaultMaxFileSize = 5 * 1024 * 1024 // 5MB
	defaultMaxBackups  = 5
)

// GetLogger returns the singleton logger instance.
func GetLogger() *AppLogger {
	loggerOnce.Do(func() {
		defaultLogger = &AppLogger{
			level:       LevelInfo,
			output:      os.Stderr,
			logger:      log.New(os.Stderr, "", 0),
			maxFileSize: defaultMaxFileSize,
			maxBackups:  defaultMaxBackups,
		}
	})
	return defaultLogger
}

// InitLogger applies config to the default logger. It may be called more
// than once; an already open log file is replaced.
func InitLogger(config LogConfig) error {
	logger := GetLogger()
	logger.SetLevel(config.Level)

	logger.mu.Lock()
	if config.MaxFileSize > 0 {
		logger.maxFileSize = config.MaxFileSize
	}
	if config.MaxBackups > 0 {
		logger.maxBackups = config.MaxBackups
	}
	logger.mu.Unlock()

	if config.EnableFile {
		return logger.EnableFileLogging(config.Dir)
	}
	return nil
}

// SetLevel sets the minimum log level.
func (l *AppLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetOutput sets the console destination.
func (l *AppLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
	l.logger = log.New(l.writer(), "", 0)
}

// AddSecret masks s in every later log line. Empty strings are ignored.
func (l *AppLogger) AddSecret(s string) {
	if s == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, known := range l.secrets {
		if known == s {
			return
		}
	}
	l.secrets = append(l.secrets, s)
}

// AddSecret registers s with the default logger.
func AddSecret(s string) {
	GetLogger().AddSecret(s)
}

func (l *AppLogger) redact(line string) string {
	for _, s := range l.secrets {
		line = strings.ReplaceAll(line, s, redacted)
	}
	return line
}

// writer returns the combined console and file destination. Callers hold mu.
func (l *AppLogger) writer() io.Writer {
	out := l.output
	if out == nil {
		out = os.Stderr
	}
	if l.logFile == nil {
		return out
	}
	return io.MultiWriter(out, l.logFile)
}

// EnableFileLogging appends log lines to pvpn.log in logDir as well as stderr.
func (l *AppLogger) EnableFileLogging(logDir string) error {
	if logDir == "" {
		return fmt.Errorf("log directory not set")
	}
	if isSymlink(logDir) {
		return fmt.Errorf("%w: log directory is a symlink", ErrPermissionDenied)
	}
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return err
	}

	logPath := filepath.Join(logDir, LogFileName)
	if isSymlink(logPath) {
		return fmt.Errorf("%w: log file is a symlink", ErrPermissionDenied)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
	l.filePath = logPath
	return l.openFile()
}

// openFile opens filePath for appending, rotating it first when it is
// already too large. Callers hold mu.
func (l *AppLogger) openFile() error {
	if info, err := os.Stat(l.filePath); err == nil && l.full(info.Size()) {
		l.rotate()
	}

	file, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		l.logger = log.New(l.writer(), "", 0)
		return err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}

	l.logFile = file
	l.written = info.Size()
	l.logger = log.New(l.writer(), "", 0)
	return nil
}

// full reports whether a file of size bytes is due for rotation.
func (l *AppLogger) full(size int64) bool {
	return l.maxFileSize > 0 && size >= l.maxFileSize
}

func (l *AppLogger) closeFile() {
	if l.logFile != nil {
		l.logFile.Close()
		l.logFile = nil
	}
}

// rotate gzips filePath next to itself with a timestamp suffix and prunes
// old archives. Callers hold mu with the file closed.
func (l *AppLogger) rotate() {
	rotated := fmt.Sprintf("%s.%s.gz", l.filePath, time.Now().Format("20060102-150405.000"))
	if err := compressFile(l.filePath, rotated); err != nil {
		os.Rename(l.filePath, strings.TrimSuffix(rotated, ".gz"))
	} else {
		os.Remove(l.filePath)
	}
	l.written = 0
	l.pruneBackups()
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// pruneBackups keeps the newest maxBackups archives. Timestamp suffixes
// sort chronologically.
func (l *AppLogger) pruneBackups() {
	matches, err := filepath.Glob(l.filePath + ".*")
	if err != nil || len(matches) <= l.maxBackups {
		return
	}
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-l.maxBackups] {
		os.Remove(old)
	}
}

func isSymlink(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeSymlink != 0
}

// log formats and writes one line. It must be called directly from the
// exported logging functions so that Caller(2) is their caller.
func (l *AppLogger) log(level LogLevel, msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	caller := "???"
	if _, file, line, ok := runtime.Caller(2); ok {
		caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	line := l.redact(fmt.Sprintf("%s [%s] %s: %s",
		time.Now().Format("2006/01/02 15:04:05"), level, caller, msg))

	if l.logger == nil {
		l.logger = log.New(l.writer(), "", 0)
	}
	l.logger.Println(line)

	if l.logFile == nil {
		return
	}
	l.written += int64(len(line)) + 1
	if l.full(l.written) {
		l.closeFile()
		if err := l.openFile(); err != nil {
			fmt.Fprintf(os.Stderr, "pvpn: could not reopen log file: %v\n", err)
		}
	}
}

// Debug logs a debug message.
func (l *AppLogger) Debug(msg string, args ...interface{}) {
	l.log(LevelDebug, msg, args...)
}

// Info logs an informational message.
func (l *AppLogger) Info(msg string, args ...interface{}) {
	l.log(LevelInfo, msg, args...)
}

// Warn logs a warning message.
func (l *AppLogger) Warn(msg string, args ...interface{}) {
	l.log(LevelWarn, msg, args...)
}

// Error logs an error message.
func (l *AppLogger) Error(msg string, args ...interface{}) {
	l.log(LevelError, msg, args...)
}

// LogDebug logs a debug message to the default logger.
func LogDebug(msg string, args ...interface{}) {
	GetLogger().log(LevelDebug, msg, args...)
}

// LogInfo logs an info message to the default logger.
func LogInfo(msg string, args ...interface{}) {
	GetLogger().log(LevelInfo, msg, args...)
}

// LogWarn logs a warning message to the default logger.
func LogWarn(msg string, args ...interface{}) {
	GetLogger().log(LevelWarn, msg, args...)
}

// LogError logs an error message to the default logger.
func LogError(msg string, args ...interface{}) {
	GetLogger().log(LevelError, msg, args...)
}

// Close closes the log file. Console logging continues.
func (l *AppLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logFile == nil {
		return nil
	}
	err := l.logFile.Close()
	l.logFile = nil
	l.logger = log.New(l.writer(), "", 0)
	return err
}

// CloseLogger closes the default logger's file.
func CloseLogger() error {
	return GetLogger().Close()
}
