// Package logger 提供基于 slog 的结构化日志。
//
// 核心功能:
//   - Init() 按级别配置默认日志器 (DEBUG 用 Text, 其余 JSON)
//   - InitWithFile() 同时输出到 stdout 和日志文件
//   - FromContext() 上下文感知日志
//   - 包级便捷方法 (Info/Error/Warn/Debug/Fatal)
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pkgerr "github.com/sparkbox/go-kiosk/pkg/errors"
)

var (
	// defaultLogger 使用 atomic.Pointer 保证并发安全。
	defaultLogger atomic.Pointer[slog.Logger]

	logFile   *os.File   // 全局日志文件, Shutdown 时关闭
	logFileMu sync.Mutex // 保护 logFile 并发关闭

	// level 当前最低级别, DBHandler 挂载时复用。
	level slog.LevelVar
)

func init() { defaultLogger.Store(newLogger(os.Stdout, false)) }

// getLogger 原子读取当前默认日志器。
func getLogger() *slog.Logger { return defaultLogger.Load() }

// storeLogger 原子存储默认日志器并同步 slog.SetDefault。
func storeLogger(l *slog.Logger) {
	defaultLogger.Store(l)
	slog.SetDefault(l)
}

// replaceTimeAttr 将时间格式化为易读字符串 (本地时区)。
func replaceTimeAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		if t, ok := a.Value.Any().(time.Time); ok {
			a.Value = slog.StringValue(t.Local().Format("2006-01-02 15:04:05.000"))
		}
	}
	return a
}

func newLogger(w io.Writer, text bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       &level,
		AddSource:   text,
		ReplaceAttr: replaceTimeAttr,
	}
	var handler slog.Handler
	if text {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel 解析 LOG_LEVEL 字符串 (DEBUG/INFO/WARN/ERROR), 无法识别时为 INFO。
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG", "DEV", "DEVELOPMENT":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init 初始化日志配置。DEBUG/development 使用 Text handler 输出到 stderr。
func Init(lvl string) {
	parsed := ParseLevel(lvl)
	level.Set(parsed)
	if parsed == slog.LevelDebug {
		storeLogger(newLogger(os.Stderr, true))
		return
	}
	storeLogger(newLogger(os.Stdout, false))
}

// InitWithFile 初始化日志, 同时输出到 stdout 和日志文件。
//
// 日志文件: {logDir}/kiosk-{date}.log (JSON 格式)。
// 调用者应在退出前调用 ShutdownFileHandler() 关闭文件。
func InitWithFile(logDir, lvl string) error {
	f, logPath, err := openLogFile(logDir)
	if err != nil {
		return err
	}
	level.Set(ParseLevel(lvl))
	storeLogger(newLogger(io.MultiWriter(os.Stdout, f), false))

	slog.Info("log file opened", FieldPath, logPath)
	return nil
}

// InitFileOnly 与 InitWithFile 相同, 但不写 stdout (终端界面占用时使用)。
func InitFileOnly(logDir, lvl string) error {
	f, logPath, err := openLogFile(logDir)
	if err != nil {
		return err
	}
	level.Set(ParseLevel(lvl))
	storeLogger(newLogger(f, false))

	slog.Info("log file opened", FieldPath, logPath)
	return nil
}

func openLogFile(logDir string) (*os.File, string, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, "", pkgerr.Wrap(err, "Logger.Init", "create log dir")
	}

	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logDir, fmt.Sprintf("kiosk-%s.log", date))

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, "", pkgerr.Wrap(err, "Logger.Init", "open log file")
	}
	logFileMu.Lock()
	prev := logFile
	logFile = f
	logFileMu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return f, logPath, nil
}

// ShutdownFileHandler 关闭日志文件 (并发安全)。
func ShutdownFileHandler() {
	logFileMu.Lock()
	defer logFileMu.Unlock()
	if logFile != nil {
		_ = logFile.Sync()
		_ = logFile.Close()
		logFile = nil
	}
}

// SetForTest 替换默认日志器 (测试捕获日志用)。
func SetForTest(l *slog.Logger) { storeLogger(l) }

// ========================================
// Context 感知日志
// ========================================

type ctxKey struct{}

// WithContext 将日志器注入 context。
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext 从 context 提取日志器，若不存在则返回默认日志器。
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
			return l
		}
	}
	return getLogger()
}

// ========================================
// 包级便捷方法
// ========================================

// Info/Error/Warn/Debug 记录结构化日志。args 为 key-value 对。
func Info(msg string, args ...any)  { getLogger().Info(msg, args...) }
func Error(msg string, args ...any) { getLogger().Error(msg, args...) }
func Warn(msg string, args ...any)  { getLogger().Warn(msg, args...) }
func Debug(msg string, args ...any) { getLogger().Debug(msg, args...) }

// Infof/Errorf/Warnf 记录格式化日志。
func Infof(format string, args ...any)  { getLogger().Info(fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...any) { getLogger().Error(fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...any)  { getLogger().Warn(fmt.Sprintf(format, args...)) }

// exitFunc 可在测试中替换以拦截 os.Exit。
var exitFunc = os.Exit

// Fatal 记录致命错误, flush 日志文件与 DB 缓冲后退出。
func Fatal(msg string, args ...any) {
	getLogger().Error(msg, args...)
	ShutdownDBHandler()
	ShutdownFileHandler()
	exitFunc(1)
}

// Infow/Warnw/Errorw/Debugw 等同于 Info/Warn/Error/Debug (兼容别名)。
func Infow(msg string, keysAndValues ...any)  { getLogger().Info(msg, keysAndValues...) }
func Warnw(msg string, keysAndValues ...any)  { getLogger().Warn(msg, keysAndValues...) }
func Errorw(msg string, keysAndValues ...any) { getLogger().Error(msg, keysAndValues...) }
func Debugw(msg string, keysAndValues ...any) { getLogger().Debug(msg, keysAndValues...) }

// With 返回带附加上下文的日志器。
func With(args ...any) *slog.Logger { return getLogger().With(args...) }

// Get 返回底层 slog.Logger。
func Get() *slog.Logger { return getLogger() }

// Attr 类型别名 (避免调用方直接 import slog)。
type Attr = slog.Attr

// Any 创建任意类型属性。
func Any(key string, value any) Attr { return slog.Any(key, value) }

// String 创建字符串属性。
func String(key, value string) Attr { return slog.String(key, value) }

// Int64 创建 int64 属性。
func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

// 预留字段常量 — MUST 使用常量键名，勿硬编码。
const (
	FieldSessionID  = "session_id"
	FieldComponent  = "component"
	FieldError      = "error"
	FieldStatus     = "status"
	FieldScreen     = "screen"
	FieldFrom       = "from"
	FieldTo         = "to"
	FieldEventType  = "event_type"
	FieldAction     = "action"
	FieldKey        = "key"
	FieldAttempt    = "attempt"
	FieldMax        = "max"
	FieldInterval   = "interval"
	FieldDelayMS    = "delay_ms"
	FieldDurationMS = "duration_ms"
	FieldCount      = "count"
	FieldSeq        = "seq"
	FieldURL        = "url"
	FieldPath       = "path"
	FieldMethod     = "method"
	FieldAddr       = "addr"
	FieldClientID   = "client_id"
	FieldImageID    = "image_id"
	FieldTimestamp  = "timestamp"
	FieldWatermark  = "watermark"
	FieldLen        = "len"
	FieldRaw        = "raw"
	FieldVersion    = "version"
)
