package utils

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig - параметры логгера
type LogConfig struct {
	Level       string // debug, info, warn, error
	Format      string // json или console (text)
	Output      string // stdout, stderr или путь к файлу
	Development bool
}

// Logger - обёртка над zap.Logger с доменными хелперами
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

// InitLogger создаёт логгер по конфигурации
//
// Пустая конфигурация даёт json в stdout уровня info.
// Если файл вывода не открывается - пишем в stderr.
func InitLogger(cfg LogConfig) *Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.MillisDurationEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "text", "console":
		if cfg.Development {
			encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, openOutput(cfg.Output), zap.NewAtomicLevelAt(parseLevel(cfg.Level)))

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	zl := zap.New(core, opts...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

func openOutput(output string) zapcore.WriteSyncer {
	switch strings.ToLower(output) {
	case "", "stdout":
		return zapcore.Lock(os.Stdout)
	case "stderr":
		return zapcore.Lock(os.Stderr)
	}

	f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return zapcore.Lock(os.Stderr)
	}
	return zapcore.AddSync(f)
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewNopLogger - логгер, который ничего не пишет (для тестов)
func NewNopLogger() *Logger {
	zl := zap.NewNop()
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// ============================================================
// Дочерние логгеры
// ============================================================

// With возвращает логгер с дополнительными полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	zl := l.Logger.With(fields...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// WithComponent помечает записи именем компонента
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

// WithVenue помечает записи идентификатором площадки
func (l *Logger) WithVenue(venue string) *Logger {
	return l.With(Venue(venue))
}

// WithPosition помечает записи идентификатором позиции
func (l *Logger) WithPosition(id string) *Logger {
	return l.With(PositionID(id))
}

// Sugar возвращает sugared логгер для printf-стиля
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// ============================================================
// Глобальный логгер
// ============================================================

// Используется только middleware и main. Компоненты движка получают логгер явно.
var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// GetGlobalLogger возвращает глобальный логгер, создавая его по умолчанию
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{})
	}
	return globalLogger
}

// L - короткий алиас GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// InitGlobalLogger создаёт логгер и делает его глобальным
func InitGlobalLogger(cfg LogConfig) *Logger {
	l := InitLogger(cfg)
	SetGlobalLogger(l)
	return l
}

// SetGlobalLogger заменяет глобальный логгер
func SetGlobalLogger(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// ============================================================
// Доменные поля
// ============================================================

func Venue(v string) zap.Field          { return zap.String("venue", v) }
func Instrument(s string) zap.Field     { return zap.String("instrument", s) }
func PositionID(id string) zap.Field    { return zap.String("position_id", id) }
func State(s string) zap.Field          { return zap.String("state", s) }
func Reason(r string) zap.Field         { return zap.String("reason", r) }
func Leverage(l float64) zap.Field      { return zap.Float64("leverage", l) }
func PNL(p float64) zap.Field           { return zap.Float64("pnl", p) }
func Price(p float64) zap.Field         { return zap.Float64("price", p) }
func Component(name string) zap.Field   { return zap.String("component", name) }
func RequestID(id string) zap.Field     { return zap.String("request_id", id) }
func Latency(d time.Duration) zap.Field { return zap.Int64("latency_ms", d.Milliseconds()) }

// Field - поле структурированного лога
type Field = zap.Field

// Реэкспорт базовых конструкторов zap, чтобы не импортировать zap в каждом пакете
var (
	String  = zap.String
	Int     = zap.Int
	Int64   = zap.Int64
	Float64 = zap.Float64
	Bool    = zap.Bool
	Err     = zap.Error
	Any     = zap.Any
)

// ============================================================
// Функции глобального логгера
// ============================================================

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

func Infof(format string, args ...interface{})  { L().sugar.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { L().sugar.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { L().sugar.Errorf(format, args...) }
