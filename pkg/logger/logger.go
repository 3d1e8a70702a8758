package logger

import (
	"context"
	"os"
	"sync"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a structured logger scoped to one component
type Logger struct {
	*zap.SugaredLogger
	// base carries every field except component
	base      *zap.SugaredLogger
	component string
}

// New creates a logger for a component. Production gets JSON output at info
// level, everything else console output at debug level.
func New(component, environment string) *Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	level := zap.DebugLevel
	if environment == "production" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
		level = zap.InfoLevel
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zap.NewAtomicLevelAt(level))
	return NewWithCore(component, core)
}

// NewWithCore builds a component logger on an existing zap core
func NewWithCore(component string, core zapcore.Core) *Logger {
	zapLogger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return withComponent(zapLogger.Sugar(), component)
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *Logger {
	nop := zap.NewNop().Sugar()
	return &Logger{SugaredLogger: nop, base: nop, component: "nop"}
}

func withComponent(base *zap.SugaredLogger, component string) *Logger {
	return &Logger{
		SugaredLogger: base.With("component", component),
		base:          base,
		component:     component,
	}
}

var (
	defaultLogger *Logger
	defaultOnce   sync.Once
)

// Default returns the process-wide application logger
func Default() *Logger {
	defaultOnce.Do(func() {
		env := os.Getenv("ENVIRONMENT")
		if env == "" {
			env = "development"
		}
		defaultLogger = New("teamboard", env)
	})
	return defaultLogger
}

// Named returns a child logger for a sub-component
func (l *Logger) Named(component string) *Logger {
	return withComponent(l.base, component)
}

// WithContext adds the chi request id when present
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if requestID := middleware.GetReqID(ctx); requestID != "" {
		return withComponent(l.base.With("request_id", requestID), l.component)
	}
	return l
}

// WithUser adds the internal user id
func (l *Logger) WithUser(userID int64) *Logger {
	return withComponent(l.base.With("user_id", userID), l.component)
}

// Audit logs a security-relevant event
func (l *Logger) Audit(msg string, keysAndValues ...interface{}) {
	l.With("audit", true).Infow(msg, keysAndValues...)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.Errorw(msg, keysAndValues...)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.Warnw(msg, keysAndValues...)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.Infow(msg, keysAndValues...)
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.Debugw(msg, keysAndValues...)
}

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	return l.SugaredLogger.Sync()
}
