package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger writes structured JSON lines. The chain id, when given, is
// attached as a field rather than a prefix.
type ZapLogger struct {
	log *zap.SugaredLogger
}

var _ Logger = (*ZapLogger)(nil)

// NewZapLogger builds a production zap logger filtered at the given level.
// Notice maps onto zap's warn level.
func NewZapLogger(level Level) *ZapLogger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(zapLevel(level))

	log, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		log = zap.NewNop()
	}
	return &ZapLogger{log: log.Sugar()}
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case NoticeLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (z *ZapLogger) Info(format string, args ...interface{}) {
	z.log.Info(fmt.Sprintf(format, args...))
}

func (z *ZapLogger) InfoWithChain(chainID int, format string, args ...interface{}) {
	z.log.Infow(fmt.Sprintf(format, args...), "chain_id", chainID)
}

func (z *ZapLogger) Error(format string, args ...interface{}) {
	z.log.Error(fmt.Sprintf(format, args...))
}

func (z *ZapLogger) ErrorWithChain(chainID int, format string, args ...interface{}) {
	z.log.Errorw(fmt.Sprintf(format, args...), "chain_id", chainID)
}

func (z *ZapLogger) Debug(format string, args ...interface{}) {
	z.log.Debug(fmt.Sprintf(format, args...))
}

func (z *ZapLogger) DebugWithChain(chainID int, format string, args ...interface{}) {
	z.log.Debugw(fmt.Sprintf(format, args...), "chain_id", chainID)
}

func (z *ZapLogger) Notice(format string, args ...interface{}) {
	z.log.Warn(fmt.Sprintf(format, args...))
}

func (z *ZapLogger) NoticeWithChain(chainID int, format string, args ...interface{}) {
	z.log.Warnw(fmt.Sprintf(format, args...), "chain_id", chainID)
}

// Sync flushes buffered entries.
func (z *ZapLogger) Sync() error {
	return z.log.Sync()
}
