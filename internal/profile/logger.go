package profile

import (
	"github.com/jaxron/axonet/pkg/client/logger"
	"go.uber.org/zap"
)

// zapLogger adapts zap.Logger to the axonet logger.Logger interface.
type zapLogger struct {
	zap *zap.Logger
}

func newLogger(l *zap.Logger) logger.Logger {
	return &zapLogger{zap: l.Named("http")}
}

func (l *zapLogger) Debug(msg string)                  { l.zap.Debug(msg) }
func (l *zapLogger) Info(msg string)                   { l.zap.Info(msg) }
func (l *zapLogger) Warn(msg string)                   { l.zap.Warn(msg) }
func (l *zapLogger) Error(msg string)                  { l.zap.Error(msg) }
func (l *zapLogger) Debugf(format string, args ...any) { l.zap.Sugar().Debugf(format, args...) }
func (l *zapLogger) Infof(format string, args ...any)  { l.zap.Sugar().Infof(format, args...) }
func (l *zapLogger) Warnf(format string, args ...any)  { l.zap.Sugar().Warnf(format, args...) }
func (l *zapLogger) Errorf(format string, args ...any) { l.zap.Sugar().Errorf(format, args...) }

// WithFields returns a logger carrying the given fields as zap fields.
func (l *zapLogger) WithFields(fields ...logger.Field) logger.Logger {
	zapFields := make([]zap.Field, len(fields))
	for i, f := range fields {
		zapFields[i] = zap.Any(f.Key, f.Value)
	}

	return &zapLogger{zap: l.zap.With(zapFields...)}
}
