package telemetry

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zapcore"
)

// SpanCore is a zapcore.Core that records error entries as OpenTelemetry spans.
// Nothing is exported unless the host installs a tracer provider.
type SpanCore struct {
	zapcore.LevelEnabler
	tracer trace.Tracer
	fields []zapcore.Field
}

// NewSpanCore creates a SpanCore. Entries below error level are never recorded.
func NewSpanCore(enab zapcore.LevelEnabler) *SpanCore {
	return &SpanCore{
		LevelEnabler: enab,
		tracer:       otel.Tracer("github.com/robalyx/profilegov/logs"),
	}
}

func (c *SpanCore) With(fields []zapcore.Field) zapcore.Core {
	return &SpanCore{
		LevelEnabler: c.LevelEnabler,
		tracer:       c.tracer,
		fields:       append(append([]zapcore.Field(nil), c.fields...), fields...),
	}
}

func (c *SpanCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if ent.Level >= zapcore.ErrorLevel && c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}

	return ce
}

func (c *SpanCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	_, span := c.tracer.Start(context.Background(), "log."+component(ent.LoggerName))
	defer span.End()

	enc := zapcore.NewMapObjectEncoder()
	for _, field := range append(c.fields, fields...) {
		field.AddTo(enc)
	}

	attrs := make([]attribute.KeyValue, 0, len(enc.Fields)+3)
	attrs = append(attrs,
		attribute.String("log.message", ent.Message),
		attribute.String("log.level", ent.Level.String()),
		attribute.String("log.caller", ent.Caller.TrimmedPath()),
	)

	for key, value := range enc.Fields {
		attrs = append(attrs, attribute.String("log.field."+key, toString(value)))
	}

	span.SetAttributes(attrs...)

	return nil
}

func (c *SpanCore) Sync() error {
	return nil
}

// component returns the first segment of a zap logger name such as "queue" or "resolver".
func component(loggerName string) string {
	if loggerName == "" {
		return "application"
	}

	name, _, _ := strings.Cut(loggerName, ".")

	return name
}

// toString renders a log field value for a span attribute.
func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case error:
		return v.Error()
	}

	data, err := sonic.MarshalString(value)
	if err != nil {
		return fmt.Sprint(value)
	}

	return data
}
