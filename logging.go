package haloexchange

import "go.uber.org/zap"

// Logger provides unstructured debug logging hooks for UpdateHalo.
// Adapted from the teacher client's Logger/StructuredLogger pair.
type Logger interface {
	Debugf(format string, args ...any)
}

// StructuredLogger emits key/value pairs for structured logging
// backends. Preferred over Logger when both are configured.
type StructuredLogger interface {
	Debugw(msg string, keyvals ...any)
}

// ZapLogger adapts a *zap.SugaredLogger to both Logger and
// StructuredLogger.
type ZapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger wraps l. A nil l wraps zap.NewNop().Sugar().
func NewZapLogger(l *zap.Logger) *ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapLogger{s: l.Sugar()}
}

func (z *ZapLogger) Debugf(format string, args ...any) {
	if z == nil || z.s == nil {
		return
	}
	z.s.Debugf(format, args...)
}

func (z *ZapLogger) Debugw(msg string, keyvals ...any) {
	if z == nil || z.s == nil {
		return
	}
	z.s.Debugw(msg, keyvals...)
}

type logField struct {
	key   string
	value any
}

func logKV(key string, value any) logField {
	return logField{key: key, value: value}
}

func (c *Context) logExchangeEvent(event string, fields ...logField) {
	if c == nil {
		return
	}
	if c.structuredLogger != nil {
		kv := make([]any, 0, len(fields)*2+2)
		kv = append(kv, "event", event)
		for _, f := range fields {
			if f.key == "" {
				continue
			}
			kv = append(kv, f.key, f.value)
		}
		c.structuredLogger.Debugw("haloexchange update_halo", kv...)
		return
	}
	if c.logger == nil {
		return
	}
	c.logger.Debugf("update_halo %s %v", event, fields)
}
