// Package temporal adapts the worker's zap logger to the Temporal SDK.
package temporal

import (
	"fmt"
	"reflect"
	"time"

	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapAdapter implements log.Logger and log.WithLogger on top of zap
type ZapAdapter struct {
	logger *zap.Logger
}

var (
	_ log.Logger     = (*ZapAdapter)(nil)
	_ log.WithLogger = (*ZapAdapter)(nil)
)

func NewZapAdapter(logger *zap.Logger) log.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapAdapter{logger: logger.WithOptions(zap.AddCallerSkip(2))}
}

func (z *ZapAdapter) Debug(msg string, keyvals ...interface{}) {
	z.write(zapcore.DebugLevel, msg, keyvals)
}

func (z *ZapAdapter) Info(msg string, keyvals ...interface{}) {
	z.write(zapcore.InfoLevel, msg, keyvals)
}

func (z *ZapAdapter) Warn(msg string, keyvals ...interface{}) {
	z.write(zapcore.WarnLevel, msg, keyvals)
}

func (z *ZapAdapter) Error(msg string, keyvals ...interface{}) {
	z.write(zapcore.ErrorLevel, msg, keyvals)
}

func (z *ZapAdapter) With(keyvals ...interface{}) log.Logger {
	return &ZapAdapter{logger: z.logger.With(toFields(keyvals)...)}
}

func (z *ZapAdapter) write(level zapcore.Level, msg string, keyvals []interface{}) {
	if ce := z.logger.Check(level, msg); ce != nil {
		ce.Write(toFields(keyvals)...)
	}
}

// toFields pairs up SDK keyvals. A trailing key without a value is kept
// under "_extra".
func toFields(keyvals []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, (len(keyvals)+1)/2)
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 == len(keyvals) {
			fields = append(fields, field("_extra", keyvals[i]))
			break
		}
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		fields = append(fields, field(key, keyvals[i+1]))
	}
	return fields
}

// field converts one SDK value. Values zap cannot encode (funcs, channels)
// become placeholders rather than breaking the log line.
func field(key string, val interface{}) (f zap.Field) {
	defer func() {
		if r := recover(); r != nil {
			f = zap.String(key, fmt.Sprintf("<unserializable: %v>", r))
		}
	}()

	switch v := val.(type) {
	case nil:
		return zap.String(key, "<nil>")
	case error:
		return zap.NamedError(key, v)
	case string:
		return zap.String(key, v)
	case time.Duration:
		return zap.Duration(key, v)
	case time.Time:
		return zap.Time(key, v)
	case fmt.Stringer:
		return zap.Stringer(key, v)
	}

	switch reflect.TypeOf(val).Kind() {
	case reflect.Func:
		return zap.String(key, "<func>")
	case reflect.Chan:
		return zap.String(key, "<chan>")
	case reflect.UnsafePointer:
		return zap.String(key, "<unsafe.Pointer>")
	}
	return zap.Any(key, val)
}
