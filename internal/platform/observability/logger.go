package observability

import (
	"context"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/groupdine/api/internal/platform/requestctx"
)

// CartIDParam is the chi URL parameter carrying a team cart identifier.
const CartIDParam = "cartID"

// cloudSeverity maps zap levels onto the Cloud Logging severity names.
var cloudSeverity = map[zapcore.Level]string{
	zapcore.DebugLevel:  "DEBUG",
	zapcore.InfoLevel:   "INFO",
	zapcore.WarnLevel:   "WARNING",
	zapcore.ErrorLevel:  "ERROR",
	zapcore.DPanicLevel: "CRITICAL",
	zapcore.PanicLevel:  "ALERT",
	zapcore.FatalLevel:  "EMERGENCY",
}

type loggerOptions struct {
	level zapcore.Level
	out   io.Writer
}

type LoggerOption func(*loggerOptions)

// WithLogLevel parses level names such as "debug" or "warn". Unknown names keep info.
func WithLogLevel(name string) LoggerOption {
	return func(o *loggerOptions) {
		if lvl, err := zapcore.ParseLevel(strings.TrimSpace(name)); err == nil {
			o.level = lvl
		}
	}
}

// WithLogOutput redirects log lines, mostly for tests.
func WithLogOutput(w io.Writer) LoggerOption {
	return func(o *loggerOptions) {
		if w != nil {
			o.out = w
		}
	}
}

// NewLogger builds a JSON logger whose fields Cloud Logging picks up as structured payload.
func NewLogger(opts ...LoggerOption) (*zap.Logger, error) {
	o := loggerOptions{level: zapcore.InfoLevel, out: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "severity",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stack_trace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeLevel: func(l zapcore.Level, pae zapcore.PrimitiveArrayEncoder) {
			pae.AppendString(cloudSeverity[l])
		},
	})
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(o.out)), o.level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// WithLogger injects the logger into the provided context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// PrintfAdapter feeds printf-style loggers, such as the auth package's, into zap.
type PrintfAdapter struct {
	sugar *zap.SugaredLogger
}

func NewPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{sugar: logger.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (a PrintfAdapter) Printf(format string, args ...any) {
	a.sugar.Infof(format, args...)
}

// ServiceLogger turns zap into the event logger the services take. Events carrying an "error"
// field are logged at warn. The request logger, when present, replaces base so the event
// inherits request and trace fields.
func ServiceLogger(base *zap.Logger, component string) func(context.Context, string, map[string]any) {
	if base == nil {
		base = zap.NewNop()
	}
	named := base.Named(component)
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := named
		if scoped := requestctx.Logger(ctx); scoped != requestctx.NoopLogger() {
			logger = scoped.Named(component)
		}
		zf := make([]zap.Field, 0, len(fields))
		for _, key := range slices.Sorted(maps.Keys(fields)) {
			zf = append(zf, zap.Any(key, fields[key]))
		}
		level := zapcore.InfoLevel
		if _, failed := fields["error"]; failed {
			level = zapcore.WarnLevel
		}
		logger.Log(level, event, zf...)
	}
}
