// Package logger builds the job's zap logger from the logging section of the
// configuration file.
//
// The section follows the shape of a Python logging dictConfig (version,
// formatters, handlers, root, loggers) so existing job configurations keep
// working. Init applies it once and returns the logger; nothing in this
// package holds process-wide state, callers pass the returned logger to the
// components that need it.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ajitpratap0/xetra/pkg/errors"
)

// Console streams; tests swap them.
var (
	stderr io.Writer = os.Stderr
	stdout io.Writer = os.Stdout
)

// contextKey is the type for context keys
type contextKey string

const (
	// RunIDKey is the context key for the run ID
	RunIDKey contextKey = "run_id"
	// ReportKey is the context key for the report name
	ReportKey contextKey = "report"
)

// Config is the logging section of the job configuration.
type Config struct {
	Version                int                        `mapstructure:"version"`
	DisableExistingLoggers bool                       `mapstructure:"disable_existing_loggers"`
	Formatters             map[string]FormatterConfig `mapstructure:"formatters"`
	Handlers               map[string]HandlerConfig   `mapstructure:"handlers"`
	Root                   RootConfig                 `mapstructure:"root"`
	Loggers                map[string]LoggerConfig    `mapstructure:"loggers"`
}

// FormatterConfig selects an encoder.
type FormatterConfig struct {
	// Encoding is json or console (default console)
	Encoding string `mapstructure:"encoding"`
	// Format is kept for compatibility with Python-style configurations;
	// "json" and "console" select the encoding, any other pattern is not
	// interpreted.
	Format     string `mapstructure:"format"`
	TimeFormat string `mapstructure:"time_format"`
	DateFmt    string `mapstructure:"datefmt"`
}

// HandlerConfig describes one output.
type HandlerConfig struct {
	// Class is console, file or rotating_file. The Python class names
	// logging.StreamHandler, logging.FileHandler and
	// logging.handlers.RotatingFileHandler are accepted as aliases.
	Class     string `mapstructure:"class"`
	Level     string `mapstructure:"level"`
	Formatter string `mapstructure:"formatter"`
	// Stream is stdout or stderr (default stderr)
	Stream   string `mapstructure:"stream"`
	Filename string `mapstructure:"filename"`
	Mode     string `mapstructure:"mode"`
	Encoding string `mapstructure:"encoding"`

	// Rotation settings for rotating_file
	MaxSizeMB   int  `mapstructure:"max_size_mb"`
	MaxBytes    int  `mapstructure:"maxbytes"`
	MaxBackups  int  `mapstructure:"max_backups"`
	BackupCount int  `mapstructure:"backupcount"`
	MaxAgeDays  int  `mapstructure:"max_age_days"`
	Compress    bool `mapstructure:"compress"`
}

// RootConfig configures the root logger.
type RootConfig struct {
	Level    string   `mapstructure:"level"`
	Handlers []string `mapstructure:"handlers"`
}

// LoggerConfig raises the level of a named child logger.
type LoggerConfig struct {
	Level     string   `mapstructure:"level"`
	Handlers  []string `mapstructure:"handlers"`
	Propagate bool     `mapstructure:"propagate"`
}

const (
	classConsole      = "console"
	classFile         = "file"
	classRotatingFile = "rotating_file"
)

var classAliases = map[string]string{
	"console":                              classConsole,
	"stream":                               classConsole,
	"logging.streamhandler":                classConsole,
	"file":                                 classFile,
	"logging.filehandler":                  classFile,
	"rotating_file":                        classRotatingFile,
	"logging.handlers.rotatingfilehandler": classRotatingFile,
}

// ParseConfig decodes a logging section. Unknown keys are rejected with
// ErrorTypeLoggingConfig.
func ParseConfig(section map[string]interface{}) (Config, error) {
	var cfg Config
	if section == nil {
		return cfg, errors.New(errors.ErrorTypeLoggingConfig, "logging section is missing")
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return cfg, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build logging decoder")
	}
	if err := dec.Decode(section); err != nil {
		return cfg, errors.Wrap(err, errors.ErrorTypeLoggingConfig, "malformed logging section")
	}
	return cfg, nil
}

// Init builds the logger described by cfg. The returned close function
// releases the files opened by file handlers and must be called after the
// final Sync. It fails with ErrorTypeLoggingConfig on any malformed setting;
// nothing is left open in that case.
func Init(cfg Config) (*zap.Logger, func(), error) {
	if cfg.Version != 1 {
		return nil, nil, errors.Newf(errors.ErrorTypeLoggingConfig, "unsupported logging version %d", cfg.Version)
	}

	rootLevel, err := ParseLevel(cfg.Root.Level, zapcore.WarnLevel)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeLoggingConfig, "invalid root level")
	}

	for name, lc := range cfg.Loggers {
		if _, err := ParseLevel(lc.Level, rootLevel); err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrorTypeLoggingConfig, "invalid level for logger "+name)
		}
	}

	if len(cfg.Root.Handlers) == 0 {
		// Same as Python's last-resort handler: console on stderr.
		core := zapcore.NewCore(newEncoder(FormatterConfig{}), zapcore.Lock(zapcore.AddSync(stderr)), rootLevel)
		return zap.New(core, zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(zapcore.AddSync(stderr)))), func() {}, nil
	}

	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	cores := make([]zapcore.Core, 0, len(cfg.Root.Handlers))
	for _, name := range cfg.Root.Handlers {
		hc, ok := cfg.Handlers[name]
		if !ok {
			closeAll()
			return nil, nil, errors.Newf(errors.ErrorTypeLoggingConfig, "root refers to unknown handler %q", name).
				WithDetail("known_handlers", handlerNames(cfg.Handlers))
		}
		core, closeFn, err := newCore(name, hc, cfg.Formatters, rootLevel)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		cores = append(cores, core)
		closers = append(closers, closeFn)
	}

	return zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.ErrorOutput(zapcore.Lock(zapcore.AddSync(stderr))),
	), closeAll, nil
}

// Named returns base.Named(name), raised to the level configured for name in
// the loggers section, if any.
func (c Config) Named(base *zap.Logger, name string) *zap.Logger {
	l := base.Named(name)
	lc, ok := c.Loggers[name]
	if !ok || lc.Level == "" {
		return l
	}
	level, err := ParseLevel(lc.Level, zapcore.DebugLevel)
	if err != nil {
		return l
	}
	return l.WithOptions(zap.IncreaseLevel(level))
}

// WithContext returns a logger with the run values carried by ctx
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	l := base

	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		l = l.With(zap.String("run_id", runID))
	}

	if report, ok := ctx.Value(ReportKey).(string); ok {
		l = l.With(zap.String("report", report))
	}

	return l
}

// ParseLevel converts a Python or zap level name, or a numeric Python level,
// into a zap level. An empty name yields def.
func ParseLevel(name string, def zapcore.Level) (zapcore.Level, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(name); err == nil {
		switch {
		case n <= 10:
			return zapcore.DebugLevel, nil
		case n <= 20:
			return zapcore.InfoLevel, nil
		case n <= 30:
			return zapcore.WarnLevel, nil
		case n <= 40:
			return zapcore.ErrorLevel, nil
		default:
			return zapcore.DPanicLevel, nil
		}
	}

	switch strings.ToUpper(name) {
	case "NOTSET", "DEBUG":
		return zapcore.DebugLevel, nil
	case "INFO":
		return zapcore.InfoLevel, nil
	case "WARN", "WARNING":
		return zapcore.WarnLevel, nil
	case "ERROR":
		return zapcore.ErrorLevel, nil
	case "CRITICAL", "FATAL":
		return zapcore.DPanicLevel, nil
	}
	return def, fmt.Errorf("unknown log level %q", name)
}

func newCore(name string, hc HandlerConfig, formatters map[string]FormatterConfig, rootLevel zapcore.Level) (zapcore.Core, func(), error) {
	level, err := ParseLevel(hc.Level, zapcore.DebugLevel)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeLoggingConfig, "invalid level for handler "+name)
	}
	// A record must pass both the root and the handler threshold.
	if rootLevel > level {
		level = rootLevel
	}

	var fc FormatterConfig
	if hc.Formatter != "" {
		var ok bool
		fc, ok = formatters[hc.Formatter]
		if !ok {
			return nil, nil, errors.Newf(errors.ErrorTypeLoggingConfig,
				"handler %q refers to unknown formatter %q", name, hc.Formatter)
		}
	}
	if enc := encodingOf(fc); enc != "json" && enc != "console" {
		return nil, nil, errors.Newf(errors.ErrorTypeLoggingConfig, "formatter %q has unknown encoding %q", hc.Formatter, enc)
	}

	ws, closeFn, err := newWriteSyncer(name, hc)
	if err != nil {
		return nil, nil, err
	}

	return zapcore.NewCore(newEncoder(fc), ws, level), closeFn, nil
}

func newWriteSyncer(name string, hc HandlerConfig) (zapcore.WriteSyncer, func(), error) {
	class, ok := classAliases[strings.ToLower(hc.Class)]
	if hc.Class == "" {
		class, ok = classConsole, true
	}
	if !ok {
		return nil, nil, errors.Newf(errors.ErrorTypeLoggingConfig, "handler %q has unknown class %q", name, hc.Class)
	}

	switch class {
	case classConsole:
		switch strings.ToLower(strings.TrimPrefix(hc.Stream, "ext://sys.")) {
		case "", "stderr":
			return zapcore.Lock(zapcore.AddSync(stderr)), func() {}, nil
		case "stdout":
			return zapcore.Lock(zapcore.AddSync(stdout)), func() {}, nil
		default:
			return nil, nil, errors.Newf(errors.ErrorTypeLoggingConfig, "handler %q has unknown stream %q", name, hc.Stream)
		}

	case classFile:
		if hc.Filename == "" {
			return nil, nil, errors.Newf(errors.ErrorTypeLoggingConfig, "file handler %q needs a filename", name)
		}
		if hc.Mode != "" && hc.Mode != "a" && hc.Mode != "w" {
			return nil, nil, errors.Newf(errors.ErrorTypeLoggingConfig, "file handler %q has unsupported mode %q", name, hc.Mode)
		}
		if hc.Mode == "w" {
			if err := os.WriteFile(hc.Filename, nil, 0o644); err != nil { //nolint:gosec
				return nil, nil, errors.Wrap(err, errors.ErrorTypeLoggingConfig, "failed to truncate log file").
					WithDetail("filename", hc.Filename)
			}
		}
		ws, closeFn, err := zap.Open(hc.Filename)
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrorTypeLoggingConfig, "failed to open log file").
				WithDetail("filename", hc.Filename)
		}
		return ws, closeFn, nil

	default:
		if hc.Filename == "" {
			return nil, nil, errors.Newf(errors.ErrorTypeLoggingConfig, "rotating file handler %q needs a filename", name)
		}
		lj := &lumberjack.Logger{
			Filename:   hc.Filename,
			MaxSize:    rotationSizeMB(hc),
			MaxBackups: firstPositive(hc.MaxBackups, hc.BackupCount),
			MaxAge:     hc.MaxAgeDays,
			Compress:   hc.Compress,
		}
		return zapcore.AddSync(lj), func() { _ = lj.Close() }, nil
	}
}

func newEncoder(fc FormatterConfig) zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	switch strings.ToLower(firstNonEmpty(fc.TimeFormat, fc.DateFmt)) {
	case "epoch":
		encoderConfig.EncodeTime = zapcore.EpochTimeEncoder
	case "rfc3339":
		encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	case "", "iso8601":
	default:
		encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(firstNonEmpty(fc.TimeFormat, fc.DateFmt))
	}

	if encodingOf(fc) == "json" {
		encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(encoderConfig)
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func encodingOf(fc FormatterConfig) string {
	if fc.Encoding != "" {
		return strings.ToLower(fc.Encoding)
	}
	if f := strings.ToLower(fc.Format); f == "json" {
		return "json"
	}
	return "console"
}

func rotationSizeMB(hc HandlerConfig) int {
	if hc.MaxSizeMB > 0 {
		return hc.MaxSizeMB
	}
	if hc.MaxBytes > 0 {
		const mb = 1 << 20
		return (hc.MaxBytes + mb - 1) / mb
	}
	return 0
}

func handlerNames(m map[string]HandlerConfig) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
