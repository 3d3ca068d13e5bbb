// Package report implements the ETL orchestrator and the reports it runs.
//
// An ETL binds a source bucket, a target bucket, the meta file key and the
// source and target parameters. Each report is one synchronous
// extract, transform and load pass; any failure is returned wrapped as
// ErrorTypeReportExecution.
package report

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/xetra/pkg/errors"
	"github.com/ajitpratap0/xetra/pkg/formats"
	"github.com/ajitpratap0/xetra/pkg/metrics"
	"github.com/ajitpratap0/xetra/pkg/observability"
)

// Report1 is the daily per-ISIN price report.
const Report1 = "report1"

// ObjectStore is what the orchestrator needs from a bucket connector.
type ObjectStore interface {
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	ReadCSV(ctx context.Context, key string, sep rune) (*formats.Table, error)
	WriteTable(ctx context.Context, t *formats.Table, key, format string, opts ...formats.Option) error
}

// Option configures an ETL.
type Option func(*ETL)

// WithClock replaces time.Now, for the date list, the report key and the
// meta timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *ETL) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the orchestrator's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *ETL) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics records the run in m.
func WithMetrics(m *metrics.Job) Option {
	return func(e *ETL) { e.metrics = m }
}

// WithTracer wraps the stages in spans from t.
func WithTracer(t *observability.Tracer) Option {
	return func(e *ETL) {
		if t != nil {
			e.tracer = t
		}
	}
}

// ETL runs reports from the source bucket into the target bucket.
type ETL struct {
	src     ObjectStore
	trg     ObjectStore
	metaKey string
	srcArgs SourceConfig
	trgArgs TargetConfig

	keyDate *strftime.Strftime
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Job
	tracer  *observability.Tracer
}

// NewETL builds an orchestrator. It performs no I/O; the meta file is read
// when a report runs.
func NewETL(src, trg ObjectStore, metaKey string, srcArgs SourceConfig, trgArgs TargetConfig, opts ...Option) (*ETL, error) {
	if src == nil || trg == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "source and target stores are required")
	}
	if strings.TrimSpace(metaKey) == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "meta key is required")
	}
	keyDate, err := strftime.New(trgArgs.KeyDateFormat)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid trg_key_date_format").
			WithDetail("value", trgArgs.KeyDateFormat)
	}

	e := &ETL{
		src:     src,
		trg:     trg,
		metaKey: metaKey,
		srcArgs: srcArgs,
		trgArgs: trgArgs,
		keyDate: keyDate,
		now:     time.Now,
		logger:  zap.NewNop(),
		tracer:  observability.NoopTracer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "etl"))
	return e, nil
}

// Reports lists the report names Run accepts.
func Reports() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var registry = map[string]func(*ETL, context.Context) error{
	Report1: (*ETL).RunReport1,
}

// Run runs the named report once.
func (e *ETL) Run(ctx context.Context, reportID string) error {
	run, ok := registry[reportID]
	if !ok {
		return errors.Newf(errors.ErrorTypeValidation, "unknown report %q", reportID).
			WithDetail("reports", Reports())
	}
	return run(e, ctx)
}

// stage runs fn as a named, timed and traced step of report.
func (e *ETL) stage(ctx context.Context, report, name string, fn func(context.Context) error) error {
	timer := metrics.NewTimer(name)
	err := e.tracer.Trace(ctx, report+"."+name, fn, attribute.String("report", report))
	e.metrics.ObserveStage(timer.Name(), timer.Stop())
	return err
}

func reportFailure(err error, report string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, errors.ErrorTypeReportExecution, report+" failed").
		WithDetail("report", report)
}
