// Package job runs one configured report from a configuration file.
//
// The run goes through a fixed sequence of states, each logged as it is
// entered:
//
//	initialized -> connectors_built -> params_built -> orchestrator_constructed
//	            -> running -> completed | failed
//
// Nothing is retried or recovered here; the first failure ends the run and
// is returned to the caller.
package job

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/xetra/pkg/config"
	s3conn "github.com/ajitpratap0/xetra/pkg/connector/s3"
	"github.com/ajitpratap0/xetra/pkg/errors"
	"github.com/ajitpratap0/xetra/pkg/logger"
	"github.com/ajitpratap0/xetra/pkg/metrics"
	"github.com/ajitpratap0/xetra/pkg/observability"
	"github.com/ajitpratap0/xetra/pkg/report"
)

// LoggerName is the name of the job's logger in the loggers section.
const LoggerName = "xetra"

// Log messages that bracket the report run.
const (
	MsgStarted  = "ETL job started."
	MsgFinished = "ETL job finished."
)

// State is a stage of a run.
type State string

// Run states in order.
const (
	StateInitialized             State = "initialized"
	StateConnectorsBuilt         State = "connectors_built"
	StateParamsBuilt             State = "params_built"
	StateOrchestratorConstructed State = "orchestrator_constructed"
	StateRunning                 State = "running"
	StateCompleted               State = "completed"
	StateFailed                  State = "failed"
)

// Store is a bucket connector as the runner sees it.
type Store interface {
	report.ObjectStore
	Close() error
}

// Orchestrator runs a named report.
type Orchestrator interface {
	Run(ctx context.Context, reportID string) error
}

// ConnectorFactory builds a bucket connector.
type ConnectorFactory func(params s3conn.Params, opts ...s3conn.Option) (Store, error)

// OrchestratorFactory builds the ETL orchestrator.
type OrchestratorFactory func(src, trg report.ObjectStore, metaKey string,
	srcArgs report.SourceConfig, trgArgs report.TargetConfig, opts ...report.Option) (Orchestrator, error)

// DefaultConnectorFactory builds S3 bucket connectors.
func DefaultConnectorFactory(params s3conn.Params, opts ...s3conn.Option) (Store, error) {
	c, err := s3conn.NewBucketConnector(params, opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DefaultOrchestratorFactory builds a report.ETL.
func DefaultOrchestratorFactory(src, trg report.ObjectStore, metaKey string,
	srcArgs report.SourceConfig, trgArgs report.TargetConfig, opts ...report.Option) (Orchestrator, error) {
	e, err := report.NewETL(src, trg, metaKey, srcArgs, trgArgs, opts...)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Summary describes a finished run.
type Summary struct {
	RunID        string        `json:"run_id"`
	Report       string        `json:"report"`
	ConfigPath   string        `json:"config_path"`
	State        State         `json:"state"`
	FailedIn     State         `json:"failed_in,omitempty"`
	SourceBucket string        `json:"source_bucket,omitempty"`
	TargetBucket string        `json:"target_bucket,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	Duration     time.Duration `json:"duration_ns"`
	Error        string        `json:"error,omitempty"`
	ErrorType    string        `json:"error_type,omitempty"`
	Retryable    bool          `json:"retryable,omitempty"`
}

// Option configures a Runner.
type Option func(*Runner)

// WithConnectorFactory replaces the bucket connector constructor.
func WithConnectorFactory(f ConnectorFactory) Option {
	return func(r *Runner) {
		if f != nil {
			r.newConnector = f
		}
	}
}

// WithOrchestratorFactory replaces the orchestrator constructor.
func WithOrchestratorFactory(f OrchestratorFactory) Option {
	return func(r *Runner) {
		if f != nil {
			r.newOrchestrator = f
		}
	}
}

// WithReport selects the report, overriding job.report.
func WithReport(id string) Option {
	return func(r *Runner) { r.reportID = id }
}

// WithZapOptions are applied to the logger built from the logging section.
func WithZapOptions(opts ...zap.Option) Option {
	return func(r *Runner) { r.zapOpts = append(r.zapOpts, opts...) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// Runner executes a job from a configuration file.
type Runner struct {
	newConnector    ConnectorFactory
	newOrchestrator OrchestratorFactory
	reportID        string
	zapOpts         []zap.Option
	now             func() time.Time
}

// NewRunner creates a Runner with S3 connectors and the report.ETL
// orchestrator unless replaced by opts.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		newConnector:    DefaultConnectorFactory,
		newOrchestrator: DefaultOrchestratorFactory,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// run carries the state of a single Run call.
type run struct {
	*Runner
	summary *Summary
	log     *zap.Logger
	metrics *metrics.Job
	tracer  *observability.Tracer
	closers []func() error
}

// Run loads configPath and runs the configured report once. The returned
// summary is never nil; its State tells how far the run got.
func (r *Runner) Run(ctx context.Context, configPath string) (*Summary, error) {
	rn := &run{
		Runner: r,
		summary: &Summary{
			RunID:      uuid.New().String(),
			ConfigPath: configPath,
			State:      StateInitialized,
			StartedAt:  r.now(),
		},
		log: zap.NewNop(),
	}

	err := rn.execute(ctx)
	rn.finish(err)
	return rn.summary, err
}

func (rn *run) execute(ctx context.Context) error {
	doc, err := config.Load(rn.summary.ConfigPath)
	if err != nil {
		return err
	}

	if err := rn.initLogging(doc); err != nil {
		return err
	}
	rn.transition(StateInitialized)

	jobCfg, err := doc.Job()
	if err != nil {
		return err
	}
	rn.summary.Report = firstNonEmpty(rn.reportID, jobCfg.Report, report.Report1)
	rn.log = rn.log.With(zap.String("report", rn.summary.Report))
	ctx = context.WithValue(ctx, logger.ReportKey, rn.summary.Report)

	if jobCfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, jobCfg.Timeout)
		defer cancel()
	}

	if err := rn.initObservability(ctx, doc); err != nil {
		return err
	}

	src, trg, err := rn.buildConnectors(doc)
	if err != nil {
		return err
	}
	rn.transition(StateConnectorsBuilt)

	srcArgs, trgArgs, metaCfg, err := buildParams(doc)
	if err != nil {
		return err
	}
	rn.transition(StateParamsBuilt)

	rn.log.Info(MsgStarted)

	etl, err := rn.newOrchestrator(src, trg, metaCfg.MetaKey, srcArgs, trgArgs,
		report.WithLogger(rn.log),
		report.WithMetrics(rn.metrics),
		report.WithTracer(rn.tracer),
		report.WithClock(rn.now),
	)
	if err != nil {
		return err
	}
	rn.transition(StateOrchestratorConstructed)

	rn.transition(StateRunning)
	if err := etl.Run(ctx, rn.summary.Report); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errors.Wrap(err, errors.ErrorTypeTimeout, "job exceeded its timeout").
				WithDetail("timeout", jobCfg.Timeout.String())
		}
		return err
	}

	rn.log.Info(MsgFinished)
	return nil
}

func (rn *run) initLogging(doc *config.Document) error {
	raw, ok := doc.Tree()[config.SectionLogging]
	if !ok {
		return errors.New(errors.ErrorTypeLoggingConfig, "configuration has no logging section")
	}
	section, ok := raw.(map[string]interface{})
	if !ok {
		return errors.Newf(errors.ErrorTypeLoggingConfig, "logging section must be a mapping, got %T", raw)
	}

	cfg, err := logger.ParseConfig(section)
	if err != nil {
		return err
	}
	base, closeLogs, err := logger.Init(cfg)
	if err != nil {
		return err
	}
	base = base.WithOptions(rn.zapOpts...)
	rn.closers = append(rn.closers, func() error {
		_ = base.Sync()
		closeLogs()
		return nil
	})

	ctx := context.WithValue(context.Background(), logger.RunIDKey, rn.summary.RunID)
	rn.log = logger.WithContext(ctx, cfg.Named(base, LoggerName))
	return nil
}

func (rn *run) initObservability(ctx context.Context, doc *config.Document) error {
	metricsCfg, err := doc.Metrics()
	if err != nil {
		return err
	}
	rn.metrics = metrics.NewJob(rn.summary.Report)
	if metricsCfg.PushgatewayURL != "" {
		rn.closers = append(rn.closers, func() error {
			pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return rn.metrics.Push(pushCtx, metricsCfg.PushgatewayURL, metricsCfg.JobName)
		})
	}

	tracingCfg, err := doc.Tracing()
	if err != nil {
		return err
	}
	rn.tracer, err = observability.NewTracer(ctx, observability.TracingConfig{
		Enabled:        tracingCfg.Enabled,
		ServiceName:    tracingCfg.ServiceName,
		ServiceVersion: Version,
		SamplingRate:   tracingCfg.SamplingRate,
		ExporterType:   tracingCfg.Exporter,
	})
	if err != nil {
		return err
	}
	rn.closers = append(rn.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return rn.tracer.Shutdown(shutdownCtx)
	})
	return nil
}

func (rn *run) buildConnectors(doc *config.Document) (Store, Store, error) {
	s3cfg, err := doc.S3()
	if err != nil {
		return nil, nil, err
	}

	opts := []s3conn.Option{
		s3conn.WithRegion(s3cfg.Region),
		s3conn.WithMaxAttempts(s3cfg.MaxAttempts),
		s3conn.WithPathStyle(s3cfg.UsePathStyle),
		s3conn.WithSeparator(s3cfg.Separator()),
		s3conn.WithLogger(rn.log),
	}

	src, err := rn.newConnector(s3conn.Params{
		AccessKey:   s3cfg.AccessKey,
		SecretKey:   s3cfg.SecretKey,
		EndpointURL: s3cfg.SrcEndpointURL,
		Bucket:      s3cfg.SrcBucket,
	}, opts...)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeConnectorConstruction, "failed to build source connector")
	}
	rn.closers = append(rn.closers, src.Close)

	trg, err := rn.newConnector(s3conn.Params{
		AccessKey:   s3cfg.AccessKey,
		SecretKey:   s3cfg.SecretKey,
		EndpointURL: s3cfg.TrgEndpointURL,
		Bucket:      s3cfg.TrgBucket,
	}, opts...)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeConnectorConstruction, "failed to build target connector")
	}
	rn.closers = append(rn.closers, trg.Close)

	rn.summary.SourceBucket = s3cfg.SrcBucket
	rn.summary.TargetBucket = s3cfg.TrgBucket
	return src, trg, nil
}

func buildParams(doc *config.Document) (report.SourceConfig, report.TargetConfig, *config.MetaConfig, error) {
	var (
		srcArgs report.SourceConfig
		trgArgs report.TargetConfig
	)

	fields, ok := doc.Section(config.SectionSource)
	if !ok {
		return srcArgs, trgArgs, nil, errors.New(errors.ErrorTypeMissingParameter, "configuration has no source section")
	}
	srcArgs, err := report.BuildSourceConfig(fields)
	if err != nil {
		return srcArgs, trgArgs, nil, err
	}

	fields, ok = doc.Section(config.SectionTarget)
	if !ok {
		return srcArgs, trgArgs, nil, errors.New(errors.ErrorTypeMissingParameter, "configuration has no target section")
	}
	trgArgs, err = report.BuildTargetConfig(fields)
	if err != nil {
		return srcArgs, trgArgs, nil, err
	}

	metaCfg, err := doc.Meta()
	if err != nil {
		return srcArgs, trgArgs, nil, err
	}
	return srcArgs, trgArgs, metaCfg, nil
}

func (rn *run) transition(s State) {
	rn.summary.State = s
	rn.log.Debug("job state changed", zap.String("state", string(s)))
}

// finish records the outcome and releases everything the run opened, in
// reverse order.
func (rn *run) finish(err error) {
	rn.summary.FinishedAt = rn.now()
	rn.summary.Duration = rn.summary.FinishedAt.Sub(rn.summary.StartedAt)

	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusFailure
		rn.summary.Error = err.Error()
		rn.summary.ErrorType = string(errors.TypeOf(err))
		rn.summary.Retryable = errors.IsRetryable(err)
		rn.summary.FailedIn = rn.summary.State
		rn.summary.State = StateFailed
		rn.log.Error("ETL job failed",
			zap.String("error_type", rn.summary.ErrorType),
			zap.Bool("retryable", rn.summary.Retryable),
			zap.Error(err))
	} else {
		rn.summary.State = StateCompleted
	}
	rn.log.Debug("job state changed", zap.String("state", string(rn.summary.State)))
	rn.metrics.RunFinished(status, rn.summary.FinishedAt)

	for i := len(rn.closers) - 1; i >= 0; i-- {
		if cerr := rn.closers[i](); cerr != nil {
			rn.log.Warn("failed to release run resource", zap.Error(cerr))
		}
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
