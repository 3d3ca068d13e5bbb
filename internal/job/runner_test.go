package job

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	s3conn "github.com/ajitpratap0/xetra/pkg/connector/s3"
	"github.com/ajitpratap0/xetra/pkg/connector/s3/s3test"
	"github.com/ajitpratap0/xetra/pkg/errors"
	"github.com/ajitpratap0/xetra/pkg/report"
)

const testMetaKey = "meta/report1/xetra_report1_meta_file.csv"

const loggingSection = `logging:
  version: 1
  formatters:
    xetra:
      format: "Xetra Transformer - %(asctime)s - %(levelname)s - %(message)s"
  handlers:
    file:
      class: logging.FileHandler
      formatter: xetra
      filename: ${XETRA_TEST_LOG}
      level: DEBUG
  root:
    level: INFO
    handlers: [file]
`

const s3Section = `s3:
  access_key: key
  secret_key: secret
  src_endpoint_url: http://src
  src_bucket: srcbkt
  trg_endpoint_url: http://trg
  trg_bucket: trgbkt
`

const reportSections = `source:
  src_first_extract_date: "2021-04-22"
  src_columns: [ISIN, Mnemonic, Date, Time, StartPrice, EndPrice, MinPrice, MaxPrice, TradedVolume]
  src_col_date: Date
  src_col_isin: ISIN
  src_col_time: Time
  src_col_start_price: StartPrice
  src_col_min_price: MinPrice
  src_col_max_price: MaxPrice
  src_col_traded_vol: TradedVolume
target:
  trg_key: report1/xetra_daily_report1_
  trg_key_date_format: "%Y%m%d_%H%M%S"
  trg_format: csv
  trg_col_isin: isin
  trg_col_date: date
  trg_col_op_price: opening_price_eur
  trg_col_clos_price: closing_price_eur
  trg_col_min_price: minimum_price_eur
  trg_col_max_price: maximum_price_eur
  trg_col_dail_trad_vol: daily_traded_volume
  trg_col_ch_prev_clos: change_prev_closing_%
meta:
  meta_key: meta/report1/xetra_report1_meta_file.csv
`

var runTime = time.Date(2021, 4, 23, 10, 0, 0, 0, time.UTC)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XETRA_TEST_LOG", filepath.Join(dir, "xetra.log"))
	path := filepath.Join(dir, "xetra_report1_config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

type fakeStore struct {
	report.ObjectStore
	params s3conn.Params
	closed int
}

func (s *fakeStore) Close() error {
	s.closed++
	return nil
}

type fakeOrchestrator struct {
	mu       sync.Mutex
	metaKey  string
	srcArgs  report.SourceConfig
	trgArgs  report.TargetConfig
	calls    []string
	logsSeen int
	logs     *observer.ObservedLogs
	err      error
	block    bool
}

func (o *fakeOrchestrator) Run(ctx context.Context, reportID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, reportID)
	o.logsSeen = o.logs.FilterMessage(MsgStarted).Len()
	if o.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return o.err
}

type harness struct {
	stores []*fakeStore
	orch   *fakeOrchestrator
	logs   *observer.ObservedLogs
	runner *Runner
}

func newHarness(opts ...Option) *harness {
	core, logs := observer.New(zapcore.DebugLevel)
	h := &harness{logs: logs, orch: &fakeOrchestrator{logs: logs}}

	connectors := func(p s3conn.Params, _ ...s3conn.Option) (Store, error) {
		s := &fakeStore{params: p}
		h.stores = append(h.stores, s)
		return s, nil
	}
	orchestrators := func(_, _ report.ObjectStore, metaKey string, srcArgs report.SourceConfig,
		trgArgs report.TargetConfig, _ ...report.Option) (Orchestrator, error) {
		h.orch.metaKey, h.orch.srcArgs, h.orch.trgArgs = metaKey, srcArgs, trgArgs
		return h.orch, nil
	}

	h.runner = NewRunner(append([]Option{
		WithConnectorFactory(connectors),
		WithOrchestratorFactory(orchestrators),
		WithZapOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core { return zapcore.NewTee(c, core) })),
		WithClock(func() time.Time { return runTime }),
	}, opts...)...)
	return h
}

func (h *harness) messages() []string {
	var out []string
	for _, e := range h.logs.All() {
		out = append(out, e.Message)
	}
	return out
}

func TestRun_EndToEnd(t *testing.T) {
	h := newHarness()
	path := writeConfig(t, loggingSection+s3Section+reportSections)

	summary, err := h.runner.Run(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, h.stores, 2)
	assert.Equal(t, s3conn.Params{AccessKey: "key", SecretKey: "secret", EndpointURL: "http://src", Bucket: "srcbkt"}, h.stores[0].params)
	assert.Equal(t, s3conn.Params{AccessKey: "key", SecretKey: "secret", EndpointURL: "http://trg", Bucket: "trgbkt"}, h.stores[1].params)
	for _, s := range h.stores {
		assert.Equal(t, 1, s.closed, "connectors are closed once")
	}

	assert.Equal(t, []string{report.Report1}, h.orch.calls, "report 1 runs exactly once")
	assert.Equal(t, testMetaKey, h.orch.metaKey)
	assert.Equal(t, "2021-04-22", h.orch.srcArgs.FirstExtractDate)
	assert.Equal(t, "change_prev_closing_%", h.orch.trgArgs.ColChPrevClos)
	assert.Equal(t, 1, h.orch.logsSeen, "started is logged before the report runs")

	msgs := h.messages()
	started := indexOf(msgs, MsgStarted)
	finished := indexOf(msgs, MsgFinished)
	require.GreaterOrEqual(t, started, 0)
	require.Greater(t, finished, started)
	assert.Equal(t, 1, h.logs.FilterMessage(MsgFinished).Len())

	assert.Equal(t, StateCompleted, summary.State)
	assert.Equal(t, report.Report1, summary.Report)
	assert.Equal(t, "srcbkt", summary.SourceBucket)
	assert.Equal(t, "trgbkt", summary.TargetBucket)
	assert.NotEmpty(t, summary.RunID)
	assert.Empty(t, summary.Error)

	logFile, err := os.ReadFile(os.Getenv("XETRA_TEST_LOG"))
	require.NoError(t, err)
	assert.Contains(t, string(logFile), MsgStarted)
	assert.Contains(t, string(logFile), MsgFinished)
	assert.Zero(t, openHandles(t, os.Getenv("XETRA_TEST_LOG")), "log file is closed after the run")
}

// openHandles counts this process's descriptors that point at path.
func openHandles(t *testing.T, path string) int {
	t.Helper()
	fds, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skip("descriptor table not available")
	}
	n := 0
	for _, fd := range fds {
		target, err := os.Readlink(filepath.Join("/proc/self/fd", fd.Name()))
		if err == nil && target == path {
			n++
		}
	}
	return n
}

func TestRun_MissingS3Section(t *testing.T) {
	h := newHarness()
	path := writeConfig(t, loggingSection+reportSections)

	summary, err := h.runner.Run(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnectorConstruction))
	assert.Empty(t, h.stores, "no connector is built")
	assert.Empty(t, h.orch.calls)
	assert.Equal(t, StateFailed, summary.State)
	assert.Equal(t, StateInitialized, summary.FailedIn)
	assert.Equal(t, string(errors.ErrorTypeConnectorConstruction), summary.ErrorType)
	assert.Equal(t, 0, h.logs.FilterMessage(MsgStarted).Len())
}

func TestRun_ParameterErrors(t *testing.T) {
	tests := []struct {
		name    string
		edit    func(string) string
		errType errors.ErrorType
	}{
		{
			name:    "unknown source key",
			edit:    func(s string) string { return strings.Replace(s, "  src_col_date: Date\n", "  src_col_date: Date\n  src_col_currency: Currency\n", 1) },
			errType: errors.ErrorTypeUnrecognizedParameter,
		},
		{
			name:    "source key in wrong case",
			edit:    func(s string) string { return strings.Replace(s, "  src_col_date: Date\n", "  Src_Col_Date: Date\n", 1) },
			errType: errors.ErrorTypeUnrecognizedParameter,
		},
		{
			name:    "meta key in upper case",
			edit:    func(s string) string { return strings.Replace(s, "  meta_key:", "  META_KEY:", 1) },
			errType: errors.ErrorTypeUnrecognizedParameter,
		},
		{
			name:    "missing target key",
			edit:    func(s string) string { return strings.Replace(s, "  trg_col_isin: isin\n", "", 1) },
			errType: errors.ErrorTypeMissingParameter,
		},
		{
			name:    "missing meta key",
			edit:    func(s string) string { return strings.Replace(s, "meta_key", "metakey", 1) },
			errType: errors.ErrorTypeUnrecognizedParameter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			path := writeConfig(t, loggingSection+s3Section+tt.edit(reportSections))

			summary, err := h.runner.Run(context.Background(), path)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.errType), "got %v", err)
			assert.Empty(t, h.orch.calls)
			assert.Equal(t, StateConnectorsBuilt, summary.FailedIn)
			require.Len(t, h.stores, 2)
			assert.Equal(t, 1, h.stores[0].closed)
			assert.Equal(t, 1, h.stores[1].closed)
		})
	}
}

func TestRun_ConfigErrors(t *testing.T) {
	h := newHarness()

	_, err := h.runner.Run(context.Background(), filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfigLoad))

	path := writeConfig(t, s3Section+reportSections)
	_, err = h.runner.Run(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeLoggingConfig))
	assert.Empty(t, h.stores)
}

func TestRun_ReportFailure(t *testing.T) {
	h := newHarness()
	h.orch.err = errors.Wrap(
		errors.New(errors.ErrorTypeWrongMetaFile, "meta file columns do not match"),
		errors.ErrorTypeReportExecution, "report1 failed")
	path := writeConfig(t, loggingSection+s3Section+reportSections)

	summary, err := h.runner.Run(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeWrongMetaFile))
	assert.Equal(t, StateFailed, summary.State)
	assert.Equal(t, StateRunning, summary.FailedIn)
	assert.Equal(t, 1, h.logs.FilterMessage(MsgStarted).Len())
	assert.Equal(t, 0, h.logs.FilterMessage(MsgFinished).Len())
	assert.Equal(t, 1, h.logs.FilterMessage("ETL job failed").Len())
	assert.False(t, summary.Retryable)
}

func TestRun_Timeout(t *testing.T) {
	h := newHarness()
	h.orch.block = true
	path := writeConfig(t, loggingSection+s3Section+reportSections+"job:\n  timeout: 50ms\n")

	summary, err := h.runner.Run(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout), "got %v", err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, string(errors.ErrorTypeTimeout), summary.ErrorType)
	assert.True(t, summary.Retryable)
	assert.Equal(t, StateRunning, summary.FailedIn)

	failed := h.logs.FilterMessage("ETL job failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, true, failed[0].ContextMap()["retryable"])
}

func TestRun_ReportSelection(t *testing.T) {
	h := newHarness(WithReport("report1"))
	path := writeConfig(t, loggingSection+s3Section+reportSections+"job:\n  report: report2\n")

	summary, err := h.runner.Run(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "report1", summary.Report, "the option wins over job.report")

	h = newHarness()
	_, err = h.runner.Run(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"report2"}, h.orch.calls)
}

// TestRun_S3Stack runs the real orchestrator against in-memory buckets. A
// second run is not a no-op: it finds the meta file written by the first
// run, writes no report and rewrites the meta file. Running the job twice is
// not equivalent to running it once.
func TestRun_S3Stack(t *testing.T) {
	buckets := map[string]*s3test.FakeAPI{
		"srcbkt": s3test.NewFakeAPI(),
		"trgbkt": s3test.NewFakeAPI(),
	}
	buckets["srcbkt"].Put("2021-04-22/2021-04-22_BINS_XETR08.csv", []byte(
		"ISIN,Mnemonic,Date,Time,StartPrice,EndPrice,MinPrice,MaxPrice,TradedVolume\n"+
			"DE0005140008,DBK,2021-04-22,08:00,8.90,8.92,8.85,8.95,1000\n"))

	var endpoints []string
	connectors := func(p s3conn.Params, opts ...s3conn.Option) (Store, error) {
		endpoints = append(endpoints, p.EndpointURL)
		return DefaultConnectorFactory(p, append(opts, s3conn.WithClient(buckets[p.Bucket]))...)
	}
	runner := NewRunner(
		WithConnectorFactory(connectors),
		WithClock(func() time.Time { return runTime }),
	)
	path := writeConfig(t, loggingSection+s3Section+reportSections)

	_, err := runner.Run(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://src", "http://trg"}, endpoints)

	trg := buckets["trgbkt"]
	body, ok := trg.Object("report1/xetra_daily_report1_20210423_100000.csv")
	require.True(t, ok)
	assert.Contains(t, string(body), "DE0005140008,2021-04-22,8.9,8.9,8.85,8.95,1000,")
	firstRun := trg.Puts()

	_, err = runner.Run(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, firstRun, trg.Puts(), "an up-to-date rerun writes nothing")
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
