package config

import (
	"strings"
	"time"

	"github.com/ajitpratap0/xetra/pkg/errors"
)

// S3Config holds the object-storage settings shared by the source and target
// connectors. Credentials are shared; each side has its own endpoint and
// bucket.
type S3Config struct {
	// AccessKey and SecretKey form the static credential pair
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`

	// Source side
	SrcEndpointURL string `mapstructure:"src_endpoint_url" yaml:"src_endpoint_url"`
	SrcBucket      string `mapstructure:"src_bucket" yaml:"src_bucket"`

	// Target side
	TrgEndpointURL string `mapstructure:"trg_endpoint_url" yaml:"trg_endpoint_url"`
	TrgBucket      string `mapstructure:"trg_bucket" yaml:"trg_bucket"`

	// Region is passed to the request signer
	Region string `mapstructure:"region" yaml:"region"`
	// MaxAttempts bounds the SDK retryer, including the first attempt
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
	// CSVSeparator is the field delimiter of CSV objects
	CSVSeparator string `mapstructure:"csv_separator" yaml:"csv_separator"`
	// UsePathStyle selects path-style bucket addressing
	UsePathStyle bool `mapstructure:"use_path_style" yaml:"use_path_style"`
}

// MetaConfig locates the meta file in the target bucket.
type MetaConfig struct {
	MetaKey string `mapstructure:"meta_key" yaml:"meta_key"`
}

// MetricsConfig controls the job's Prometheus metrics.
type MetricsConfig struct {
	// PushgatewayURL enables pushing the run's metrics when set
	PushgatewayURL string `mapstructure:"pushgateway_url" yaml:"pushgateway_url"`
	// JobName is the Pushgateway job label
	JobName string `mapstructure:"job_name" yaml:"job_name"`
}

// TracingConfig controls OpenTelemetry spans around the job stages.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled" yaml:"enabled"`
	Exporter     string  `mapstructure:"exporter" yaml:"exporter"`
	ServiceName  string  `mapstructure:"service_name" yaml:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate" yaml:"sampling_rate"`
}

// JobConfig holds run-level settings.
type JobConfig struct {
	// Timeout cancels the run when positive
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// Report names the report to run
	Report string `mapstructure:"report" yaml:"report"`
}

// NewS3Config returns an S3Config with defaults for the optional keys.
func NewS3Config() *S3Config {
	return &S3Config{
		Region:       "us-east-1",
		MaxAttempts:  3,
		CSVSeparator: ",",
		UsePathStyle: true,
	}
}

// Validate checks the optional settings; the required ones are enforced by
// the decoder and by the connector factory.
func (c *S3Config) Validate() error {
	if c.MaxAttempts < 1 {
		return errors.New(errors.ErrorTypeValidation, "s3.max_attempts must be at least 1")
	}
	if len([]rune(c.CSVSeparator)) != 1 {
		return errors.Newf(errors.ErrorTypeValidation, "s3.csv_separator must be a single character, got %q", c.CSVSeparator)
	}
	return nil
}

// Separator returns the CSV delimiter as a rune.
func (c *S3Config) Separator() rune {
	r := []rune(c.CSVSeparator)
	if len(r) == 0 {
		return ','
	}
	return r[0]
}

// S3 decodes the s3 section. A missing section, missing key or unknown key
// is reported as ErrorTypeConnectorConstruction, with the decoder's
// missing/unrecognized error as its cause.
func (d *Document) S3() (*S3Config, error) {
	fields, ok := d.Section(SectionS3)
	if !ok {
		return nil, errors.New(errors.ErrorTypeConnectorConstruction, "configuration has no s3 section")
	}

	cfg := NewS3Config()
	if err := DecodeWithOptional(SectionS3, fields, cfg,
		"region", "max_attempts", "csv_separator", "use_path_style"); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectorConstruction, "invalid s3 section")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectorConstruction, "invalid s3 section")
	}
	return cfg, nil
}

// Meta decodes the meta section.
func (d *Document) Meta() (*MetaConfig, error) {
	fields, ok := d.Section(SectionMeta)
	if !ok {
		return nil, errors.New(errors.ErrorTypeMissingParameter, "configuration has no meta section")
	}
	cfg := &MetaConfig{}
	if err := DecodeStrict(SectionMeta, fields, cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.MetaKey) == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "meta.meta_key must not be empty")
	}
	return cfg, nil
}

// Metrics decodes the optional metrics section.
func (d *Document) Metrics() (*MetricsConfig, error) {
	cfg := &MetricsConfig{JobName: "xetra"}
	fields, ok := d.Section(SectionMetrics)
	if !ok {
		return cfg, nil
	}
	if err := DecodeWithOptional(SectionMetrics, fields, cfg, "pushgateway_url", "job_name"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Tracing decodes the optional tracing section.
func (d *Document) Tracing() (*TracingConfig, error) {
	cfg := &TracingConfig{Exporter: "stdout", ServiceName: "xetra", SamplingRate: 1.0}
	fields, ok := d.Section(SectionTracing)
	if !ok {
		return cfg, nil
	}
	if err := DecodeWithOptional(SectionTracing, fields, cfg,
		"enabled", "exporter", "service_name", "sampling_rate"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Job decodes the optional job section.
func (d *Document) Job() (*JobConfig, error) {
	cfg := &JobConfig{}
	fields, ok := d.Section(SectionJob)
	if !ok {
		return cfg, nil
	}
	if err := DecodeWithOptional(SectionJob, fields, cfg, "timeout", "report"); err != nil {
		return nil, err
	}
	if cfg.Timeout < 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "job.timeout cannot be negative")
	}
	return cfg, nil
}
