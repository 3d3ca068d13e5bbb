// Package xetra builds daily reports from the Deutsche Boerse Xetra public
// data set.
//
// A run is configured by one YAML file and does one thing: it reads the
// Xetra source CSV files that have not been processed yet from a source
// bucket, aggregates them per ISIN and trading day, writes the report to a
// target bucket and records the processed dates in a meta file next to it.
//
// # Quick Start
//
//	xetra run configs/xetra_report1_config.yml
//
// # Layout
//
//   - cmd/xetra: the command line entry point
//   - internal/job: the run sequence (load, log, connect, build, run)
//   - pkg/config: YAML loading and strict section decoding
//   - pkg/logger: zap logger from the logging section
//   - pkg/connector/s3: S3 bucket connector
//   - pkg/report: the ETL orchestrator and report 1
//   - pkg/meta: the meta file of processed dates
//   - pkg/formats: in-memory tables and their CSV and parquet encodings
//   - pkg/errors: typed errors shared by every stage
//   - pkg/metrics, pkg/observability: Prometheus metrics and OpenTelemetry spans
//
// # Report 1
//
// For every ISIN and trading day the report holds the opening and closing
// price, the minimum and maximum price, the traded volume and the change of
// the opening price against the previous day's closing price in percent.
package xetra
