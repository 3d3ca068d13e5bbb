// Package config loads the job's YAML configuration.
//
// A configuration file is a mapping of mappings with the top-level sections
// logging, s3, source, target and meta, plus the optional metrics, tracing
// and job sections:
//
//	logging:
//	  version: 1
//	  root:
//	    level: INFO
//	s3:
//	  access_key: ${AWS_ACCESS_KEY_ID}
//	  secret_key: ${AWS_SECRET_ACCESS_KEY}
//	  src_endpoint_url: https://s3.amazonaws.com
//	  src_bucket: deutsche-boerse-xetra-pds
//	  trg_endpoint_url: https://s3.amazonaws.com
//	  trg_bucket: xetra-reports
//	meta:
//	  meta_key: meta/report1/xetra_report1_meta_file.csv
//
// # Loading
//
// Load reads the file, substitutes ${VAR_NAME} references from the
// environment and parses the result with gopkg.in/yaml.v3. The returned
// Document keeps the parsed tree untouched (Tree) and layers viper on top of
// it so XETRA_<SECTION>_<KEY> environment variables override keys already in
// the file (Section, S3, Meta, ...).
//
// # Keyword expansion
//
// DecodeStrict is the typed replacement for building a record from a dynamic
// mapping: the mapping's keys must match the record's mapstructure tags
// exactly, case included. Unknown keys fail with
// ErrorTypeUnrecognizedParameter, absent keys with ErrorTypeMissingParameter,
// and nothing is constructed in either case.
package config
