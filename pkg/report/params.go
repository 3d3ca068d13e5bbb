package report

import (
	"time"

	"github.com/ajitpratap0/xetra/pkg/config"
	"github.com/ajitpratap0/xetra/pkg/errors"
	"github.com/ajitpratap0/xetra/pkg/formats"
	"github.com/ajitpratap0/xetra/pkg/meta"
)

// SourceConfig describes the source files: the first date to extract and the
// names of the source columns the report reads.
type SourceConfig struct {
	FirstExtractDate string   `mapstructure:"src_first_extract_date" yaml:"src_first_extract_date"`
	Columns          []string `mapstructure:"src_columns" yaml:"src_columns"`
	ColDate          string   `mapstructure:"src_col_date" yaml:"src_col_date"`
	ColISIN          string   `mapstructure:"src_col_isin" yaml:"src_col_isin"`
	ColTime          string   `mapstructure:"src_col_time" yaml:"src_col_time"`
	ColStartPrice    string   `mapstructure:"src_col_start_price" yaml:"src_col_start_price"`
	ColMinPrice      string   `mapstructure:"src_col_min_price" yaml:"src_col_min_price"`
	ColMaxPrice      string   `mapstructure:"src_col_max_price" yaml:"src_col_max_price"`
	ColTradedVol     string   `mapstructure:"src_col_traded_vol" yaml:"src_col_traded_vol"`
}

// TargetConfig describes the report object: its key, format and column
// names.
type TargetConfig struct {
	Key            string `mapstructure:"trg_key" yaml:"trg_key"`
	KeyDateFormat  string `mapstructure:"trg_key_date_format" yaml:"trg_key_date_format"`
	Format         string `mapstructure:"trg_format" yaml:"trg_format"`
	ColISIN        string `mapstructure:"trg_col_isin" yaml:"trg_col_isin"`
	ColDate        string `mapstructure:"trg_col_date" yaml:"trg_col_date"`
	ColOpPrice     string `mapstructure:"trg_col_op_price" yaml:"trg_col_op_price"`
	ColClosPrice   string `mapstructure:"trg_col_clos_price" yaml:"trg_col_clos_price"`
	ColMinPrice    string `mapstructure:"trg_col_min_price" yaml:"trg_col_min_price"`
	ColMaxPrice    string `mapstructure:"trg_col_max_price" yaml:"trg_col_max_price"`
	ColDailTradVol string `mapstructure:"trg_col_dail_trad_vol" yaml:"trg_col_dail_trad_vol"`
	ColChPrevClos  string `mapstructure:"trg_col_ch_prev_clos" yaml:"trg_col_ch_prev_clos"`
}

// BuildSourceConfig builds a SourceConfig from the source section. Every key
// of the section must be a SourceConfig field and every field must be
// present.
func BuildSourceConfig(fields map[string]interface{}) (SourceConfig, error) {
	var cfg SourceConfig
	if err := config.DecodeStrict(config.SectionSource, fields, &cfg); err != nil {
		return SourceConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return SourceConfig{}, err
	}
	return cfg, nil
}

// BuildTargetConfig builds a TargetConfig from the target section with the
// same rules as BuildSourceConfig.
func BuildTargetConfig(fields map[string]interface{}) (TargetConfig, error) {
	var cfg TargetConfig
	if err := config.DecodeStrict(config.SectionTarget, fields, &cfg); err != nil {
		return TargetConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return TargetConfig{}, err
	}
	return cfg, nil
}

// Validate checks the first extract date and that the columns the report
// reads are among the selected source columns.
func (c SourceConfig) Validate() error {
	if _, err := time.Parse(meta.DateFormat, c.FirstExtractDate); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "src_first_extract_date must be a YYYY-MM-DD date").
			WithDetail("value", c.FirstExtractDate)
	}

	selected := make(map[string]bool, len(c.Columns))
	for _, col := range c.Columns {
		selected[col] = true
	}
	for _, col := range c.requiredColumns() {
		if !selected[col] {
			return errors.Newf(errors.ErrorTypeValidation, "column %q is not listed in src_columns", col).
				WithDetail("src_columns", c.Columns)
		}
	}
	return nil
}

func (c SourceConfig) requiredColumns() []string {
	return []string{
		c.ColISIN, c.ColDate, c.ColTime,
		c.ColStartPrice, c.ColMinPrice, c.ColMaxPrice, c.ColTradedVol,
	}
}

// Validate checks the report format.
func (c TargetConfig) Validate() error {
	if _, err := formats.ParseFormat(c.Format); err != nil {
		return errors.Wrap(err, errors.ErrorTypeWrongFormat, "invalid trg_format").
			WithDetail("value", c.Format)
	}
	return nil
}
