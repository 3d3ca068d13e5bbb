package report

import (
	"context"
	"math"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/xetra/pkg/errors"
	"github.com/ajitpratap0/xetra/pkg/formats"
	"github.com/ajitpratap0/xetra/pkg/meta"
)

// RunReport1 extracts the source files of every date that still needs
// processing, aggregates them per ISIN and trading day, writes the report to
// the target bucket and records the processed dates in the meta file.
func (e *ETL) RunReport1(ctx context.Context) error {
	log := e.logger.With(zap.String("report", Report1))

	var (
		extractDate string
		dates       []string
	)
	err := e.stage(ctx, Report1, "plan", func(ctx context.Context) error {
		var err error
		extractDate, dates, err = meta.DateList(ctx, e.trg, e.srcArgs.FirstExtractDate, e.metaKey, e.now())
		return err
	})
	if err != nil {
		return reportFailure(err, Report1)
	}
	log.Info("Extract dates computed",
		zap.String("extract_date", extractDate),
		zap.Int("dates", len(dates)))

	var source *formats.Table
	err = e.stage(ctx, Report1, "extract", func(ctx context.Context) error {
		var err error
		source, err = e.Extract(ctx, dates)
		return err
	})
	if err != nil {
		return reportFailure(err, Report1)
	}

	var report *formats.Table
	err = e.stage(ctx, Report1, "transform", func(context.Context) error {
		var err error
		report, err = e.TransformReport1(source, extractDate)
		return err
	})
	if err != nil {
		return reportFailure(err, Report1)
	}

	err = e.stage(ctx, Report1, "load", func(ctx context.Context) error {
		return e.Load(ctx, report, metaUpdateList(dates, extractDate))
	})
	return reportFailure(err, Report1)
}

// Extract reads and concatenates every source object under the given date
// prefixes. No objects yields an empty table.
func (e *ETL) Extract(ctx context.Context, dates []string) (*formats.Table, error) {
	e.logger.Info("Extracting Xetra source files started...")

	var keys []string
	for _, date := range dates {
		k, err := e.src.ListKeys(ctx, date)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k...)
	}

	out := &formats.Table{}
	for _, key := range keys {
		t, err := e.src.ReadCSV(ctx, key, 0)
		if err != nil {
			return nil, err
		}
		if err := out.Concat(t); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "source files have different columns").
				WithDetail("key", key)
		}
	}

	e.metrics.FilesRead(len(keys))
	e.metrics.RowsExtracted(out.Len())
	e.logger.Info("Extracting Xetra source files finished.",
		zap.Int("files", len(keys)),
		zap.Int("rows", out.Len()))
	return out, nil
}

// Report1Columns returns the report's columns named by the target config.
func (e *ETL) Report1Columns() []formats.Column {
	t := e.trgArgs
	return []formats.Column{
		{Name: t.ColISIN, Type: formats.String},
		{Name: t.ColDate, Type: formats.String},
		{Name: t.ColOpPrice, Type: formats.Float64},
		{Name: t.ColClosPrice, Type: formats.Float64},
		{Name: t.ColMinPrice, Type: formats.Float64},
		{Name: t.ColMaxPrice, Type: formats.Float64},
		{Name: t.ColDailTradVol, Type: formats.Float64},
		{Name: t.ColChPrevClos, Type: formats.Float64},
	}
}

type dayKey struct {
	isin string
	date string
}

type daySummary struct {
	dayKey
	opening, closing float64
	min, max         float64
	volume           float64
}

type sourceRow struct {
	dayKey
	time                          string
	start, min, max, tradedVolume float64
}

// TransformReport1 aggregates source rows per ISIN and trading day.
//
// Rows with an empty value in any selected column are dropped. The opening
// and closing prices are the start prices of the earliest and latest trading
// time; the change column is the opening price's change against the
// previous trading day's closing price in percent, empty for an ISIN's first
// day. Values are rounded to two decimals and days before extractDate are
// dropped; they were extracted only to provide the previous closing price.
func (e *ETL) TransformReport1(source *formats.Table, extractDate string) (*formats.Table, error) {
	out := formats.NewTable(e.Report1Columns()...)
	if source.Len() == 0 {
		e.logger.Info("The source table is empty. No transformations will be applied.")
		return out, nil
	}
	e.logger.Info("Applying transformations to Xetra source data for report 1 started...")

	rows, err := e.parseSourceRows(source)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].time < rows[j].time })

	days := make(map[dayKey]*daySummary)
	for _, r := range rows {
		d, ok := days[r.dayKey]
		if !ok {
			days[r.dayKey] = &daySummary{
				dayKey:  r.dayKey,
				opening: r.start,
				closing: r.start,
				min:     r.min,
				max:     r.max,
				volume:  r.tradedVolume,
			}
			continue
		}
		d.closing = r.start
		d.min = math.Min(d.min, r.min)
		d.max = math.Max(d.max, r.max)
		d.volume += r.tradedVolume
	}

	ordered := make([]*daySummary, 0, len(days))
	for _, d := range days {
		ordered = append(ordered, d)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].isin != ordered[j].isin {
			return ordered[i].isin < ordered[j].isin
		}
		return ordered[i].date < ordered[j].date
	})

	for i, d := range ordered {
		var change interface{}
		if i > 0 && ordered[i-1].isin == d.isin && ordered[i-1].closing != 0 {
			prev := ordered[i-1].closing
			change = round2((d.opening - prev) / prev * 100)
		}
		if d.date < extractDate {
			continue
		}
		if err := out.Append(d.isin, d.date,
			round2(d.opening), round2(d.closing),
			round2(d.min), round2(d.max),
			round2(d.volume), change); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build report row")
		}
	}

	e.logger.Info("Applying transformations to Xetra source data finished...",
		zap.Int("rows", out.Len()))
	return out, nil
}

func (e *ETL) parseSourceRows(source *formats.Table) ([]sourceRow, error) {
	s := e.srcArgs
	selected, err := source.Select(s.Columns...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "source data is missing configured columns")
	}

	idx := func(name string) int { return selected.Index(name) }
	iISIN, iDate, iTime := idx(s.ColISIN), idx(s.ColDate), idx(s.ColTime)
	iStart, iMin, iMax, iVol := idx(s.ColStartPrice), idx(s.ColMinPrice), idx(s.ColMaxPrice), idx(s.ColTradedVol)

	rows := make([]sourceRow, 0, selected.Len())
	for n, row := range selected.Rows {
		if hasEmpty(row) {
			continue
		}
		r := sourceRow{
			dayKey: dayKey{isin: toString(row[iISIN]), date: toString(row[iDate])},
			time:   toString(row[iTime]),
		}
		for _, f := range []struct {
			dst *float64
			i   int
		}{{&r.start, iStart}, {&r.min, iMin}, {&r.max, iMax}, {&r.tradedVolume, iVol}} {
			v, err := toFloat(row[f.i])
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid numeric value in source data").
					WithDetail("column", selected.Columns[f.i].Name).
					WithDetail("row", n)
			}
			*f.dst = v
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// Load writes the report under trg_key + formatted time + "." + trg_format
// and appends the processed dates to the meta file. An empty report is not
// written but the meta file is still updated.
func (e *ETL) Load(ctx context.Context, report *formats.Table, processed []string) error {
	now := e.now()
	key := e.TargetKey(now)

	if report.Len() == 0 {
		e.logger.Info("The report is empty! No file will be written!", zap.String("key", key))
	} else {
		if err := e.trg.WriteTable(ctx, report, key, e.trgArgs.Format); err != nil {
			return err
		}
		e.metrics.RowsReported(report.Len())
		e.logger.Info("Xetra target data successfully written.",
			zap.String("key", key),
			zap.Int("rows", report.Len()))
	}

	if len(processed) == 0 {
		e.logger.Info("Xetra meta file is up to date.", zap.String("meta_key", e.metaKey))
		return nil
	}
	if err := meta.Update(ctx, e.trg, e.metaKey, processed, now); err != nil {
		return err
	}
	e.logger.Info("Xetra meta file successfully updated.",
		zap.String("meta_key", e.metaKey),
		zap.Strings("dates", processed))
	return nil
}

// TargetKey returns the report key for a run at t.
func (e *ETL) TargetKey(t time.Time) string {
	return e.trgArgs.Key + e.keyDate.FormatString(t) + "." + e.trgArgs.Format
}

func metaUpdateList(dates []string, extractDate string) []string {
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		if d >= extractDate {
			out = append(out, d)
		}
	}
	return out
}

func hasEmpty(row []interface{}) bool {
	for _, v := range row {
		if v == nil {
			return true
		}
	}
	return false
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		return strconv.ParseFloat(x, 64)
	default:
		return 0, errors.Newf(errors.ErrorTypeData, "unexpected value %v", v)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
