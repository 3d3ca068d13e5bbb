// Package meta keeps track of which source dates have been processed.
//
// The meta file is a CSV object in the target bucket with one row per
// processed source date:
//
//	source_date,datetime_of_processing
//	2021-04-20,2021-04-22 06:00:01
//
// DateList uses it to decide which dates to extract next; Update appends the
// dates of a successful run.
package meta

import (
	"context"
	"time"

	"github.com/ajitpratap0/xetra/pkg/errors"
	"github.com/ajitpratap0/xetra/pkg/formats"
)

const (
	// DateFormat is the layout of source dates and S3 key prefixes
	DateFormat = "2006-01-02"
	// ProcessedFormat is the layout of the processing timestamp
	ProcessedFormat = "2006-01-02 15:04:05"

	// ColSourceDate holds the processed source date
	ColSourceDate = "source_date"
	// ColProcessed holds the time the date was processed
	ColProcessed = "datetime_of_processing"

	separator = ','
)

// UpToDate is the extract date DateList returns when every date is already
// in the meta file. It sorts after any real trading day, so a report
// filtered on it is empty.
var UpToDate = time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC)

// Store is the part of a bucket connector the meta process needs.
type Store interface {
	ReadCSV(ctx context.Context, key string, sep rune) (*formats.Table, error)
	WriteTable(ctx context.Context, t *formats.Table, key, format string, opts ...formats.Option) error
}

// Columns returns the meta file header.
func Columns() []string {
	return []string{ColSourceDate, ColProcessed}
}

// DateList computes the extract date and the list of dates to extract.
//
// Without a meta file the extract date is firstDate and the list runs from
// the day before firstDate through today; the extra leading day provides the
// previous closing price. With a meta file, the dates from firstDate through
// today that it does not hold are missing: the extract date is the earliest
// missing date and the list runs from the day before it through today. When
// nothing is missing the extract date is UpToDate and the list is empty.
func DateList(ctx context.Context, store Store, firstDate, metaKey string, today time.Time) (string, []string, error) {
	first, err := time.Parse(DateFormat, firstDate)
	if err != nil {
		return "", nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid first extract date").
			WithDetail("first_date", firstDate)
	}
	start := first.AddDate(0, 0, -1)
	end := truncate(today)

	processed, err := readProcessed(ctx, store, metaKey)
	if errors.IsType(err, errors.ErrorTypeNotFound) {
		return firstDate, format(daysBetween(start, end)), nil
	}
	if err != nil {
		return "", nil, err
	}

	var missing []time.Time
	for _, d := range daysBetween(first, end) {
		if !processed[d] {
			missing = append(missing, d)
		}
	}
	if len(missing) == 0 {
		return UpToDate.Format(DateFormat), []string{}, nil
	}

	extract := missing[0]
	return extract.Format(DateFormat), format(daysBetween(extract.AddDate(0, 0, -1), end)), nil
}

// Update appends dates to the meta file, stamped with now, and writes it
// back. A missing meta file is created. An existing file with other columns
// fails with ErrorTypeWrongMetaFile and is left untouched. No dates means no
// I/O at all.
func Update(ctx context.Context, store Store, metaKey string, dates []string, now time.Time) error {
	if len(dates) == 0 {
		return nil
	}
	fresh := formats.NewTable(formats.StringColumns(Columns()...)...)
	stamp := now.Format(ProcessedFormat)
	for _, d := range dates {
		if err := fresh.Append(d, stamp); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to build meta rows")
		}
	}

	old, err := store.ReadCSV(ctx, metaKey, separator)
	switch {
	case errors.IsType(err, errors.ErrorTypeNotFound):
		old = formats.NewTable(fresh.Columns...)
	case err != nil:
		return err
	case !sameColumns(old.Names(), Columns()):
		return errors.Newf(errors.ErrorTypeWrongMetaFile,
			"meta file columns %v do not match %v", old.Names(), Columns()).
			WithDetail("meta_key", metaKey)
	}

	if err := old.Concat(fresh); err != nil {
		return errors.Wrap(err, errors.ErrorTypeWrongMetaFile, "failed to append to meta file")
	}
	return store.WriteTable(ctx, old, metaKey, string(formats.CSV), formats.WithSeparator(separator))
}

func readProcessed(ctx context.Context, store Store, metaKey string) (map[time.Time]bool, error) {
	t, err := store.ReadCSV(ctx, metaKey, separator)
	if err != nil {
		return nil, err
	}
	col := t.Index(ColSourceDate)
	if col < 0 {
		return nil, errors.Newf(errors.ErrorTypeWrongMetaFile, "meta file has no %s column", ColSourceDate).
			WithDetail("meta_key", metaKey)
	}

	processed := make(map[time.Time]bool, t.Len())
	for i, row := range t.Rows {
		s, ok := row[col].(string)
		if !ok {
			continue
		}
		d, err := time.Parse(DateFormat, s)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeWrongMetaFile, "invalid source date in meta file").
				WithDetail("meta_key", metaKey).
				WithDetail("row", i+2)
		}
		processed[d] = true
	}
	return processed, nil
}

// daysBetween returns every day from start through end inclusive.
func daysBetween(start, end time.Time) []time.Time {
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

func truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func format(days []time.Time) []string {
	out := make([]string, len(days))
	for i, d := range days {
		out[i] = d.Format(DateFormat)
	}
	return out
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
