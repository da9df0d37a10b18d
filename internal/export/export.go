// Package export renders analytics tables as CSV or JSON.
package export

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/oolio-orderflow/internal/analytics"
	"github.com/xenking/oolio-orderflow/internal/domain/apperr"
)

// Format is an output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	// FormatExcel is recognized so that callers get a clear rejection.
	FormatExcel Format = "xlsx"
)

// ParseFormat validates a format name. Excel is rejected as unsupported.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatJSON:
		return f, nil
	case FormatExcel, "excel", "xls":
		return "", apperr.Validation("format", "excel export is not supported")
	default:
		return "", apperr.Validation("format", "unknown format %q, want csv or json", s)
	}
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/csv; charset=utf-8"
}

// Extension returns the file extension of f without the dot.
func (f Format) Extension() string { return string(f) }

// Option configures an Exporter.
type Option func(*Exporter)

// WithComma sets the CSV field delimiter.
func WithComma(r rune) Option {
	return func(e *Exporter) { e.comma = r }
}

// Exporter writes tables. The zero value is not usable; call New.
type Exporter struct {
	comma rune
}

// New creates an Exporter.
func New(opts ...Option) *Exporter {
	e := &Exporter{comma: ','}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Write encodes t to w in format f.
func (e *Exporter) Write(w io.Writer, t *analytics.Table, f Format) error {
	if t == nil {
		return errors.New("nil table")
	}
	switch f {
	case FormatCSV:
		return e.writeCSV(w, t)
	case FormatJSON:
		return writeJSON(w, t)
	default:
		return apperr.Validation("format", "unsupported format %q", string(f))
	}
}

func (e *Exporter) writeCSV(w io.Writer, t *analytics.Table) error {
	cw := csv.NewWriter(w)
	cw.Comma = e.comma
	if err := cw.Write(t.Columns); err != nil {
		return errors.Wrap(err, "write header")
	}
	for i, row := range t.Rows {
		if err := cw.Write(row); err != nil {
			return errors.Wrapf(err, "write row %d", i)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(err, "flush csv")
	}
	return nil
}

// writeJSON encodes rows as an array of objects keyed by column.
func writeJSON(w io.Writer, t *analytics.Table) error {
	var enc jx.Encoder
	enc.ArrStart()
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return errors.Errorf("row %d has %d cells, want %d", i, len(row), len(t.Columns))
		}
		enc.ObjStart()
		for j, col := range t.Columns {
			enc.FieldStart(col)
			enc.Str(row[j])
		}
		enc.ObjEnd()
	}
	enc.ArrEnd()
	if _, err := w.Write(enc.Bytes()); err != nil {
		return errors.Wrap(err, "write json")
	}
	return nil
}
