package export

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-orderflow/internal/analytics"
	"github.com/xenking/oolio-orderflow/internal/domain/apperr"
)

func testTable() *analytics.Table {
	return &analytics.Table{
		Columns: []string{"market", "revenue", "growth"},
		Rows: [][]string{
			{"IN", "175.50", "75.50"},
			{"Côte, \"Nord\"", "50.00", ""},
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		kind apperr.Kind
	}{
		{"", FormatCSV, ""},
		{"CSV", FormatCSV, ""},
		{" json ", FormatJSON, ""},
		{"xlsx", "", apperr.KindValidation},
		{"excel", "", apperr.KindValidation},
		{"xml", "", apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.kind != "" {
				assert.Equal(t, tt.kind, apperr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New().Write(&buf, testTable(), FormatCSV))
	assert.Equal(t, "market,revenue,growth\nIN,175.50,75.50\n\"Côte, \"\"Nord\"\"\",50.00,\n", buf.String())

	buf.Reset()
	require.NoError(t, New(WithComma(';')).Write(&buf, testTable(), FormatCSV))
	assert.Equal(t, "market;revenue;growth\nIN;175.50;75.50\n\"Côte, \"\"Nord\"\"\";50.00;\n", buf.String())
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New().Write(&buf, testTable(), FormatJSON))

	var got []map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, []map[string]string{
		{"market": "IN", "revenue": "175.50", "growth": "75.50"},
		{"market": "Côte, \"Nord\"", "revenue": "50.00", "growth": ""},
	}, got)

	buf.Reset()
	require.NoError(t, New().Write(&buf, &analytics.Table{Columns: []string{"a"}}, FormatJSON))
	assert.Equal(t, "[]", buf.String())
}

func TestWriteErrors(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, New().Write(&buf, nil, FormatCSV))

	err := New().Write(&buf, testTable(), FormatExcel)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	ragged := &analytics.Table{Columns: []string{"a", "b"}, Rows: [][]string{{"1"}}}
	assert.Error(t, New().Write(&buf, ragged, FormatJSON))
}

func TestFormatContentType(t *testing.T) {
	assert.Equal(t, "application/json", FormatJSON.ContentType())
	assert.Equal(t, "text/csv; charset=utf-8", FormatCSV.ContentType())
	assert.Equal(t, "csv", FormatCSV.Extension())
}
