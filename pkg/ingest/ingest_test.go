package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lomehong/chatplot/pkg/plugin/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const salesCSV = `date, region, revenue
2024-01-01,north,120
2024-01-02,south,-30.5
2024-01-03,,45
`

func TestParseCSV(t *testing.T) {
	table, err := ParseCSV(strings.NewReader(salesCSV))
	require.NoError(t, err)

	assert.Equal(t, []string{"date", "region", "revenue"}, table.Names())
	assert.Equal(t, 3, table.Rows())

	revenue, ok := table.Column("revenue")
	require.True(t, ok)
	assert.Equal(t, []any{int64(120), -30.5, int64(45)}, revenue.Values)
	assert.True(t, revenue.Numeric())

	region, _ := table.Column("region")
	assert.Equal(t, []any{"north", "south", nil}, region.Values)
}

func TestParseCSVErrors(t *testing.T) {
	_, err := ParseCSV(strings.NewReader(""))
	assert.Error(t, err)

	_, err = ParseCSV(strings.NewReader("a,b\n1,2,3\n"))
	assert.Error(t, err)
}

func TestParseJSON(t *testing.T) {
	table, err := ParseJSON(strings.NewReader(`[{"b": 1, "a": "x"}, {"a": "y", "b": 2.5}]`))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, table.Names())
	b, _ := table.Column("b")
	assert.Equal(t, []any{int64(1), 2.5}, b.Values)

	_, err = ParseJSON(strings.NewReader(`{"a": 1}`))
	assert.Error(t, err)
}

func TestDecodePayload(t *testing.T) {
	value, err := DecodePayload([]byte(` [{"item": "milk", "qty": 2}]`))
	require.NoError(t, err)
	table, ok := value.(*api.Table)
	require.True(t, ok)
	assert.Equal(t, []string{"item", "qty"}, table.Names())

	value, err = DecodePayload([]byte(`{"columns": [{"name": "x", "values": [1, 2]}]}`))
	require.NoError(t, err)
	table, ok = value.(*api.Table)
	require.True(t, ok)
	assert.Equal(t, 2, table.Rows())

	value, err = DecodePayload([]byte(`{"threshold": 3}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"threshold": float64(3)}, value)

	value, err = DecodePayload(nil)
	require.NoError(t, err)
	assert.Nil(t, value)

	_, err = DecodePayload([]byte(`[1, 2`))
	assert.Error(t, err)

	_, err = DecodePayload([]byte(`{"columns": [{"name": "date", "values": ["a", "b", "c"]}, {"name": "v", "values": [1]}]}`))
	assert.Error(t, err)
}

func TestParseCSVKeepsNonFiniteAsText(t *testing.T) {
	table, err := ParseCSV(strings.NewReader("v\nNaN\nInf\n-inf\n1.5\n"))
	require.NoError(t, err)
	v, _ := table.Column("v")
	assert.Equal(t, []any{"NaN", "Inf", "-inf", 1.5}, v.Values)
}

func TestLimits(t *testing.T) {
	l := DefaultLimits()
	assert.Equal(t, int64(10485760), l.MaxSize)
	assert.True(t, l.Allowed("sales.CSV"))
	assert.True(t, l.Allowed("dir/data.json"))
	assert.False(t, l.Allowed("report.xlsx"))
	assert.False(t, l.Allowed("noext"))
}

func TestReaderRead(t *testing.T) {
	r := NewReader(Limits{}, nil)
	assert.Equal(t, DefaultLimits(), r.Limits())

	table, err := r.Read("sales.csv", strings.NewReader(salesCSV))
	require.NoError(t, err)
	assert.Equal(t, 3, table.Rows())

	_, err = r.Read("sales.xlsx", strings.NewReader(salesCSV))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestReaderRejectsLargeInput(t *testing.T) {
	r := NewReader(Limits{MaxSize: 16, Extensions: []string{"csv"}}, nil)
	_, err := r.Read("big.csv", strings.NewReader(salesCSV))
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = r.Read("small.csv", strings.NewReader("a\n1\n"))
	assert.NoError(t, err)
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"order": 1, "product": "milk"}]`), 0644))

	table, err := NewReader(DefaultLimits(), nil).ReadFile(path)
	require.NoError(t, err)
	product, ok := table.Column("product")
	require.True(t, ok)
	assert.Equal(t, []any{"milk"}, product.Values)

	_, err = NewReader(DefaultLimits(), nil).ReadFile(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
