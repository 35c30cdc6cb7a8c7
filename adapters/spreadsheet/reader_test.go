package spreadsheet

import (
	"testing"

	"deanalyse/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

func TestReadCSVHeaderRules(t *testing.T) {
	reader := NewDataReader(zap.NewNop())
	data := []byte("\xef\xbb\xbfname, ,name,name.1,name\nalice,1,2,3,4\nbob,5\n")

	table, err := reader.Read(data, FormatCSV)
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "Unnamed: 1", "name.1", "name.1.1", "name.2"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, []string{"bob", "5", "", "", ""}, table.Rows[1])
}

func TestReadCSVTruncatesLongRows(t *testing.T) {
	reader := NewDataReader(nil)
	table, err := reader.Read([]byte("a,b\n1,2,3\n"), FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1", "2"}}, table.Rows)
}

func TestReadHeaderOnly(t *testing.T) {
	reader := NewDataReader(nil)
	table, err := reader.Read([]byte("a,b\n"), FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, table.Headers)
	assert.Empty(t, table.Rows)
}

func TestReadEmptyInput(t *testing.T) {
	reader := NewDataReader(nil)

	_, err := reader.Read(nil, FormatCSV)
	assert.ErrorIs(t, err, core.ErrEmptyFile)

	_, err = reader.Read([]byte("\n\n"), FormatCSV)
	assert.ErrorIs(t, err, core.ErrMissingHeader)

	_, err = reader.Read([]byte("x"), Format("ods"))
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)
}

func TestReadXLSXFirstSheet(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"product", "units"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{"widget", 3}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]interface{}{"gadget"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	table, err := NewDataReader(nil).Read(buf.Bytes(), FormatXLSX)
	require.NoError(t, err)
	assert.Equal(t, []string{"product", "units"}, table.Headers)
	assert.Equal(t, [][]string{{"widget", "3"}, {"gadget", ""}}, table.Rows)
}

func TestReadCorruptWorkbook(t *testing.T) {
	_, err := NewDataReader(nil).Read([]byte("not a zip"), FormatXLSX)
	assert.Error(t, err)
}
