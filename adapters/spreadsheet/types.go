package spreadsheet

// Format identifies the container format of an uploaded table
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
)

// RawTable is the untyped grid read from a file. Headers are unique and every
// row has exactly len(Headers) cells.
type RawTable struct {
	Headers []string
	Rows    [][]string
}
