package spreadsheet

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"deanalyse/domain/core"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// DataReader turns uploaded bytes into a RawTable
type DataReader struct {
	logger *zap.Logger
}

// NewDataReader creates a reader that logs read timings to logger
func NewDataReader(logger *zap.Logger) *DataReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DataReader{logger: logger.Named("spreadsheet")}
}

// Read decodes data according to format. The first row is the header.
func (r *DataReader) Read(data []byte, format Format) (*RawTable, error) {
	if len(data) == 0 {
		return nil, core.ErrEmptyFile
	}

	start := time.Now()
	var (
		rows [][]string
		err  error
	)
	switch format {
	case FormatCSV:
		rows, err = r.readCSV(data)
	case FormatXLSX:
		rows, err = r.readXLSX(data)
	case FormatXLS:
		rows, err = r.readXLS(data)
	default:
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}
	r.logger.Debug("file read",
		zap.String("format", string(format)),
		zap.Int("rows", len(rows)),
		zap.Duration("elapsed", time.Since(start)))

	if len(rows) == 0 {
		return nil, core.ErrMissingHeader
	}
	return processRows(rows), nil
}

func (r *DataReader) readCSV(data []byte) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(trimBOM(data)))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	return rows, nil
}

// readXLSX reads the first worksheet of a workbook
func (r *DataReader) readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, core.ErrMissingHeader
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

// readXLS reads the first worksheet of a legacy BIFF workbook
func (r *DataReader) readXLS(data []byte) ([][]string, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, core.ErrMissingHeader
	}

	var rows [][]string
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, row.LastCol())
		for j := row.FirstCol(); j < row.LastCol(); j++ {
			cells[j] = row.Col(j)
		}
		rows = append(rows, cells)
	}
	// sheet.MaxRow is an index, so a sheet with no rows still yields one nil row
	for len(rows) > 0 && isBlankRow(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}
	return rows, nil
}

// processRows normalizes the header and squares every data row to the header width
func processRows(rows [][]string) *RawTable {
	headers := UniqueHeaders(rows[0])

	dataRows := make([][]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) == 0 {
			continue
		}
		cells := make([]string, len(headers))
		for j := range headers {
			if j < len(row) {
				cells[j] = strings.TrimSpace(row[j])
			}
		}
		dataRows = append(dataRows, cells)
	}
	return &RawTable{Headers: headers, Rows: dataRows}
}

// UniqueHeaders trims header names, names blank headers "Unnamed: <i>" and
// suffixes repeats with ".<k>" so every name is distinct.
func UniqueHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	used := make(map[string]bool, len(raw))
	counts := make(map[string]int, len(raw))
	for i, h := range raw {
		name := strings.TrimSpace(h)
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		if used[name] {
			base := name
			k := counts[base]
			for {
				k++
				name = base + "." + strconv.Itoa(k)
				if !used[name] {
					break
				}
			}
			counts[base] = k
		}
		used[name] = true
		headers[i] = name
	}
	return headers
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func trimBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
}
