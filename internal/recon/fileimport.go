package recon

import (
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/vendora-ops/vendora-recon/internal/shared"
)

// Import files follow the platform's own export template:
// machine_code | sold_at | amount | payment_method | order_number | product_code | quantity
// with a header row. Provider-native file formats are converted upstream.

var importTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02.01.2006 15:04:05",
}

// ParseImportFile extracts sale rows from an uploaded xlsx or csv file.
// Malformed rows are reported per row, not fatally; only an unreadable
// file or unsupported extension is an error.
func ParseImportFile(r io.Reader, filename string) ([]ImportRow, []ImportRowError, error) {
	switch strings.ToLower(path.Ext(filename)) {
	case ".xlsx":
		return parseXLSX(r)
	case ".csv":
		return parseCSV(r)
	default:
		return nil, nil, fmt.Errorf("recon: unsupported import file %q: %w", filename, shared.ErrInvalidArgument)
	}
}

func parseXLSX(r io.Reader) ([]ImportRow, []ImportRowError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("recon: open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("recon: workbook has no sheets: %w", shared.ErrInvalidArgument)
	}
	cells, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("recon: read sheet: %w", err)
	}
	rows, rejected := splitParsed(parseTable(cells))
	return rows, rejected, nil
}

func parseCSV(r io.Reader) ([]ImportRow, []ImportRowError, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	cells, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("recon: read csv: %w", err)
	}
	rows, rejected := splitParsed(parseTable(cells))
	return rows, rejected, nil
}

type parsedRow struct {
	row    ImportRow
	reject *ImportRowError
}

func parseTable(table [][]string) []parsedRow {
	var out []parsedRow
	for i, cells := range table {
		if i == 0 {
			// Header row.
			continue
		}
		rowNum := i + 1
		if isBlankRow(cells) {
			continue
		}
		row, err := parseCells(cells)
		if err != nil {
			out = append(out, parsedRow{reject: &ImportRowError{Row: rowNum, Message: err.Error()}})
			continue
		}
		out = append(out, parsedRow{row: row})
	}
	return out
}

func splitParsed(parsed []parsedRow) ([]ImportRow, []ImportRowError) {
	var rows []ImportRow
	var rejected []ImportRowError
	for _, p := range parsed {
		if p.reject != nil {
			rejected = append(rejected, *p.reject)
			continue
		}
		rows = append(rows, p.row)
	}
	return rows, rejected
}

func parseCells(cells []string) (ImportRow, error) {
	if len(cells) < 3 {
		return ImportRow{}, fmt.Errorf("expected at least 3 columns, got %d", len(cells))
	}

	soldAt, err := parseImportTime(cells[1])
	if err != nil {
		return ImportRow{}, fmt.Errorf("sold_at: %v", err)
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(cells[2]), " ", ""))
	if err != nil {
		return ImportRow{}, fmt.Errorf("amount %q is not a number", cells[2])
	}

	row := ImportRow{
		MachineCode: strings.TrimSpace(cells[0]),
		SoldAt:      soldAt,
		Amount:      amount,
	}
	if len(cells) > 3 {
		row.PaymentMethod = strings.TrimSpace(cells[3])
	}
	if len(cells) > 4 {
		row.OrderNumber = strings.TrimSpace(cells[4])
	}
	if len(cells) > 5 {
		row.ProductCode = strings.TrimSpace(cells[5])
	}
	if len(cells) > 6 && strings.TrimSpace(cells[6]) != "" {
		qty, err := strconv.Atoi(strings.TrimSpace(cells[6]))
		if err != nil {
			return ImportRow{}, fmt.Errorf("quantity %q is not an integer", cells[6])
		}
		row.Quantity = qty
	}
	return row, nil
}

func parseImportTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range importTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

func isBlankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
