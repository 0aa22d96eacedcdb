package tabular

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Kind identifies a supported source file format
type Kind string

const (
	// KindCSV is comma-separated values
	KindCSV Kind = "csv"
	// KindJSON is a JSON array of flat objects
	KindJSON Kind = "json"
	// KindXLSX is an Excel workbook (first sheet)
	KindXLSX Kind = "xlsx"
	// KindUnknown means the format could not be determined
	KindUnknown Kind = ""
)

var (
	// ErrUnsupportedKind is returned when the file kind cannot be determined
	// or has no parser
	ErrUnsupportedKind = errors.New("unsupported file kind")
	// ErrEmptyFile is returned when the parsed file yields no header row
	ErrEmptyFile = errors.New("file contains no rows")
	// ErrNotArrayOfObjects is returned when a JSON source is not an array of
	// flat objects
	ErrNotArrayOfObjects = errors.New("json source must be an array of objects")
)

// SniffKind resolves the file kind from, in priority order: the declared
// kind, the file extension, and the Content-Type of the response.
func SniffKind(declared, filename, contentType string) Kind {
	switch Kind(strings.ToLower(strings.TrimSpace(declared))) {
	case KindCSV, KindJSON, KindXLSX:
		return Kind(strings.ToLower(strings.TrimSpace(declared)))
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return KindCSV
	case ".json":
		return KindJSON
	case ".xlsx", ".xls":
		return KindXLSX
	}

	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mediaType {
		case "text/csv", "application/csv":
			return KindCSV
		case "application/json":
			return KindJSON
		case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			"application/vnd.ms-excel":
			return KindXLSX
		}
	}

	return KindUnknown
}

// ParseFile parses the file at path into a Dataset according to kind.
func ParseFile(path string, kind Kind) (*Dataset, error) {
	switch kind {
	case KindCSV:
		return parseCSV(path)
	case KindJSON:
		return parseJSON(path)
	case KindXLSX:
		return parseXLSX(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, string(kind))
	}
}

func parseCSV(path string) (*Dataset, error) {
	f, err := os.Open(path) //nolint:gosec // Scratch file path created by the pipeline
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // tolerate ragged rows, handled downstream
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyFile
		}
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	ds := &Dataset{Columns: header}
	for {
		record, readErr := r.Read()
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read csv row: %w", readErr)
		}
		ds.Rows = append(ds.Rows, record)
	}

	return ds, nil
}

func parseJSON(path string) (*Dataset, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Scratch file path created by the pipeline
	if err != nil {
		return nil, err
	}

	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotArrayOfObjects, err)
	}

	if len(records) == 0 {
		return nil, ErrEmptyFile
	}

	// Columns in first-seen order across all records so later-only keys are
	// not dropped
	var columns []string
	seen := make(map[string]struct{})
	for _, rec := range records {
		for key := range rec {
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				columns = append(columns, key)
			}
		}
	}

	ds := &Dataset{Columns: columns, Rows: make([][]string, 0, len(records))}
	for _, rec := range records {
		row := make([]string, len(columns))
		for i, col := range columns {
			row[i] = stringifyJSONValue(rec[col])
		}
		ds.Rows = append(ds.Rows, row)
	}

	return ds, nil
}

func stringifyJSONValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(raw)
	}
}

func parseXLSX(path string) (*Dataset, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyFile
	}

	ds := &Dataset{Columns: rows[0]}
	for _, row := range rows[1:] {
		// excelize trims trailing empty cells; pad back to header width
		if len(row) < len(ds.Columns) {
			padded := make([]string, len(ds.Columns))
			copy(padded, row)
			row = padded
		}
		ds.Rows = append(ds.Rows, row)
	}

	return ds, nil
}
