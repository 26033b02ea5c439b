package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrEmptyFile indicates an upload without any worksheet rows.
var ErrEmptyFile = errors.New("catalog: uploaded file is empty")

// ReadUpload parses an uploaded catalog file. Workbooks are read from their first
// sheet; anything else is treated as CSV text.
func ReadUpload(body io.Reader, filename string) (ParsedCatalog, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return ParsedCatalog{}, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return ParsedCatalog{}, ErrEmptyFile
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		rows, err := readWorkbook(data)
		if err != nil {
			return ParsedCatalog{}, err
		}
		return ParseTable(rows)
	default:
		return ParseRows(string(data))
	}
}

func readWorkbook(data []byte) ([][]string, error) {
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("catalog: open workbook: %w", err)
	}
	defer func() { _ = file.Close() }()

	sheetName := file.GetSheetName(0)
	if sheetName == "" {
		return nil, fmt.Errorf("%w: no worksheet found", ErrEmptyFile)
	}
	rows, err := file.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("catalog: read worksheet %s: %w", sheetName, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: worksheet %s is empty", ErrEmptyFile, sheetName)
	}
	return rows, nil
}
