// Package catalog reconciles uploaded material spreadsheets with the materials catalog.
package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gorm.io/datatypes"
)

// ErrMissingColumns indicates the header row lacks a required column.
var ErrMissingColumns = errors.New("catalog: required columns not found")

const absentColumn = -1

var (
	currencyPattern = regexp.MustCompile(`^(?i:usd)?\s*\$?\s*(\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?|\.\d+)$`)
	leadingDecimal  = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?|\.\d+)`)
)

// ColumnMap holds the header index of every recognised column, or -1 when absent.
type ColumnMap struct {
	ItemName     int
	SKU          int
	Rate         int
	PurchaseRate int
	Account      int
	PartLength   int
}

type columnSpec struct {
	label     string
	spellings []string
	excludes  []string
	required  bool
	index     func(*ColumnMap) *int
}

var columnSpecs = []columnSpec{
	{
		label:     "Item Name",
		spellings: []string{"item name", "material name", "product name", "name"},
		required:  true,
		index:     func(m *ColumnMap) *int { return &m.ItemName },
	},
	{
		label:     "SKU",
		spellings: []string{"sku", "item code", "part number"},
		required:  true,
		index:     func(m *ColumnMap) *int { return &m.SKU },
	},
	{
		label:     "Purchase Rate",
		spellings: []string{"purchase rate", "purchase price", "cost"},
		index:     func(m *ColumnMap) *int { return &m.PurchaseRate },
	},
	{
		label:     "Rate",
		spellings: []string{"rate", "selling price", "unit price"},
		excludes:  []string{"purchase"},
		index:     func(m *ColumnMap) *int { return &m.Rate },
	},
	{
		label:     "Account",
		spellings: []string{"account", "category"},
		excludes:  []string{"purchase"},
		index:     func(m *ColumnMap) *int { return &m.Account },
	},
	{
		label:     "CF.Part Length",
		spellings: []string{"cf.part length", "part length", "length"},
		index:     func(m *ColumnMap) *int { return &m.PartLength },
	},
}

// SplitCSVLine splits one line on commas outside double quotes.
// Quote characters toggle quoting and are dropped; a doubled quote is not unescaped.
func SplitCSVLine(line string) []string {
	fields := make([]string, 0, 8)
	var current strings.Builder
	inQuotes := false
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == ',' && !inQuotes:
			fields = append(fields, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	return append(fields, strings.TrimSpace(current.String()))
}

// DetectColumns locates the catalog columns in a header row.
// Exact spellings win over substring matches. A header is claimed by at most one column.
func DetectColumns(headers []string) (ColumnMap, error) {
	normalized := make([]string, len(headers))
	for i, header := range headers {
		normalized[i] = strings.ToLower(strings.TrimSpace(header))
	}

	columns := ColumnMap{
		ItemName:     absentColumn,
		SKU:          absentColumn,
		Rate:         absentColumn,
		PurchaseRate: absentColumn,
		Account:      absentColumn,
		PartLength:   absentColumn,
	}
	claimed := make(map[int]bool, len(headers))
	missing := make([]string, 0, 2)
	for _, spec := range columnSpecs {
		index := matchColumn(normalized, spec, claimed)
		if index != absentColumn {
			claimed[index] = true
		} else if spec.required {
			missing = append(missing, spec.label)
		}
		*spec.index(&columns) = index
	}

	if len(missing) > 0 {
		return columns, fmt.Errorf("%w: missing %s; found headers: %s",
			ErrMissingColumns, strings.Join(missing, ", "), strings.Join(headers, ", "))
	}
	return columns, nil
}

func matchColumn(headers []string, spec columnSpec, claimed map[int]bool) int {
	for _, spelling := range spec.spellings {
		for i, header := range headers {
			if !claimed[i] && header == spelling && !excluded(header, spec.excludes) {
				return i
			}
		}
	}
	for _, spelling := range spec.spellings {
		for i, header := range headers {
			if !claimed[i] && header != "" && strings.Contains(header, spelling) && !excluded(header, spec.excludes) {
				return i
			}
		}
	}
	return absentColumn
}

func excluded(header string, excludes []string) bool {
	for _, token := range excludes {
		if strings.Contains(header, token) {
			return true
		}
	}
	return false
}

// AccountValue is an Account cell read as either a category or a cost override.
// At most one field is set.
type AccountValue struct {
	Category *string
	Cost     *float64
}

// ClassifyAccountValue reads currency-like values as a cost and anything else as a category.
func ClassifyAccountValue(raw string) AccountValue {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountValue{}
	}
	if match := currencyPattern.FindStringSubmatch(trimmed); match != nil {
		cost, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", ""), 64)
		if err == nil {
			return AccountValue{Cost: &cost}
		}
	}
	return AccountValue{Category: &trimmed}
}

// ParsedRow is one data row read into catalog fields.
type ParsedRow struct {
	SKU          string
	Name         string
	Category     *string
	UnitPrice    float64
	PurchaseCost float64
	PartLength   *float64
	Metadata     MetadataRow
}

// ParsedCatalog is the outcome of reading a spreadsheet.
type ParsedCatalog struct {
	Headers []string
	Columns ColumnMap
	Rows    []ParsedRow
	Skipped int
}

// ParseRows reads CSV text whose first non-blank line is the header row.
func ParseRows(text string) (ParsedCatalog, error) {
	text = strings.TrimPrefix(text, "\ufeff")
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	table := make([][]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		table = append(table, SplitCSVLine(line))
	}
	return ParseTable(table)
}

// ParseTable reads an already split table whose first non-empty row is the header row.
func ParseTable(table [][]string) (ParsedCatalog, error) {
	headerIndex := -1
	for i, row := range table {
		if !blankRow(row) {
			headerIndex = i
			break
		}
	}
	if headerIndex < 0 {
		return ParsedCatalog{}, fmt.Errorf("%w: file has no header row", ErrMissingColumns)
	}

	headers := make([]string, len(table[headerIndex]))
	for i, header := range table[headerIndex] {
		headers[i] = strings.TrimSpace(header)
	}
	columns, err := DetectColumns(headers)
	if err != nil {
		return ParsedCatalog{Headers: headers}, err
	}

	parsed := ParsedCatalog{Headers: headers, Columns: columns, Rows: make([]ParsedRow, 0, len(table)-headerIndex)}
	for _, row := range table[headerIndex+1:] {
		if blankRow(row) {
			continue
		}
		name := cell(row, columns.ItemName)
		sku := cell(row, columns.SKU)
		if name == "" && sku == "" {
			parsed.Skipped++
			continue
		}
		if sku == "" {
			sku = name
		}

		metadata := make(MetadataRow, len(headers))
		for i, header := range headers {
			if header != "" {
				metadata[header] = cell(row, i)
			}
		}

		purchaseCost := parseAmount(cell(row, columns.PurchaseRate))
		account := ClassifyAccountValue(cell(row, columns.Account))
		if account.Cost != nil && *account.Cost > 0 {
			purchaseCost = *account.Cost
		}

		parsed.Rows = append(parsed.Rows, ParsedRow{
			SKU:          sku,
			Name:         name,
			Category:     account.Category,
			UnitPrice:    parseAmount(cell(row, columns.Rate)),
			PurchaseCost: purchaseCost,
			PartLength:   parsePartLength(cell(row, columns.PartLength)),
			Metadata:     metadata,
		})
	}
	return parsed, nil
}

// GroupBySKU folds rows into one record per SKU in first-seen order.
// The first row is canonical; every row is appended to raw_metadata.
func GroupBySKU(rows []ParsedRow) []MaterialCatalogItem {
	items := make([]MaterialCatalogItem, 0, len(rows))
	positions := make(map[string]int, len(rows))
	for _, row := range rows {
		if position, ok := positions[row.SKU]; ok {
			items[position].RawMetadata = append(items[position].RawMetadata, row.Metadata)
			continue
		}
		name := row.Name
		if name == "" {
			name = row.SKU
		}
		positions[row.SKU] = len(items)
		items = append(items, MaterialCatalogItem{
			SKU:          row.SKU,
			MaterialName: name,
			Category:     row.Category,
			UnitPrice:    row.UnitPrice,
			PurchaseCost: row.PurchaseCost,
			PartLength:   row.PartLength,
			RawMetadata:  datatypes.NewJSONSlice([]MetadataRow{row.Metadata}),
		})
	}
	return items
}

func cell(row []string, index int) string {
	if index < 0 || index >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[index])
}

func blankRow(row []string) bool {
	for _, value := range row {
		if strings.TrimSpace(value) != "" {
			return false
		}
	}
	return true
}

func parseAmount(raw string) float64 {
	cleaned := strings.TrimSpace(raw)
	if len(cleaned) >= 3 && strings.EqualFold(cleaned[:3], "usd") {
		cleaned = cleaned[3:]
	}
	cleaned = strings.NewReplacer("$", "", ",", "", " ", "").Replace(cleaned)
	if cleaned == "" {
		return 0
	}
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return value
}

func parsePartLength(raw string) *float64 {
	match := leadingDecimal.FindStringSubmatch(raw)
	if match == nil {
		return nil
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return nil
	}
	return &value
}
