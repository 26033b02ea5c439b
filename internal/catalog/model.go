package catalog

import (
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// MetadataRow is one original spreadsheet row keyed by its source header.
type MetadataRow map[string]string

// MaterialCatalogItem is one SKU-level catalog record.
type MaterialCatalogItem struct {
	ID           uint                             `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	SKU          string                           `gorm:"column:sku;size:190;not null;uniqueIndex" json:"sku"`
	MaterialName string                           `gorm:"column:material_name;size:512;not null;index" json:"material_name"`
	Category     *string                          `gorm:"column:category;size:255" json:"category"`
	UnitPrice    float64                          `gorm:"column:unit_price;not null" json:"unit_price"`
	PurchaseCost float64                          `gorm:"column:purchase_cost;not null" json:"purchase_cost"`
	PartLength   *float64                         `gorm:"column:part_length" json:"part_length"`
	RawMetadata  datatypes.JSONSlice[MetadataRow] `gorm:"column:raw_metadata" json:"raw_metadata"`
	CreatedAt    time.Time                        `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time                        `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (MaterialCatalogItem) TableName() string {
	return "materials_catalog"
}

// ImportMode selects how an upload merges into the catalog.
type ImportMode string

const (
	// ImportReplace deletes the whole catalog before inserting the upload.
	ImportReplace ImportMode = "replace"
	// ImportAdd upserts the upload keyed on SKU.
	ImportAdd ImportMode = "add"
)

// ErrInvalidImportMode indicates a mode other than replace or add.
var ErrInvalidImportMode = errors.New("catalog: import mode must be replace or add")

// ParseImportMode validates an import mode string.
func ParseImportMode(raw string) (ImportMode, error) {
	switch ImportMode(strings.ToLower(strings.TrimSpace(raw))) {
	case ImportReplace:
		return ImportReplace, nil
	case ImportAdd:
		return ImportAdd, nil
	default:
		return "", ErrInvalidImportMode
	}
}

// ImportResult summarises a catalog import.
// Written counts the records committed, including batches written before a failure.
type ImportResult struct {
	Mode        ImportMode `json:"mode"`
	RowsParsed  int        `json:"rows_parsed"`
	RowsSkipped int        `json:"rows_skipped"`
	Records     int        `json:"records"`
	Written     int        `json:"written"`
	Batches     int        `json:"batches"`
}
