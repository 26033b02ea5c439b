package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"sort"

	"github.com/MarcoPoloResearchLab/fieldtrack/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opImport = "catalog.import"
	opList   = "catalog.list"
	opExport = "catalog.export"

	reasonInvalidMode    = "invalid_mode"
	reasonMissingColumns = "missing_columns"
	reasonEmptyFile      = "empty_file"
	reasonReadFailed     = "read_failed"
	reasonDeleteFailed   = "delete_failed"
	reasonWriteFailed    = "write_failed"
	reasonQueryFailed    = "query_failed"

	// BatchSize is the number of records written per statement.
	BatchSize = 100
)

var errMissingDatabase = errors.New("database handle is required")

// Service writes parsed catalogs into materials_catalog.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService constructs a catalog Service.
func NewService(db *gorm.DB, logger *zap.Logger) (*Service, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, logger: logger}, nil
}

// ImportUpload parses an uploaded file and merges it into the catalog.
// Header problems are reported before the catalog is touched.
func (s *Service) ImportUpload(ctx context.Context, mode ImportMode, filename string, body io.Reader) (ImportResult, error) {
	if _, err := ParseImportMode(string(mode)); err != nil {
		return ImportResult{}, apperr.Validation(opImport, reasonInvalidMode, err)
	}
	parsed, err := ReadUpload(body, filename)
	if err != nil {
		switch {
		case errors.Is(err, ErrMissingColumns):
			return ImportResult{Mode: mode}, apperr.Validation(opImport, reasonMissingColumns, err)
		case errors.Is(err, ErrEmptyFile):
			return ImportResult{Mode: mode}, apperr.Validation(opImport, reasonEmptyFile, err)
		default:
			return ImportResult{Mode: mode}, apperr.Validation(opImport, reasonReadFailed, err)
		}
	}
	return s.Import(ctx, mode, parsed)
}

// Import writes a parsed catalog in batches of BatchSize.
// Batches committed before a failing batch stay committed.
func (s *Service) Import(ctx context.Context, mode ImportMode, parsed ParsedCatalog) (ImportResult, error) {
	mode, err := ParseImportMode(string(mode))
	if err != nil {
		return ImportResult{}, apperr.Validation(opImport, reasonInvalidMode, err)
	}
	records := GroupBySKU(parsed.Rows)
	result := ImportResult{
		Mode:        mode,
		RowsParsed:  len(parsed.Rows),
		RowsSkipped: parsed.Skipped,
		Records:     len(records),
	}

	db := s.db.WithContext(ctx)
	if mode == ImportReplace {
		if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&MaterialCatalogItem{}).Error; err != nil {
			s.logError(opImport, reasonDeleteFailed, err, zap.String("mode", string(mode)))
			return result, apperr.New(opImport, reasonDeleteFailed, err)
		}
	}

	for start := 0; start < len(records); start += BatchSize {
		end := start + BatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]
		statement := db
		if mode == ImportAdd {
			statement = db.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "sku"}},
				UpdateAll: true,
			})
		}
		if err := statement.Create(&batch).Error; err != nil {
			s.logError(opImport, reasonWriteFailed, err,
				zap.String("mode", string(mode)),
				zap.Int("batch", result.Batches+1),
				zap.Int("written", result.Written))
			return result, apperr.New(opImport, reasonWriteFailed, err)
		}
		result.Batches++
		result.Written += len(batch)
	}

	s.logger.Info("catalog imported",
		zap.String("mode", string(mode)),
		zap.Int("records", result.Records),
		zap.Int("rows_skipped", result.RowsSkipped))
	return result, nil
}

// List returns the whole catalog ordered by material name.
func (s *Service) List(ctx context.Context) ([]MaterialCatalogItem, error) {
	var items []MaterialCatalogItem
	if err := s.db.WithContext(ctx).Order("material_name ASC").Order("sku ASC").Find(&items).Error; err != nil {
		s.logError(opList, reasonQueryFailed, err)
		return nil, apperr.New(opList, reasonQueryFailed, err)
	}
	return items, nil
}

// Export writes every preserved source row as CSV. Columns are the union of the
// source headers in sorted order.
func (s *Service) Export(ctx context.Context, w io.Writer) error {
	items, err := s.List(ctx)
	if err != nil {
		return err
	}

	headerSet := make(map[string]struct{})
	for _, item := range items {
		for _, row := range item.RawMetadata {
			for header := range row {
				headerSet[header] = struct{}{}
			}
		}
	}
	headers := make([]string, 0, len(headerSet))
	for header := range headerSet {
		headers = append(headers, header)
	}
	sort.Strings(headers)

	writer := csv.NewWriter(w)
	if err := writer.Write(headers); err != nil {
		return apperr.New(opExport, reasonWriteFailed, err)
	}
	record := make([]string, len(headers))
	for _, item := range items {
		for _, row := range item.RawMetadata {
			for i, header := range headers {
				record[i] = row[header]
			}
			if err := writer.Write(record); err != nil {
				return apperr.New(opExport, reasonWriteFailed, err)
			}
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		s.logError(opExport, reasonWriteFailed, err)
		return apperr.New(opExport, reasonWriteFailed, err)
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("catalog service error", attrs...)
}
