// Package payments turns extracted CSV files into canonical payment
// records. Column names are configuration, not struct tags: the bank can
// rename headers without a code change.
package payments

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/sirupsen/logrus"

	"github.com/kodjooo/email-payment-processor/internal/dateutils"
	"github.com/kodjooo/email-payment-processor/internal/models"
	"github.com/kodjooo/email-payment-processor/internal/moneyutils"
	"github.com/kodjooo/email-payment-processor/internal/procerror"
)

var log = logrus.New()

// SetLogger sets a custom logger for this package.
func SetLogger(logger *logrus.Logger) {
	if logger != nil {
		log = logger
	}
}

// ColumnMap names the CSV headers that carry each canonical payment field.
// Validated once at startup, not resolved ad hoc per row.
type ColumnMap struct {
	TransactionID string
	CustomerID    string
	Amount        string
	Date          string
	Purpose       string
}

// Validate checks that every required mapping is configured. Purpose is
// optional.
func (m ColumnMap) Validate() error {
	required := map[string]string{
		"transaction id": m.TransactionID,
		"customer id":    m.CustomerID,
		"amount":         m.Amount,
		"date":           m.Date,
	}
	for name, column := range required {
		if strings.TrimSpace(column) == "" {
			return fmt.Errorf("column mapping for %s is not configured", name)
		}
	}
	return nil
}

// required returns the header names that must be present in a file.
func (m ColumnMap) required() []string {
	return []string{m.TransactionID, m.CustomerID, m.Amount, m.Date}
}

// Extractor parses CSV files into payment records.
type Extractor struct {
	FilterColumn    string
	FilterValue     string
	Columns         ColumnMap
	DefaultCurrency string
}

// New creates an extractor for the configured filter and column mapping.
func New(filterColumn, filterValue string, columns ColumnMap, defaultCurrency string) *Extractor {
	return &Extractor{
		FilterColumn:    filterColumn,
		FilterValue:     filterValue,
		Columns:         columns,
		DefaultCurrency: defaultCurrency,
	}
}

// ExtractPayments parses one CSV file. It returns the records in source-row
// order together with the number of rows skipped for unparseable values.
// A missing required column yields a SchemaMismatchError for this file only.
func (e *Extractor) ExtractPayments(csvPath string) ([]models.PaymentRecord, int, error) {
	if err := e.validateHeader(csvPath); err != nil {
		return nil, 0, err
	}

	file, err := os.Open(csvPath) // #nosec G304 -- paths come from the cycle's own scratch dir
	if err != nil {
		return nil, 0, fmt.Errorf("error opening CSV file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.WithError(err).Warn("Failed to close file")
		}
	}()

	rows, err := gocsv.CSVToMaps(file)
	if err != nil {
		return nil, 0, fmt.Errorf("error parsing CSV file %s: %w", csvPath, err)
	}

	sourceFile := filepath.Base(csvPath)
	var records []models.PaymentRecord
	skipped := 0

	for i, row := range rows {
		row = trimKeys(row)
		if strings.TrimSpace(row[e.FilterColumn]) != e.FilterValue {
			continue
		}

		rawAmount := row[e.Columns.Amount]
		amount, err := moneyutils.ParseAmount(rawAmount)
		if err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"file": sourceFile,
				"row":  i + 1,
			}).Warn("Skipping row with unparseable amount")
			skipped++
			continue
		}

		isoDate, err := dateutils.NormalizeToISO(row[e.Columns.Date])
		if err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"file": sourceFile,
				"row":  i + 1,
			}).Warn("Skipping row with unparseable date")
			skipped++
			continue
		}

		records = append(records, models.PaymentRecord{
			TransactionID: strings.TrimSpace(row[e.Columns.TransactionID]),
			CustomerID:    strings.TrimSpace(row[e.Columns.CustomerID]),
			Amount:        amount.Abs(),
			Currency:      moneyutils.DetectCurrency(rawAmount, e.DefaultCurrency),
			Date:          isoDate,
			Purpose:       strings.TrimSpace(row[e.Columns.Purpose]),
			SourceFile:    sourceFile,
		})
	}

	log.WithFields(logrus.Fields{
		"file":    sourceFile,
		"records": len(records),
		"skipped": skipped,
	}).Info("Extracted payment records from CSV")
	return records, skipped, nil
}

// trimKeys strips header padding from a row's keys so configured column
// names resolve the same way validateHeader matched them.
func trimKeys(row map[string]string) map[string]string {
	trimmed := make(map[string]string, len(row))
	for k, v := range row {
		trimmed[strings.TrimSpace(k)] = v
	}
	return trimmed
}

// validateHeader reads only the header row and checks the required mapped
// columns plus the filter column are present.
func (e *Extractor) validateHeader(csvPath string) error {
	file, err := os.Open(csvPath) // #nosec G304 -- paths come from the cycle's own scratch dir
	if err != nil {
		return fmt.Errorf("error opening CSV file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.WithError(err).Warn("Failed to close file")
		}
	}()

	header, err := csv.NewReader(file).Read()
	if err != nil {
		return &procerror.ExtractionError{Archive: csvPath, Err: err}
	}

	present := make(map[string]bool, len(header))
	for _, col := range header {
		present[strings.TrimSpace(col)] = true
	}

	for _, col := range append(e.Columns.required(), e.FilterColumn) {
		if !present[col] {
			return &procerror.SchemaMismatchError{FilePath: csvPath, Column: col}
		}
	}
	return nil
}
