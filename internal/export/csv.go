// Package export writes the final joined dataset to CSV.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/openbizdata/dircrawler/internal/crawler"
)

var header = []string{"industry", "company_name", "address", "phone", "website", "facebook", "email", "email_source"}

// naThreshold drops rows where more than this share of the value
// columns carry no data. Such rows are extraction misses, not
// companies.
const naThreshold = 0.7

// WriteCSV renders rows from the store to w, filtering value-free rows.
// It returns how many rows were written.
func WriteCSV(ctx context.Context, store crawler.RecordStore, w io.Writer, logger *zap.Logger) (int, error) {
	rows, err := store.FinalRows(ctx)
	if err != nil {
		return 0, fmt.Errorf("load final rows: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}

	written := 0
	dropped := 0
	for _, row := range rows {
		if mostlyEmpty(row) {
			dropped++
			continue
		}
		record := []string{
			orNA(row.Industry), orNA(row.Name), orNA(row.Address), orNA(row.Phone),
			orNA(row.Website), orNA(row.Facebook), orNA(row.Email), orNA(row.EmailSource),
		}
		if err := cw.Write(record); err != nil {
			return written, fmt.Errorf("write csv row for %q: %w", row.Name, err)
		}
		written++
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return written, fmt.Errorf("flush csv: %w", err)
	}

	logger.Info("export complete", zap.Int("rows", written), zap.Int("dropped", dropped))
	return written, nil
}

// WriteCSVFile writes the export to path.
func WriteCSVFile(ctx context.Context, store crawler.RecordStore, path string, logger *zap.Logger) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create export file %s: %w", path, err)
	}
	defer f.Close()

	n, err := WriteCSV(ctx, store, f, logger)
	if err != nil {
		return n, err
	}
	if err := f.Sync(); err != nil {
		return n, fmt.Errorf("sync export file %s: %w", path, err)
	}
	return n, nil
}

// mostlyEmpty checks the value columns (everything but the name) for
// missing data.
func mostlyEmpty(row crawler.FinalRow) bool {
	values := []string{row.Industry, row.Address, row.Phone, row.Website, row.Facebook, row.Email, row.EmailSource}
	empty := 0
	for _, v := range values {
		if v == "" || v == "N/A" {
			empty++
		}
	}
	return float64(empty)/float64(len(values)) > naThreshold
}

func orNA(v string) string {
	if v == "" {
		return "N/A"
	}
	return v
}
