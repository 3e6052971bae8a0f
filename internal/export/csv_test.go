package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openbizdata/dircrawler/internal/crawler"
	"github.com/openbizdata/dircrawler/internal/storage/memory"
)

func TestWriteCSVFiltersValueFreeRows(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.StoreCompanyDetails(ctx, crawler.CompanyDetails{
		DetailID: 1,
		Name:     "Acme Co",
		Industry: "Retail",
		Address:  "12 Nguyen Hue",
		Phone:    "+84901234567",
		Website:  "https://acme.vn",
	}))
	// A shell record with nothing but a name gets dropped.
	require.NoError(t, store.StoreCompanyDetails(ctx, crawler.CompanyDetails{
		DetailID: 2,
		Name:     "Ghost Ltd",
	}))

	var buf bytes.Buffer
	written, err := WriteCSV(ctx, store, &buf, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 1, written)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2, "header plus one data row")
	require.Equal(t, header, records[0])
	require.Equal(t, "Acme Co", records[1][1])
	require.Equal(t, "N/A", records[1][6], "missing email renders as N/A")
}

func TestWriteCSVOneRowPerEmail(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.StoreCompanyDetails(ctx, crawler.CompanyDetails{
		DetailID: 1,
		Name:     "Acme Co",
		Industry: "Retail",
		Address:  "12 Nguyen Hue",
		Phone:    "+84901234567",
		Website:  "https://acme.vn",
	}))
	contactID, err := store.StoreContactHTML(ctx, crawler.ContactPage{URL: "https://acme.vn"})
	require.NoError(t, err)
	require.NoError(t, store.StoreEmailResult(ctx, crawler.EmailResult{
		ContactID: contactID,
		Emails:    []string{"info@acme.vn", "sales@acme.vn"},
		Source:    "website",
	}))

	var buf bytes.Buffer
	written, err := WriteCSV(ctx, store, &buf, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 2, written)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Equal(t, "info@acme.vn", records[1][6])
	require.Equal(t, "sales@acme.vn", records[2][6])
}

func TestWriteCSVFile(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.StoreCompanyDetails(ctx, crawler.CompanyDetails{
		DetailID: 1, Name: "Acme", Industry: "Retail", Address: "1 Main", Phone: "+84901234567", Website: "https://acme.vn",
	}))

	path := t.TempDir() + "/out.csv"
	written, err := WriteCSVFile(ctx, store, path, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 1, written)
	require.FileExists(t, path)
}
