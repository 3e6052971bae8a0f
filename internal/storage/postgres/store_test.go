package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/openbizdata/dircrawler/internal/crawler"
)

func TestStoreDetailHTMLUpsertsAndReturnsID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithPool(mock)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("INSERT INTO detail_pages").
		WithArgs("Acme Co", "https://example.com/c/acme", "Retail", "<html/>", crawler.StatusPending, now).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := store.StoreDetailHTML(context.Background(), crawler.DetailPage{
		CompanyName: "Acme Co",
		URL:         "https://example.com/c/acme",
		Industry:    "Retail",
		HTML:        "<html/>",
		CrawledAt:   now,
	})
	require.NoError(t, err)
	require.Equal(t, int64(7), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDetailExistsBatch(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithPool(mock)
	urls := []string{"https://example.com/a", "https://example.com/b"}

	mock.ExpectQuery("SELECT url FROM detail_pages").
		WithArgs(urls).
		WillReturnRows(pgxmock.NewRows([]string{"url"}).AddRow("https://example.com/b"))

	existing, err := store.DetailExistsBatch(context.Background(), urls)
	require.NoError(t, err)
	require.Equal(t, map[string]bool{
		"https://example.com/a": false,
		"https://example.com/b": true,
	}, existing)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDetailExistsBatchEmptyInput(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	existing, err := NewWithPool(mock).DetailExistsBatch(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, existing)
	require.NoError(t, mock.ExpectationsWereMet(), "no query for an empty batch")
}

func TestPendingDetails(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithPool(mock)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT id, company_name, url, industry, html, crawled_at").
		WithArgs(crawler.StatusPending, 10).
		WillReturnRows(pgxmock.
			NewRows([]string{"id", "company_name", "url", "industry", "html", "crawled_at"}).
			AddRow(int64(1), "Acme Co", "https://example.com/c/acme", "Retail", "<html/>", now))

	pages, err := store.PendingDetails(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.Equal(t, "Acme Co", pages[0].CompanyName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDetailStatus(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE detail_pages SET status").
		WithArgs(crawler.StatusProcessed, int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = NewWithPool(mock).UpdateDetailStatus(context.Background(), 3, crawler.StatusProcessed)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreCompanyDetailsWrapsFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO company_details").
		WillReturnError(errors.New("connection refused"))

	err = NewWithPool(mock).StoreCompanyDetails(context.Background(), crawler.CompanyDetails{DetailID: 1, Name: "Acme"})
	require.ErrorContains(t, err, "failed to store company details")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalRowsExpandsMultipleEmails(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT cd.industry, cd.name").
		WillReturnRows(pgxmock.
			NewRows([]string{"industry", "name", "address", "phone", "website", "facebook", "emails", "source"}).
			AddRow("Retail", "Acme Co", "1 Main St", "+84901234567", "https://acme.vn", "",
				[]string{"info@acme.vn", "sales@acme.vn"}, "website").
			AddRow("Retail", "Beta Ltd", "", "", "", "", []string{}, ""))

	rows, err := NewWithPool(mock).FinalRows(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 3, "two emails for Acme plus one empty row for Beta")

	emails := map[string]bool{}
	for _, row := range rows {
		if row.Name == "Acme Co" {
			emails[row.Email] = true
		}
	}
	require.True(t, emails["info@acme.vn"])
	require.True(t, emails["sales@acme.vn"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStats(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT").
		WillReturnRows(pgxmock.
			NewRows([]string{"d", "dp", "c", "cp", "cd", "er"}).
			AddRow(100, 20, 60, 5, 80, 40))

	stats, err := NewWithPool(mock).Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, crawler.StoreStats{
		DetailPages:     100,
		DetailPending:   20,
		ContactPages:    60,
		ContactPending:  5,
		CompanyDetails:  80,
		EmailsExtracted: 40,
	}, stats)
	require.NoError(t, mock.ExpectationsWereMet())
}
