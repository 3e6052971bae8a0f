package crawler

import (
	"context"
)

// RecordStore persists crawl artifacts between pipeline phases. The
// store is treated as an idempotent upsert layer: storing the same
// detail URL twice must not create a second record.
type RecordStore interface {
	DetailExists(ctx context.Context, url string) (bool, error)
	DetailExistsBatch(ctx context.Context, urls []string) (map[string]bool, error)
	StoreDetailHTML(ctx context.Context, page DetailPage) (int64, error)
	PendingDetails(ctx context.Context, limit int) ([]DetailPage, error)
	UpdateDetailStatus(ctx context.Context, id int64, status RecordStatus) error

	StoreContactHTML(ctx context.Context, page ContactPage) (int64, error)
	PendingContacts(ctx context.Context, limit int) ([]ContactPage, error)
	UpdateContactStatus(ctx context.Context, id int64, status RecordStatus) error

	StoreCompanyDetails(ctx context.Context, details CompanyDetails) error
	CompaniesForContactCrawl(ctx context.Context, limit int) ([]CompanyDetails, error)
	StoreEmailResult(ctx context.Context, result EmailResult) error

	FinalRows(ctx context.Context) ([]FinalRow, error)
	Stats(ctx context.Context) (StoreStats, error)
}

