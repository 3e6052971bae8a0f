// Package postgres provides the Postgres-backed record store.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openbizdata/dircrawler/internal/crawler"
)

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// querier is the slice of pgxpool.Pool the store uses; pgxmock
// satisfies it in tests.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements crawler.RecordStore on Postgres. Detail and contact
// pages are keyed by URL with upsert semantics, so re-storing a crawled
// page is idempotent.
type Store struct {
	pool querier
}

// New connects a store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wires an existing pool; tests pass a pgxmock pool.
func NewWithPool(pool querier) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// DetailExists reports whether a detail page for url is already stored.
func (s *Store) DetailExists(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM detail_pages WHERE url = $1)`, url,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check detail existence: %w", err)
	}
	return exists, nil
}

// DetailExistsBatch checks many URLs in one round trip.
func (s *Store) DetailExistsBatch(ctx context.Context, urls []string) (map[string]bool, error) {
	result := make(map[string]bool, len(urls))
	if len(urls) == 0 {
		return result, nil
	}
	for _, url := range urls {
		result[url] = false
	}

	rows, err := s.pool.Query(ctx,
		`SELECT url FROM detail_pages WHERE url = ANY($1)`, urls,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to batch-check details: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("failed to scan existing url: %w", err)
		}
		result[url] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read existing urls: %w", err)
	}
	return result, nil
}

// StoreDetailHTML upserts a fetched detail page and returns its id.
func (s *Store) StoreDetailHTML(ctx context.Context, page crawler.DetailPage) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO detail_pages (company_name, url, industry, html, status, crawled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (url) DO UPDATE
		SET html = EXCLUDED.html, crawled_at = EXCLUDED.crawled_at
		RETURNING id`,
		page.CompanyName, page.URL, page.Industry, page.HTML, crawler.StatusPending, page.CrawledAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to store detail page: %w", err)
	}
	return id, nil
}

// PendingDetails returns up to limit detail pages awaiting extraction.
func (s *Store) PendingDetails(ctx context.Context, limit int) ([]crawler.DetailPage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, company_name, url, industry, html, crawled_at
		FROM detail_pages
		WHERE status = $1
		ORDER BY id
		LIMIT $2`,
		crawler.StatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending details: %w", err)
	}
	defer rows.Close()

	var pages []crawler.DetailPage
	for rows.Next() {
		var p crawler.DetailPage
		if err := rows.Scan(&p.ID, &p.CompanyName, &p.URL, &p.Industry, &p.HTML, &p.CrawledAt); err != nil {
			return nil, fmt.Errorf("failed to scan detail page: %w", err)
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pending details: %w", err)
	}
	return pages, nil
}

// UpdateDetailStatus transitions one detail page's status.
func (s *Store) UpdateDetailStatus(ctx context.Context, id int64, status crawler.RecordStatus) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE detail_pages SET status = $1 WHERE id = $2`, status, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update detail status: %w", err)
	}
	return nil
}

// StoreContactHTML upserts a fetched contact page and returns its id.
func (s *Store) StoreContactHTML(ctx context.Context, page crawler.ContactPage) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO contact_pages (company_name, url, url_type, html, status, crawled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (url) DO UPDATE
		SET html = EXCLUDED.html, crawled_at = EXCLUDED.crawled_at
		RETURNING id`,
		page.CompanyName, page.URL, page.URLType, page.HTML, crawler.StatusPending, page.CrawledAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to store contact page: %w", err)
	}
	return id, nil
}

// PendingContacts returns up to limit contact pages awaiting extraction.
func (s *Store) PendingContacts(ctx context.Context, limit int) ([]crawler.ContactPage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, company_name, url, url_type, html, crawled_at
		FROM contact_pages
		WHERE status = $1
		ORDER BY id
		LIMIT $2`,
		crawler.StatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending contacts: %w", err)
	}
	defer rows.Close()

	var pages []crawler.ContactPage
	for rows.Next() {
		var p crawler.ContactPage
		if err := rows.Scan(&p.ID, &p.CompanyName, &p.URL, &p.URLType, &p.HTML, &p.CrawledAt); err != nil {
			return nil, fmt.Errorf("failed to scan contact page: %w", err)
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pending contacts: %w", err)
	}
	return pages, nil
}

// UpdateContactStatus transitions one contact page's status.
func (s *Store) UpdateContactStatus(ctx context.Context, id int64, status crawler.RecordStatus) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE contact_pages SET status = $1 WHERE id = $2`, status, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update contact status: %w", err)
	}
	return nil
}

// StoreCompanyDetails upserts the structured extraction for a detail page.
func (s *Store) StoreCompanyDetails(ctx context.Context, d crawler.CompanyDetails) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO company_details
			(detail_id, name, url, industry, address, phone, website, facebook, linkedin, instagram, youtube)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (detail_id) DO UPDATE
		SET name = EXCLUDED.name, address = EXCLUDED.address, phone = EXCLUDED.phone,
			website = EXCLUDED.website, facebook = EXCLUDED.facebook, linkedin = EXCLUDED.linkedin,
			instagram = EXCLUDED.instagram, youtube = EXCLUDED.youtube`,
		d.DetailID, d.Name, d.URL, d.Industry, d.Address, d.Phone,
		d.Website, d.Facebook, d.LinkedIn, d.Instagram, d.YouTube,
	)
	if err != nil {
		return fmt.Errorf("failed to store company details: %w", err)
	}
	return nil
}

// CompaniesForContactCrawl returns companies that have a website or
// facebook URL and no stored contact page yet.
func (s *Store) CompaniesForContactCrawl(ctx context.Context, limit int) ([]crawler.CompanyDetails, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cd.detail_id, cd.name, cd.url, cd.industry, cd.address, cd.phone,
			cd.website, cd.facebook, cd.linkedin, cd.instagram, cd.youtube
		FROM company_details cd
		WHERE (cd.website <> '' OR cd.facebook <> '')
			AND NOT EXISTS (
				SELECT 1 FROM contact_pages cp
				WHERE cp.url = cd.website OR cp.url = cd.facebook
			)
		ORDER BY cd.detail_id
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list contact-crawl candidates: %w", err)
	}
	defer rows.Close()

	var companies []crawler.CompanyDetails
	for rows.Next() {
		var d crawler.CompanyDetails
		err := rows.Scan(&d.DetailID, &d.Name, &d.URL, &d.Industry, &d.Address, &d.Phone,
			&d.Website, &d.Facebook, &d.LinkedIn, &d.Instagram, &d.YouTube)
		if err != nil {
			return nil, fmt.Errorf("failed to scan company details: %w", err)
		}
		companies = append(companies, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read contact-crawl candidates: %w", err)
	}
	return companies, nil
}

// StoreEmailResult upserts the extracted emails for one contact page.
func (s *Store) StoreEmailResult(ctx context.Context, result crawler.EmailResult) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO email_results (contact_id, company_name, emails, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (contact_id) DO UPDATE
		SET emails = EXCLUDED.emails, source = EXCLUDED.source`,
		result.ContactID, result.CompanyName, result.Emails, result.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to store email result: %w", err)
	}
	return nil
}

// FinalRows joins company details with extracted emails for export.
// Companies without emails still appear with an empty email column.
func (s *Store) FinalRows(ctx context.Context) ([]crawler.FinalRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cd.industry, cd.name, cd.address, cd.phone, cd.website, cd.facebook,
			COALESCE(er.emails, '{}'), COALESCE(er.source, '')
		FROM company_details cd
		LEFT JOIN contact_pages cp ON cp.url = cd.website OR cp.url = cd.facebook
		LEFT JOIN email_results er ON er.contact_id = cp.id
		ORDER BY cd.industry, cd.name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query final rows: %w", err)
	}
	defer rows.Close()

	var result []crawler.FinalRow
	for rows.Next() {
		var row crawler.FinalRow
		var emails []string
		err := rows.Scan(&row.Industry, &row.Name, &row.Address, &row.Phone,
			&row.Website, &row.Facebook, &emails, &row.EmailSource)
		if err != nil {
			return nil, fmt.Errorf("failed to scan final row: %w", err)
		}
		if len(emails) > 0 {
			row.Email = emails[0]
			for _, email := range emails[1:] {
				result = append(result, crawler.FinalRow{
					Industry: row.Industry, Name: row.Name, Address: row.Address,
					Phone: row.Phone, Website: row.Website, Facebook: row.Facebook,
					Email: email, EmailSource: row.EmailSource,
				})
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read final rows: %w", err)
	}
	return result, nil
}

// Stats counts stored records per table.
func (s *Store) Stats(ctx context.Context) (crawler.StoreStats, error) {
	var stats crawler.StoreStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM detail_pages),
			(SELECT COUNT(*) FROM detail_pages WHERE status = 'pending'),
			(SELECT COUNT(*) FROM contact_pages),
			(SELECT COUNT(*) FROM contact_pages WHERE status = 'pending'),
			(SELECT COUNT(*) FROM company_details),
			(SELECT COUNT(*) FROM email_results)`,
	).Scan(
		&stats.DetailPages, &stats.DetailPending,
		&stats.ContactPages, &stats.ContactPending,
		&stats.CompanyDetails, &stats.EmailsExtracted,
	)
	if err != nil {
		return crawler.StoreStats{}, fmt.Errorf("failed to collect store stats: %w", err)
	}
	return stats, nil
}
