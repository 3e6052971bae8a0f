// Package memory provides an in-memory record store for tests and dry
// runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/openbizdata/dircrawler/internal/crawler"
)

// Store implements crawler.RecordStore with maps under a mutex. It
// mirrors the Postgres store's upsert semantics: pages are keyed by URL
// and extractions by their parent record id.
type Store struct {
	mu sync.Mutex

	nextID     int64
	detailIDs  map[string]int64
	details    map[int64]crawler.DetailPage
	detailSt   map[int64]crawler.RecordStatus
	contactIDs map[string]int64
	contacts   map[int64]crawler.ContactPage
	contactSt  map[int64]crawler.RecordStatus
	companies  map[int64]crawler.CompanyDetails
	emails     map[int64]crawler.EmailResult
}

// New constructs an empty store.
func New() *Store {
	return &Store{
		nextID:     1,
		detailIDs:  make(map[string]int64),
		details:    make(map[int64]crawler.DetailPage),
		detailSt:   make(map[int64]crawler.RecordStatus),
		contactIDs: make(map[string]int64),
		contacts:   make(map[int64]crawler.ContactPage),
		contactSt:  make(map[int64]crawler.RecordStatus),
		companies:  make(map[int64]crawler.CompanyDetails),
		emails:     make(map[int64]crawler.EmailResult),
	}
}

// DetailExists reports whether a detail page for url is stored.
func (s *Store) DetailExists(ctx context.Context, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.detailIDs[url]
	return ok, nil
}

// DetailExistsBatch checks many URLs at once.
func (s *Store) DetailExistsBatch(ctx context.Context, urls []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[string]bool, len(urls))
	for _, url := range urls {
		_, ok := s.detailIDs[url]
		result[url] = ok
	}
	return result, nil
}

// StoreDetailHTML upserts a detail page by URL.
func (s *Store) StoreDetailHTML(ctx context.Context, page crawler.DetailPage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.detailIDs[page.URL]
	if !ok {
		id = s.nextID
		s.nextID++
		s.detailIDs[page.URL] = id
		s.detailSt[id] = crawler.StatusPending
	}
	page.ID = id
	s.details[id] = page
	return id, nil
}

// PendingDetails lists detail pages still awaiting extraction.
func (s *Store) PendingDetails(ctx context.Context, limit int) ([]crawler.DetailPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pages []crawler.DetailPage
	for id, status := range s.detailSt {
		if status == crawler.StatusPending {
			pages = append(pages, s.details[id])
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].ID < pages[j].ID })
	if limit > 0 && len(pages) > limit {
		pages = pages[:limit]
	}
	return pages, nil
}

// UpdateDetailStatus transitions one detail page.
func (s *Store) UpdateDetailStatus(ctx context.Context, id int64, status crawler.RecordStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detailSt[id] = status
	return nil
}

// StoreContactHTML upserts a contact page by URL.
func (s *Store) StoreContactHTML(ctx context.Context, page crawler.ContactPage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.contactIDs[page.URL]
	if !ok {
		id = s.nextID
		s.nextID++
		s.contactIDs[page.URL] = id
		s.contactSt[id] = crawler.StatusPending
	}
	page.ID = id
	s.contacts[id] = page
	return id, nil
}

// PendingContacts lists contact pages still awaiting email extraction.
func (s *Store) PendingContacts(ctx context.Context, limit int) ([]crawler.ContactPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pages []crawler.ContactPage
	for id, status := range s.contactSt {
		if status == crawler.StatusPending {
			pages = append(pages, s.contacts[id])
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].ID < pages[j].ID })
	if limit > 0 && len(pages) > limit {
		pages = pages[:limit]
	}
	return pages, nil
}

// UpdateContactStatus transitions one contact page.
func (s *Store) UpdateContactStatus(ctx context.Context, id int64, status crawler.RecordStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contactSt[id] = status
	return nil
}

// StoreCompanyDetails upserts the structured extraction by detail id.
func (s *Store) StoreCompanyDetails(ctx context.Context, details crawler.CompanyDetails) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.companies[details.DetailID] = details
	return nil
}

// CompaniesForContactCrawl lists companies with a website or facebook
// URL whose contact page has not been stored yet.
func (s *Store) CompaniesForContactCrawl(ctx context.Context, limit int) ([]crawler.CompanyDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var companies []crawler.CompanyDetails
	for _, d := range s.companies {
		if d.Website == "" && d.Facebook == "" {
			continue
		}
		if _, ok := s.contactIDs[d.Website]; ok && d.Website != "" {
			continue
		}
		if _, ok := s.contactIDs[d.Facebook]; ok && d.Facebook != "" {
			continue
		}
		companies = append(companies, d)
	}
	sort.Slice(companies, func(i, j int) bool { return companies[i].DetailID < companies[j].DetailID })
	if limit > 0 && len(companies) > limit {
		companies = companies[:limit]
	}
	return companies, nil
}

// StoreEmailResult upserts the extracted emails by contact id.
func (s *Store) StoreEmailResult(ctx context.Context, result crawler.EmailResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emails[result.ContactID] = result
	return nil
}

// FinalRows joins companies with their extracted emails, one row per
// email, plus an empty-email row for companies without any.
func (s *Store) FinalRows(ctx context.Context) ([]crawler.FinalRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.companies))
	for id := range s.companies {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var rows []crawler.FinalRow
	for _, id := range ids {
		d := s.companies[id]
		base := crawler.FinalRow{
			Industry: d.Industry,
			Name:     d.Name,
			Address:  d.Address,
			Phone:    d.Phone,
			Website:  d.Website,
			Facebook: d.Facebook,
		}
		result, ok := s.emailsForCompanyLocked(d)
		if !ok || len(result.Emails) == 0 {
			rows = append(rows, base)
			continue
		}
		for _, email := range result.Emails {
			row := base
			row.Email = email
			row.EmailSource = result.Source
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (s *Store) emailsForCompanyLocked(d crawler.CompanyDetails) (crawler.EmailResult, bool) {
	for _, url := range []string{d.Website, d.Facebook} {
		if url == "" {
			continue
		}
		contactID, ok := s.contactIDs[url]
		if !ok {
			continue
		}
		if result, ok := s.emails[contactID]; ok {
			return result, true
		}
	}
	return crawler.EmailResult{}, false
}

// Stats counts stored records.
func (s *Store) Stats(ctx context.Context) (crawler.StoreStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := crawler.StoreStats{
		DetailPages:     len(s.details),
		ContactPages:    len(s.contacts),
		CompanyDetails:  len(s.companies),
		EmailsExtracted: len(s.emails),
	}
	for _, status := range s.detailSt {
		if status == crawler.StatusPending {
			stats.DetailPending++
		}
	}
	for _, status := range s.contactSt {
		if status == crawler.StatusPending {
			stats.ContactPending++
		}
	}
	return stats, nil
}
