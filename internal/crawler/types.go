// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"
)

// Industry is one entry of the directory's industry filter, enumerated
// once per crawl run.
type Industry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LinkRecord is the normalized form of one discovered company link,
// persisted in checkpoint files between the link and detail phases.
type LinkRecord struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Industry string `json:"industry"`
}

// RecordStatus tracks the processing state of a stored HTML page.
type RecordStatus string

// Record status values persisted in the record store.
const (
	StatusPending   RecordStatus = "pending"
	StatusProcessed RecordStatus = "processed"
	StatusFailed    RecordStatus = "failed"
)

// DetailPage is a fetched company detail page awaiting extraction.
type DetailPage struct {
	ID          int64     `json:"id"`
	CompanyName string    `json:"company_name"`
	URL         string    `json:"url"`
	Industry    string    `json:"industry"`
	HTML        string    `json:"-"`
	CrawledAt   time.Time `json:"crawled_at"`
}

// ContactURLType distinguishes the origin of a contact page.
type ContactURLType string

// Contact URL types.
const (
	ContactWebsite  ContactURLType = "website"
	ContactFacebook ContactURLType = "facebook"
)

// ContactPage is a fetched contact page (company website or facebook)
// awaiting email extraction.
type ContactPage struct {
	ID          int64          `json:"id"`
	CompanyName string         `json:"company_name"`
	URL         string         `json:"url"`
	URLType     ContactURLType `json:"url_type"`
	HTML        string         `json:"-"`
	CrawledAt   time.Time      `json:"crawled_at"`
}

// CompanyDetails holds the structured fields extracted from one detail page.
type CompanyDetails struct {
	DetailID  int64  `json:"detail_id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Industry  string `json:"industry"`
	Address   string `json:"address"`
	Phone     string `json:"phone"`
	Website   string `json:"website"`
	Facebook  string `json:"facebook"`
	LinkedIn  string `json:"linkedin"`
	Instagram string `json:"instagram"`
	YouTube   string `json:"youtube"`
}

// EmailResult records the emails extracted for one contact page.
type EmailResult struct {
	ContactID   int64    `json:"contact_id"`
	CompanyName string   `json:"company_name"`
	Emails      []string `json:"emails"`
	Source      string   `json:"source"`
}

// FinalRow is one exported row joining details and extracted emails.
type FinalRow struct {
	Industry    string
	Name        string
	Address     string
	Phone       string
	Website     string
	Facebook    string
	Email       string
	EmailSource string
}

// StoreStats summarizes record-store contents for observability.
type StoreStats struct {
	DetailPages     int `json:"detail_pages"`
	DetailPending   int `json:"detail_pending"`
	ContactPages    int `json:"contact_pages"`
	ContactPending  int `json:"contact_pending"`
	CompanyDetails  int `json:"company_details"`
	EmailsExtracted int `json:"emails_extracted"`
}
