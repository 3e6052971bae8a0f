// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/openbizdata/dircrawler/internal/browser"
	"github.com/openbizdata/dircrawler/internal/crawler"
	"github.com/openbizdata/dircrawler/internal/extract"
	"github.com/openbizdata/dircrawler/internal/fetch"
	"github.com/openbizdata/dircrawler/internal/health"
	"github.com/openbizdata/dircrawler/internal/links"
	"github.com/openbizdata/dircrawler/internal/pipeline"
	"github.com/openbizdata/dircrawler/internal/storage/postgres"
	"github.com/openbizdata/dircrawler/internal/tasks"
)

// Config captures all crawler configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	DB        DBConfig        `mapstructure:"db"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Links     LinksConfig     `mapstructure:"links"`
	Selectors SelectorsConfig `mapstructure:"selectors"`
	Contacts  ContactsConfig  `mapstructure:"contacts"`
	Health    HealthConfig    `mapstructure:"health"`
	Tasks     TasksConfig     `mapstructure:"tasks"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
}

// LoggingConfig toggles zap development features and file rotation.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
}

// ServerConfig controls the operational HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the record store. An empty DSN selects
// the in-memory store.
type DBConfig struct {
	DSN                string `mapstructure:"dsn"`
	MaxConns           int    `mapstructure:"max_conns"`
	MinConns           int    `mapstructure:"min_conns"`
	MaxConnLifetimeMin int    `mapstructure:"max_conn_lifetime_minutes"`
}

// BrowserConfig sizes the browser pool.
type BrowserConfig struct {
	MaxBrowsers int `mapstructure:"max_browsers"`
}

// BreakerConfig tunes the per-industry circuit breakers.
type BreakerConfig struct {
	FailureThreshold   int `mapstructure:"failure_threshold"`
	RecoveryTimeoutSec int `mapstructure:"recovery_timeout_seconds"`
}

// LinksConfig governs the link collection engine.
type LinksConfig struct {
	Concurrency       int     `mapstructure:"concurrency"`
	WorkerRetries     int     `mapstructure:"worker_retries"`
	WorkerBackoffSec  int     `mapstructure:"worker_backoff_seconds"`
	PageTimeoutSec    int     `mapstructure:"page_timeout_seconds"`
	FilterTimeoutSec  int     `mapstructure:"filter_timeout_seconds"`
	EmptyPageStreak   int     `mapstructure:"empty_page_streak"`
	DetailTimeoutSec  int     `mapstructure:"detail_timeout_seconds"`
	DetailMaxRetries  int     `mapstructure:"detail_max_retries"`
	DetailBackoffSec  int     `mapstructure:"detail_backoff_seconds"`
	DetailSettleMilli int     `mapstructure:"detail_settle_ms"`
	DetailRPS         float64 `mapstructure:"detail_rps"`
	DetailBurst       int     `mapstructure:"detail_burst"`
}

// SelectorsConfig holds the CSS selectors for the listing filter UI
// and the company detail pages.
type SelectorsConfig struct {
	Listing ListingSelectors `mapstructure:"listing"`
	Detail  DetailSelectors  `mapstructure:"detail"`
}

// ListingSelectors locate the industry filter widget and result links.
type ListingSelectors struct {
	IndustryDropdown string `mapstructure:"industry_dropdown"`
	DropdownSearch   string `mapstructure:"dropdown_search"`
	DropdownResults  string `mapstructure:"dropdown_results"`
	DropdownOption   string `mapstructure:"dropdown_option"`
	ApplyButton      string `mapstructure:"apply_button"`
	CompanyLink      string `mapstructure:"company_link"`
	PaginationItem   string `mapstructure:"pagination_item"`
}

// DetailSelectors locate structured fields on a detail page.
type DetailSelectors struct {
	Name            string `mapstructure:"name"`
	Address         string `mapstructure:"address"`
	AddressFallback string `mapstructure:"address_fallback"`
	Phone           string `mapstructure:"phone"`
	Website         string `mapstructure:"website"`
	SocialLinks     string `mapstructure:"social_links"`
}

// ContactsConfig governs the colly contact-page crawler.
type ContactsConfig struct {
	TimeoutSec       int      `mapstructure:"timeout_seconds"`
	DelayMilli       int      `mapstructure:"delay_ms"`
	RandomDelayMilli int      `mapstructure:"random_delay_ms"`
	Parallelism      int      `mapstructure:"parallelism"`
	DeepPaths        []string `mapstructure:"deep_paths"`
	FacebookVariants []string `mapstructure:"facebook_variants"`
}

// HealthConfig sets monitor thresholds.
type HealthConfig struct {
	MaxMemoryMB   float64 `mapstructure:"max_memory_mb"`
	MaxCPUPercent float64 `mapstructure:"max_cpu_percent"`
	MaxTasks      int     `mapstructure:"max_tasks"`
	MaxBrowsers   int     `mapstructure:"max_browsers"`
	MaxContexts   int     `mapstructure:"max_contexts"`
}

// TasksConfig sizes the task runner.
type TasksConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// PipelineConfig drives phase sizing and the export target.
type PipelineConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	WaveSize          int    `mapstructure:"wave_size"`
	LinkTimeoutSec    int    `mapstructure:"link_timeout_seconds"`
	RetryTimeoutSec   int    `mapstructure:"retry_timeout_seconds"`
	MinLinks          int    `mapstructure:"min_links"`
	DetailTimeoutSec  int    `mapstructure:"detail_timeout_seconds"`
	ContactTimeoutSec int    `mapstructure:"contact_timeout_seconds"`
	BatchSize         int    `mapstructure:"batch_size"`
	CheckpointDir     string `mapstructure:"checkpoint_dir"`
	ExportPath        string `mapstructure:"export_path"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DIRCRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("browser.max_browsers", 3)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.recovery_timeout_seconds", 60)
	v.SetDefault("links.concurrency", 6)
	v.SetDefault("links.worker_retries", 3)
	v.SetDefault("links.worker_backoff_seconds", 2)
	v.SetDefault("links.page_timeout_seconds", 30)
	v.SetDefault("links.filter_timeout_seconds", 60)
	v.SetDefault("links.empty_page_streak", 2)
	v.SetDefault("links.detail_timeout_seconds", 30)
	v.SetDefault("links.detail_max_retries", 2)
	v.SetDefault("links.detail_backoff_seconds", 2)
	v.SetDefault("links.detail_settle_ms", 500)
	v.SetDefault("links.detail_rps", 2.0)
	v.SetDefault("links.detail_burst", 2)

	listing := links.DefaultSelectors()
	v.SetDefault("selectors.listing.industry_dropdown", listing.IndustryDropdown)
	v.SetDefault("selectors.listing.dropdown_search", listing.DropdownSearch)
	v.SetDefault("selectors.listing.dropdown_results", listing.DropdownResults)
	v.SetDefault("selectors.listing.dropdown_option", listing.DropdownOption)
	v.SetDefault("selectors.listing.apply_button", listing.ApplyButton)
	v.SetDefault("selectors.listing.company_link", listing.CompanyLink)
	v.SetDefault("selectors.listing.pagination_item", listing.PaginationItem)

	detail := extract.DefaultDetailSelectors()
	v.SetDefault("selectors.detail.name", detail.Name)
	v.SetDefault("selectors.detail.address", detail.Address)
	v.SetDefault("selectors.detail.address_fallback", detail.AddressFallback)
	v.SetDefault("selectors.detail.phone", detail.Phone)
	v.SetDefault("selectors.detail.website", detail.Website)
	v.SetDefault("selectors.detail.social_links", detail.SocialLinks)

	v.SetDefault("contacts.timeout_seconds", 20)
	v.SetDefault("contacts.delay_ms", 1000)
	v.SetDefault("contacts.random_delay_ms", 1000)
	v.SetDefault("contacts.parallelism", 2)
	v.SetDefault("health.max_memory_mb", 2048)
	v.SetDefault("health.max_cpu_percent", 85)
	v.SetDefault("health.max_tasks", 50)
	v.SetDefault("health.max_browsers", 5)
	v.SetDefault("health.max_contexts", 20)
	v.SetDefault("tasks.workers", 4)
	v.SetDefault("tasks.queue_size", 64)
	v.SetDefault("pipeline.wave_size", 5)
	v.SetDefault("pipeline.link_timeout_seconds", 300)
	v.SetDefault("pipeline.retry_timeout_seconds", 600)
	v.SetDefault("pipeline.min_links", 10)
	v.SetDefault("pipeline.detail_timeout_seconds", 90)
	v.SetDefault("pipeline.contact_timeout_seconds", 60)
	v.SetDefault("pipeline.batch_size", 50)
	v.SetDefault("pipeline.checkpoint_dir", "checkpoints")
	v.SetDefault("pipeline.export_path", "companies.csv")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Browser.MaxBrowsers <= 0 {
		return fmt.Errorf("browser.max_browsers must be > 0")
	}
	if c.Links.Concurrency <= 0 {
		return fmt.Errorf("links.concurrency must be > 0")
	}
	if c.Links.EmptyPageStreak <= 0 {
		return fmt.Errorf("links.empty_page_streak must be > 0")
	}
	if c.Tasks.Workers <= 0 {
		return fmt.Errorf("tasks.workers must be > 0")
	}
	if c.Pipeline.BaseURL != "" {
		u, err := url.Parse(c.Pipeline.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("pipeline.base_url %q is not an absolute URL", c.Pipeline.BaseURL)
		}
	}
	if sel := c.Selectors.Listing; sel.IndustryDropdown == "" || sel.CompanyLink == "" || sel.PaginationItem == "" {
		return fmt.Errorf("selectors.listing requires industry_dropdown, company_link and pagination_item")
	}
	if sel := c.Selectors.Detail; sel.Name == "" {
		return fmt.Errorf("selectors.detail.name is required")
	}
	return nil
}

// PoolConfig converts to the browser pool's own config type.
func (c Config) PoolConfig() browser.PoolConfig {
	return browser.PoolConfig{MaxBrowsers: c.Browser.MaxBrowsers}
}

// BreakerSettings converts to the circuit breaker config.
func (c Config) BreakerSettings() crawler.BreakerConfig {
	return crawler.BreakerConfig{
		FailureThreshold: c.Breaker.FailureThreshold,
		RecoveryTimeout:  time.Duration(c.Breaker.RecoveryTimeoutSec) * time.Second,
	}
}

// LinksSettings converts to the link engine config.
func (c Config) LinksSettings() links.Config {
	return links.Config{
		Concurrency:     c.Links.Concurrency,
		WorkerRetries:   c.Links.WorkerRetries,
		WorkerBackoff:   time.Duration(c.Links.WorkerBackoffSec) * time.Second,
		PageTimeout:     time.Duration(c.Links.PageTimeoutSec) * time.Second,
		FilterTimeout:   time.Duration(c.Links.FilterTimeoutSec) * time.Second,
		EmptyPageStreak: c.Links.EmptyPageStreak,
	}
}

// ListingSelectorSet converts to the chromedp driver selectors.
func (c Config) ListingSelectorSet() links.Selectors {
	sel := c.Selectors.Listing
	return links.Selectors{
		IndustryDropdown: sel.IndustryDropdown,
		DropdownSearch:   sel.DropdownSearch,
		DropdownResults:  sel.DropdownResults,
		DropdownOption:   sel.DropdownOption,
		ApplyButton:      sel.ApplyButton,
		CompanyLink:      sel.CompanyLink,
		PaginationItem:   sel.PaginationItem,
	}
}

// DetailSelectorSet converts to the extraction selectors.
func (c Config) DetailSelectorSet() extract.DetailSelectors {
	sel := c.Selectors.Detail
	return extract.DetailSelectors{
		Name:            sel.Name,
		Address:         sel.Address,
		AddressFallback: sel.AddressFallback,
		Phone:           sel.Phone,
		Website:         sel.Website,
		SocialLinks:     sel.SocialLinks,
	}
}

// DetailFetchSettings converts to the chromedp detail fetcher config.
func (c Config) DetailFetchSettings() fetch.DetailConfig {
	return fetch.DetailConfig{
		Timeout:    time.Duration(c.Links.DetailTimeoutSec) * time.Second,
		MaxRetries: c.Links.DetailMaxRetries,
		Backoff:    time.Duration(c.Links.DetailBackoffSec) * time.Second,
		Settle:     time.Duration(c.Links.DetailSettleMilli) * time.Millisecond,
		RPS:        c.Links.DetailRPS,
		Burst:      c.Links.DetailBurst,
	}
}

// ContactSettings converts to the colly contact crawler config.
func (c Config) ContactSettings() fetch.ContactConfig {
	return fetch.ContactConfig{
		Timeout:          time.Duration(c.Contacts.TimeoutSec) * time.Second,
		Delay:            time.Duration(c.Contacts.DelayMilli) * time.Millisecond,
		RandomDelay:      time.Duration(c.Contacts.RandomDelayMilli) * time.Millisecond,
		Parallelism:      c.Contacts.Parallelism,
		DeepPaths:        c.Contacts.DeepPaths,
		FacebookVariants: c.Contacts.FacebookVariants,
	}
}

// HealthThresholds converts to the monitor thresholds.
func (c Config) HealthThresholds() health.Thresholds {
	return health.Thresholds{
		MaxMemoryMB:   c.Health.MaxMemoryMB,
		MaxCPUPercent: c.Health.MaxCPUPercent,
		MaxTasks:      c.Health.MaxTasks,
		MaxBrowsers:   c.Health.MaxBrowsers,
		MaxContexts:   c.Health.MaxContexts,
	}
}

// TaskSettings converts to the runner config.
func (c Config) TaskSettings() tasks.Config {
	return tasks.Config{Workers: c.Tasks.Workers, QueueSize: c.Tasks.QueueSize}
}

// StoreSettings converts to the postgres store config.
func (c Config) StoreSettings() postgres.Config {
	return postgres.Config{
		DSN:             c.DB.DSN,
		MaxConns:        int32(c.DB.MaxConns),
		MinConns:        int32(c.DB.MinConns),
		MaxConnLifetime: time.Duration(c.DB.MaxConnLifetimeMin) * time.Minute,
	}
}

// PipelineSettings converts to the driver config.
func (c Config) PipelineSettings() pipeline.Config {
	return pipeline.Config{
		BaseURL:          c.Pipeline.BaseURL,
		WaveSize:         c.Pipeline.WaveSize,
		LinkTimeout:      time.Duration(c.Pipeline.LinkTimeoutSec) * time.Second,
		RetryLinkTimeout: time.Duration(c.Pipeline.RetryTimeoutSec) * time.Second,
		MinLinks:         c.Pipeline.MinLinks,
		DetailTimeout:    time.Duration(c.Pipeline.DetailTimeoutSec) * time.Second,
		ContactTimeout:   time.Duration(c.Pipeline.ContactTimeoutSec) * time.Second,
		BatchSize:        c.Pipeline.BatchSize,
		ExportPath:       c.Pipeline.ExportPath,
	}
}
