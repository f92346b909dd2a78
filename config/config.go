package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds scraper configuration.
type Config struct {
	BaseURL            string            `yaml:"base_url"`
	ListingURLTemplate string            `yaml:"listing_url_template"`
	Pages              int               `yaml:"pages"`
	Parallelism        int               `yaml:"parallelism"`
	Delay              time.Duration     `yaml:"delay"`
	RandomDelay        time.Duration     `yaml:"random_delay"`
	Timeout            time.Duration     `yaml:"timeout"`
	MaxRetries         int               `yaml:"max_retries"`
	RetryBackoff       time.Duration     `yaml:"retry_backoff"`
	RetryBackoffMax    time.Duration     `yaml:"retry_backoff_max"`
	UserAgent          string            `yaml:"user_agent"`
	Headers            map[string]string `yaml:"headers"`
	RespectRobotsTxt   bool              `yaml:"respect_robots_txt"`

	OutputDir      string `yaml:"output_dir"`
	LinksFile      string `yaml:"links_file"`
	ProductsFile   string `yaml:"products_file"`
	OutputFormat   string `yaml:"output_format"` // csv, json, dual, or postgres
	PostgresDSN    string `yaml:"postgres_dsn"`
	PostgresSchema string `yaml:"postgres_schema"`

	PipelineBufferSize int `yaml:"pipeline_buffer_size"`
	BatchSize          int `yaml:"batch_size"`
	DedupeMaxSize      int `yaml:"dedupe_max_size"`

	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogLevel      string `yaml:"log_level"`
	MetricsAddr   string `yaml:"metrics_addr"`
	TraceOutput   string `yaml:"trace_output"` // empty disables, "stdout", or a file path
	Verbose       bool   `yaml:"verbose"`
}

// DefaultUserAgent mimics a desktop Firefox; the target serves trimmed markup to unknown agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:66.0) Gecko/20100101 Firefox/66.0"

// DefaultHeaders returns the fixed header set sent with every request.
// User-Agent is carried separately in Config.UserAgent.
func DefaultHeaders() map[string]string {
	return map[string]string{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Encoding":           "gzip, deflate",
		"DNT":                       "1",
		"Connection":                "close",
		"Upgrade-Insecure-Requests": "1",
	}
}

// DefaultConfig returns defaults for the furniture bestseller category.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:            "https://www.amazon.com",
		ListingURLTemplate: "https://www.amazon.com/Best-Sellers-Home-Kitchen-Furniture/zgbs/home-garden/1063306/ref=zg_bs_pg_2?_encoding=UTF8&pg=%d",
		Pages:              2,
		Parallelism:        16,
		Delay:              0,
		RandomDelay:        0,
		Timeout:            30 * time.Second,
		MaxRetries:         5,
		RetryBackoff:       500 * time.Millisecond,
		RetryBackoffMax:    30 * time.Second,
		UserAgent:          DefaultUserAgent,
		Headers:            DefaultHeaders(),
		RespectRobotsTxt:   false,
		OutputDir:          "csv",
		LinksFile:          "amazon_bestseller_products_links.csv",
		ProductsFile:       "amazon_bestseller_products_information.csv",
		OutputFormat:       "csv",
		PostgresSchema:     "public",
		PipelineBufferSize: 512,
		BatchSize:          64,
		DedupeMaxSize:      100000,
		LogFile:            "logs/scraper.log",
		LogMaxSizeMB:       10,
		LogMaxBackups:      5,
		LogLevel:           "debug",
		MetricsAddr:        "",
		TraceOutput:        "",
		Verbose:            false,
	}
}

// ListingURL renders the listing page URL for a 1-based page index.
func (c *Config) ListingURL(page int) string {
	return fmt.Sprintf(c.ListingURLTemplate, page)
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.ListingURLTemplate == "" {
		return fmt.Errorf("listing URL template cannot be empty")
	}
	if strings.Count(c.ListingURLTemplate, "%d") != 1 {
		return fmt.Errorf("listing URL template must contain exactly one %%d placeholder")
	}
	listingURL, err := url.Parse(c.ListingURL(1))
	if err != nil {
		return fmt.Errorf("invalid listing URL template: %w", err)
	}
	if listingURL.Host != parsedURL.Host {
		return fmt.Errorf("listing URL template host %q must match base URL host %q", listingURL.Host, parsedURL.Host)
	}

	if c.Pages < 0 {
		return fmt.Errorf("pages cannot be negative")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	if c.LinksFile == "" || c.ProductsFile == "" {
		return fmt.Errorf("output file names cannot be empty")
	}
	switch c.OutputFormat {
	case "csv", "json", "dual":
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres output requires a postgres DSN")
		}
	default:
		return fmt.Errorf("output format must be csv, json, dual, or postgres")
	}

	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}

	if c.LogMaxSizeMB <= 0 {
		return fmt.Errorf("log max size must be positive")
	}
	if c.LogMaxBackups < 0 {
		return fmt.Errorf("log max backups cannot be negative")
	}

	return nil
}
