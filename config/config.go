package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/aluiziolira/go-crawl-listings/parser"
)

// Config holds crawler configuration.
type Config struct {
	BaseURL   string `toml:"base_url"`
	PageParam string `toml:"page_param"`
	Pages     int    `toml:"pages"`

	// BaseWorkers is divided by SpeedFactor to size the worker pool.
	BaseWorkers int     `toml:"base_workers"`
	SpeedFactor float64 `toml:"speed_factor"`

	// MaxRetries is the total number of attempts per page, including the first.
	MaxRetries     int           `toml:"max_retries"`
	Timeout        time.Duration `toml:"timeout"`
	RetryDelayBase time.Duration `toml:"retry_delay_base"`
	TaskDelayBase  time.Duration `toml:"task_delay_base"`
	RequestDelay   time.Duration `toml:"request_delay"`
	RandomDelay    time.Duration `toml:"random_delay"`

	UserAgent        string `toml:"user_agent"`
	RespectRobotsTxt bool   `toml:"respect_robots_txt"`

	CardSelector  string `toml:"card_selector"`
	NameSelector  string `toml:"name_selector"`
	PriceSelector string `toml:"price_selector"`

	OutputFile    string `toml:"output_file"`
	OutputFormat  string `toml:"output_format"` // csv, json, dual, or sqlite
	BatchSize     int    `toml:"batch_size"`
	Dedupe        bool   `toml:"dedupe"`
	DedupeMaxSize int    `toml:"dedupe_max_size"`

	ProgressEvery int    `toml:"progress_every"`
	MetricsAddr   string `toml:"metrics_addr"`
	Verbose       bool   `toml:"verbose"`
}

// DefaultConfig returns the defaults for the star-hangar catalog.
func DefaultConfig() *Config {
	selectors := parser.DefaultSelectors()
	return &Config{
		BaseURL:          "https://star-hangar.com/star-citizen.html?product_list_limit=36",
		PageParam:        "p",
		Pages:            800,
		BaseWorkers:      10,
		SpeedFactor:      0.1,
		MaxRetries:       5,
		Timeout:          10 * time.Second,
		RetryDelayBase:   2 * time.Second,
		TaskDelayBase:    2 * time.Second,
		RequestDelay:     0,
		RandomDelay:      0,
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		RespectRobotsTxt: false,
		CardSelector:     selectors.Card,
		NameSelector:     selectors.Name,
		PriceSelector:    selectors.Price,
		OutputFile:       "output/listings.csv",
		OutputFormat:     "csv",
		BatchSize:        64,
		Dedupe:           false,
		DedupeMaxSize:    100000,
		ProgressEvery:    25,
		MetricsAddr:      "",
		Verbose:          false,
	}
}

// Workers returns the pool size derived from BaseWorkers and SpeedFactor.
func (c *Config) Workers() int {
	if c.SpeedFactor <= 0 {
		return 0
	}
	return int(float64(c.BaseWorkers) / c.SpeedFactor)
}

// RetryDelay is the constant wait between failed attempts of one page.
func (c *Config) RetryDelay() time.Duration {
	return scale(c.RetryDelayBase, c.SpeedFactor)
}

// TaskDelay is the wait a worker takes after finishing a page.
func (c *Config) TaskDelay() time.Duration {
	return scale(c.TaskDelayBase, c.SpeedFactor)
}

// Selectors returns the configured product card selectors.
func (c *Config) Selectors() parser.Selectors {
	return parser.Selectors{
		Card:  c.CardSelector,
		Name:  c.NameSelector,
		Price: c.PriceSelector,
	}
}

// PageURL builds the request target for one page number.
func (c *Config) PageURL(page int) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set(c.PageParam, fmt.Sprint(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
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
	if c.PageParam == "" {
		return fmt.Errorf("page param cannot be empty")
	}

	if c.Pages <= 0 {
		return fmt.Errorf("pages must be positive")
	}
	if c.SpeedFactor <= 0 {
		return fmt.Errorf("speed factor must be positive")
	}
	if c.BaseWorkers <= 0 {
		return fmt.Errorf("base workers must be positive")
	}
	if c.Workers() <= 0 {
		return fmt.Errorf("worker count must be positive (base workers %d / speed factor %g)", c.BaseWorkers, c.SpeedFactor)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.RetryDelayBase < 0 {
		return fmt.Errorf("retry delay cannot be negative")
	}
	if c.TaskDelayBase < 0 {
		return fmt.Errorf("task delay cannot be negative")
	}
	if c.RequestDelay < 0 {
		return fmt.Errorf("request delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.CardSelector == "" || c.NameSelector == "" || c.PriceSelector == "" {
		return fmt.Errorf("selectors cannot be empty")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	switch c.OutputFormat {
	case "csv", "json", "dual", "sqlite":
	default:
		return fmt.Errorf("output format must be csv, json, dual, or sqlite")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.Dedupe && c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive when dedupe is enabled")
	}
	if c.ProgressEvery < 0 {
		return fmt.Errorf("progress interval cannot be negative")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

func scale(d time.Duration, factor float64) time.Duration {
	return time.Duration(float64(d) * factor)
}
