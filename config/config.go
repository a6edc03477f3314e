package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseURL string // Postgres; empty runs against the local SQLite file
	DBPath      string
	RedisURL    string
	HTTPAddr    string
	LogFile     string
	Proxy       ProxyConfig
	Scheduler   SchedulerConfig
	Scraper     ScraperConfig
	Geocoder    GeocoderConfig
	S3          S3Config
	Scrapers    map[string]*ScraperTypeConfig
}

type ProxyConfig struct {
	URL string
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type ScraperConfig struct {
	DelayMS      int
	MaxAttempts  int
	RetryBackoff time.Duration
	Concurrency  int
	UserAgent    string
	// LockTTL is the expiry of a Redis run lock. The holder renews it while
	// the run lasts; it only bounds how long a crashed run blocks a provider.
	LockTTL      time.Duration
	ConfigDir    string
}

type GeocoderConfig struct {
	Enabled   bool
	BaseURL   string
	UserAgent string
	Interval  time.Duration
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether enough is configured to mirror images.
func (c S3Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// ScraperTypeConfig tunes one scraper implementation, keyed by the provider
// type tag stored on each provider.
type ScraperTypeConfig struct {
	Type        string `yaml:"type"`
	Name        string `yaml:"name"`
	FetchMode   string `yaml:"fetch_mode"`
	RateLimitMS int    `yaml:"rate_limit_ms"`
	MaxPages    int    `yaml:"max_pages"`
	UserAgent   string `yaml:"user_agent"`
}

const (
	FetchModeHTTP    = "http"
	FetchModeBrowser = "browser"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBPath:      getEnv("DB_PATH", "auctions.db"),
		RedisURL:    os.Getenv("REDIS_URL"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		LogFile:     getEnv("LOG_FILE", "scraper.log"),
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SCRAPE_CRON"),
		},
		Scraper: ScraperConfig{
			DelayMS:      getEnvInt("SCRAPE_DELAY_MS", 2000),
			MaxAttempts:  getEnvInt("SCRAPE_MAX_ATTEMPTS", 3),
			RetryBackoff: getEnvDuration("SCRAPE_RETRY_BACKOFF", 2*time.Second),
			Concurrency:  getEnvInt("SCRAPE_CONCURRENCY", 2),
			UserAgent:    getEnv("SCRAPE_USER_AGENT", defaultUserAgent),
			LockTTL:      getEnvDuration("SCRAPE_LOCK_TTL", time.Hour),
			ConfigDir:    getEnv("SCRAPER_CONFIG_DIR", "config/scrapers"),
		},
		Geocoder: GeocoderConfig{
			Enabled:   os.Getenv("GEOCODE_ENABLED") == "true",
			BaseURL:   getEnv("GEOCODE_URL", "https://nominatim.openstreetmap.org"),
			UserAgent: getEnv("GEOCODE_USER_AGENT", "auction_scraper/1.0"),
			Interval:  getEnvDuration("GEOCODE_INTERVAL", 1500*time.Millisecond),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		Scrapers: make(map[string]*ScraperTypeConfig),
	}

	cfg.Scheduler.Interval = getEnvDuration("SCRAPE_INTERVAL", 0)

	if err := cfg.loadScraperConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadScraperConfigs() error {
	entries, err := os.ReadDir(c.Scraper.ConfigDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(c.Scraper.ConfigDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var sc ScraperTypeConfig
		if err := yaml.Unmarshal(data, &sc); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if sc.Type == "" {
			return fmt.Errorf("%s: missing type", path)
		}

		c.Scrapers[sc.Type] = &sc
	}

	return nil
}

// ScraperType returns the settings for tag with defaults filled in.
func (c *Config) ScraperType(tag string) ScraperTypeConfig {
	sc := ScraperTypeConfig{Type: tag}
	if loaded, ok := c.Scrapers[tag]; ok && loaded != nil {
		sc = *loaded
	}
	if sc.FetchMode == "" {
		sc.FetchMode = FetchModeHTTP
	}
	if sc.RateLimitMS <= 0 {
		sc.RateLimitMS = c.Scraper.DelayMS
	}
	if sc.MaxPages <= 0 {
		sc.MaxPages = 50
	}
	if sc.UserAgent == "" {
		sc.UserAgent = c.Scraper.UserAgent
	}
	return sc
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
