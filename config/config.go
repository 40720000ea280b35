package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Site names known to the pipeline factory.
const (
	SiteBayside = "bayside"
	SiteRPEMX   = "rpemx"
)

// SequenceOrder is the fixed order of the two-site sequence.
var SequenceOrder = []string{SiteBayside, SiteRPEMX}

// Config holds all application configuration loaded from environment variables
// and the per-site YAML file.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	DatabaseURL      string

	StoreMode string
	FetchMode string

	LogLevel       string
	UserAgent      string
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	ChromeBin      string

	RedisURL string
	APIAddr  string

	OutputDir   string
	SitesConfig string
	Sites       map[string]SiteConfig
}

// SiteConfig is the crawl configuration of one target site. It is copied
// into the orchestrator at construction and never mutated during a run.
type SiteConfig struct {
	Name                 string        `yaml:"name"`
	StartURL             string        `yaml:"start_url"`
	APIURL               string        `yaml:"api_url"`
	PageSize             int           `yaml:"page_size"`
	MaxListings          int           `yaml:"max_listings"`
	MaxErrors            int           `yaml:"max_errors"`
	MaxConsecutiveErrors int           `yaml:"max_consecutive_errors"`
	MinDelay             time.Duration `yaml:"min_delay"`
	MaxDelay             time.Duration `yaml:"max_delay"`
	SkipStored           bool          `yaml:"skip_stored"`
	Buffered             bool          `yaml:"buffered"`
	Export               string        `yaml:"export"`
}

// siteOverlay is one entry of the sites file. Nil fields keep the built-in
// value, so zero and false can be set explicitly.
type siteOverlay struct {
	StartURL             *string        `yaml:"start_url"`
	APIURL               *string        `yaml:"api_url"`
	PageSize             *int           `yaml:"page_size"`
	MaxListings          *int           `yaml:"max_listings"`
	MaxErrors            *int           `yaml:"max_errors"`
	MaxConsecutiveErrors *int           `yaml:"max_consecutive_errors"`
	MinDelay             *time.Duration `yaml:"min_delay"`
	MaxDelay             *time.Duration `yaml:"max_delay"`
	SkipStored           *bool          `yaml:"skip_stored"`
	Buffered             *bool          `yaml:"buffered"`
	Export               *string        `yaml:"export"`
}

type sitesFile struct {
	Sites map[string]siteOverlay `yaml:"sites"`
}

// DefaultSites returns the built-in settings of the two target sites.
func DefaultSites() map[string]SiteConfig {
	return map[string]SiteConfig{
		SiteBayside: {
			Name:        SiteBayside,
			StartURL:    "https://baysiderealestate.com/city/puerto-escondido/",
			MaxListings: 35,
			MaxErrors:   5,
			MinDelay:    2 * time.Second,
			MaxDelay:    5 * time.Second,
			Buffered:    true,
			Export:      "csv",
		},
		SiteRPEMX: {
			Name:        SiteRPEMX,
			StartURL:    "https://realestate.puerto-escondido.mx/",
			APIURL:      "https://realestate.puerto-escondido.mx/wp-json/wp/v2/estate_property",
			PageSize:    100,
			MaxListings: 500,
			MinDelay:    1 * time.Second,
			MaxDelay:    3 * time.Second,
			SkipStored:  true,
		},
	}
}

// Load reads the .env file, the environment and the sites YAML file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	cfg := &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "scraper"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "scraper123"),
		PostgresDB:       getEnv("POSTGRES_DB", "realestate"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),

		StoreMode: strings.ToLower(getEnv("STORE_MODE", "postgres")),
		FetchMode: strings.ToLower(getEnv("FETCH_MODE", "http")),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		UserAgent: getEnv("USER_AGENT", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		RetryBaseDelay: getEnvDuration("RETRY_BASE_DELAY", time.Second),
		ChromeBin:      getEnv("CHROME_BIN", ""),

		RedisURL: getEnv("REDIS_URL", ""),
		APIAddr:  getEnv("API_ADDR", ":8000"),

		OutputDir:   getEnv("OUTPUT_DIR", "./output"),
		SitesConfig: getEnv("SITES_CONFIG", "config/sites.yaml"),
		Sites:       DefaultSites(),
	}

	if err := cfg.loadSites(cfg.SitesConfig); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadSites overlays the YAML file on the defaults. A missing file is not an error.
func (c *Config) loadSites(path string) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("[config] No sites file at %s, using built-in site settings", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	return c.mergeSites(raw)
}

func (c *Config) mergeSites(raw []byte) error {
	var file sitesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("config: parse sites: %w", err)
	}
	for name, override := range file.Sites {
		base := c.Sites[name]
		base.Name = name
		c.Sites[name] = mergeSite(base, override)
	}
	return nil
}

func mergeSite(base SiteConfig, o siteOverlay) SiteConfig {
	setIf(&base.StartURL, o.StartURL)
	setIf(&base.APIURL, o.APIURL)
	setIf(&base.PageSize, o.PageSize)
	setIf(&base.MaxListings, o.MaxListings)
	setIf(&base.MaxErrors, o.MaxErrors)
	setIf(&base.MaxConsecutiveErrors, o.MaxConsecutiveErrors)
	setIf(&base.MinDelay, o.MinDelay)
	setIf(&base.MaxDelay, o.MaxDelay)
	setIf(&base.SkipStored, o.SkipStored)
	setIf(&base.Buffered, o.Buffered)
	setIf(&base.Export, o.Export)
	return base
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Site returns a copy of the named site's settings.
func (c *Config) Site(name string) (SiteConfig, error) {
	s, ok := c.Sites[name]
	if !ok {
		return SiteConfig{}, fmt.Errorf("config: unknown site %q (known: %s)", name, strings.Join(c.SiteNames(), ", "))
	}
	return s, nil
}

// SiteNames returns the configured site names in sorted order.
func (c *Config) SiteNames() []string {
	names := make([]string, 0, len(c.Sites))
	for n := range c.Sites {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}
