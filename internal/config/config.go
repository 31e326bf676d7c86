package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Endpoint      EndpointConfig      `yaml:"endpoint"`
	Cache         CacheConfig         `yaml:"cache"`
	Sync          SyncConfig          `yaml:"sync"`
	Notifications NotificationsConfig `yaml:"notifications"`
	API           APIConfig           `yaml:"api"`
	Backup        BackupConfig        `yaml:"backup"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// EndpointConfig describes the SafePing submission endpoint. Requests to this
// host are never served from the asset cache.
type EndpointConfig struct {
	BaseURL       string `yaml:"base_url"`
	CheckinsPath  string `yaml:"checkins_path"`
	EmergencyPath string `yaml:"emergency_path"`
	ProbePath     string `yaml:"probe_path"`
}

// CheckinsURL returns the absolute check-in submission URL.
func (e EndpointConfig) CheckinsURL() string { return e.BaseURL + e.CheckinsPath }

// EmergencyURL returns the absolute emergency submission URL.
func (e EndpointConfig) EmergencyURL() string { return e.BaseURL + e.EmergencyPath }

// ProbeURL returns the connectivity probe URL.
func (e EndpointConfig) ProbeURL() string { return e.BaseURL + e.ProbePath }

// Host returns the endpoint host for the cache pass-through rule.
func (e EndpointConfig) Host() string {
	u, err := url.Parse(e.BaseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

type CacheConfig struct {
	Generation   string   `yaml:"generation"`
	Dir          string   `yaml:"dir"`
	Origin       string   `yaml:"origin"`
	RootDocument string   `yaml:"root_document"`
	Manifest     []string `yaml:"manifest"`
}

type SyncConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

type NotificationsConfig struct {
	StateTTL      time.Duration `yaml:"state_ttl"`
	RealertLimit  int           `yaml:"realert_limit"`
	RealertWindow time.Duration `yaml:"realert_window"`
	CheckInURL    string        `yaml:"checkin_url"`
	IncidentURL   string        `yaml:"incident_url"`
	HomeURL       string        `yaml:"home_url"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional outside of local development.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Environment substitution before parsing, so secrets stay out of YAML.
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Endpoint.BaseURL == "" {
		return errors.New("endpoint base_url is required")
	}
	if _, err := url.Parse(c.Endpoint.BaseURL); err != nil {
		return fmt.Errorf("endpoint base_url is invalid: %w", err)
	}

	if c.Cache.Generation == "" {
		return errors.New("cache generation name is required")
	}

	seen := make(map[string]bool, len(c.Cache.Manifest))
	for _, entry := range c.Cache.Manifest {
		if entry == "" {
			return errors.New("cache manifest contains an empty entry")
		}
		if seen[entry] {
			return fmt.Errorf("duplicate cache manifest entry: %s", entry)
		}
		seen[entry] = true
	}

	// Auth without keys would reject every window request and kill offline
	// queueing; fail at startup instead.
	if c.API.Enabled && c.API.Auth.Enabled && len(c.API.Auth.APIKeys) == 0 {
		return errors.New("api auth is enabled but no api keys are configured")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "safeping-agent"
	}

	if c.Endpoint.CheckinsPath == "" {
		c.Endpoint.CheckinsPath = "/api/checkins"
	}
	if c.Endpoint.EmergencyPath == "" {
		c.Endpoint.EmergencyPath = "/api/emergency"
	}
	if c.Endpoint.ProbePath == "" {
		c.Endpoint.ProbePath = "/api/health"
	}

	if c.Cache.Dir == "" {
		c.Cache.Dir = "data/cache"
	}
	if c.Cache.RootDocument == "" && len(c.Cache.Manifest) > 0 {
		c.Cache.RootDocument = c.Cache.Manifest[0]
	}

	if c.Sync.PollInterval == 0 {
		c.Sync.PollInterval = 15 * time.Second
	}
	if c.Sync.InitialDelay == 0 {
		c.Sync.InitialDelay = 2 * time.Second
	}
	if c.Sync.MaxDelay == 0 {
		c.Sync.MaxDelay = time.Minute
	}
	if c.Sync.BackoffFactor == 0 {
		c.Sync.BackoffFactor = 2
	}

	if c.Notifications.StateTTL == 0 {
		c.Notifications.StateTTL = 24 * time.Hour
	}
	if c.Notifications.RealertLimit == 0 {
		c.Notifications.RealertLimit = 20
	}
	if c.Notifications.RealertWindow == 0 {
		c.Notifications.RealertWindow = time.Minute
	}
	if c.Notifications.CheckInURL == "" {
		c.Notifications.CheckInURL = "/checkin"
	}
	if c.Notifications.HomeURL == "" {
		c.Notifications.HomeURL = "/"
	}
	if c.Notifications.IncidentURL == "" {
		c.Notifications.IncidentURL = "/incidents/"
	}

	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	// auth enabled by default when API is enabled
	if c.API.Enabled && !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 10
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}
