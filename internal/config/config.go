package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Storage backends accepted in storage.backend.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// DefaultPort is used when the config leaves port unset.
const DefaultPort = 3000

// Config is the playground configuration.
type Config struct {
	SDKConfig `yaml:",inline" toml:",inline"`

	// Host is the interface the HTTP server binds to. Empty binds all interfaces.
	Host string `yaml:"host" json:"host" toml:"host" env:"HOST"`

	// Port is the HTTP server port.
	Port int `yaml:"port" json:"port" toml:"port" env:"PORT"`

	// Debug enables gin debug mode and debug logging.
	Debug bool `yaml:"debug" json:"debug" toml:"debug" env:"DEBUG"`

	// LogLevel is one of debug, info, warn, error, quiet.
	LogLevel string `yaml:"log-level" json:"log-level" toml:"log-level" env:"LOG_LEVEL"`

	// LoggingToFile routes logs to a rotating file under LogDir.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file" toml:"logging-to-file" env:"LOGGING_TO_FILE"`

	// LogDir is where log files are written when LoggingToFile is set.
	LogDir string `yaml:"log-dir" json:"log-dir" toml:"log-dir" env:"LOG_DIR"`

	// StateDir holds persisted credentials and flow state for the file and sqlite backends.
	StateDir string `yaml:"state-dir" json:"state-dir" toml:"state-dir" env:"STATE_DIR"`

	// SessionSecret signs the browser session cookie. A random secret is
	// generated at startup when empty, which logs every browser out on restart.
	SessionSecret string `yaml:"session-secret" json:"-" toml:"session-secret" env:"SESSION_SECRET"`

	// CallbackPort is the local port the CLI listens on for redirects.
	CallbackPort int `yaml:"callback-port" json:"callback-port" toml:"callback-port" env:"CALLBACK_PORT"`

	// SecureCookies marks the session cookie Secure. Enable behind TLS.
	SecureCookies bool `yaml:"secure-cookies,omitempty" json:"secure-cookies,omitempty" toml:"secure-cookies" env:"SECURE_COOKIES"`

	// DisableMetrics turns off /metrics and request metrics collection.
	DisableMetrics bool `yaml:"disable-metrics,omitempty" json:"disable-metrics,omitempty" toml:"disable-metrics" env:"DISABLE_METRICS"`

	Provider ProviderConfig `yaml:"provider" json:"provider" toml:"provider" envPrefix:"PROVIDER_"`
	Storage  StorageConfig  `yaml:"storage" json:"storage" toml:"storage" envPrefix:"STORAGE_"`
	Defaults DefaultsConfig `yaml:"defaults" json:"defaults" toml:"defaults" envPrefix:"DEFAULT_"`
	Postman  PostmanConfig  `yaml:"postman" json:"postman" toml:"postman" envPrefix:"POSTMAN_"`

	// MockCompanies lists the companies that get a custom login page under /mock/:company/login.
	MockCompanies []MockCompany `yaml:"mock-companies,omitempty" json:"mock-companies,omitempty" toml:"mock-companies"`
}

// ProviderConfig points the playground at one PingOne environment.
type ProviderConfig struct {
	// Region selects the PingOne geography: NA, EU, CA, AP, AU or SG.
	Region string `yaml:"region" json:"region" toml:"region" env:"REGION"`

	// EnvironmentID is the PingOne environment UUID.
	EnvironmentID string `yaml:"environment-id" json:"environment-id" toml:"environment-id" env:"ENVIRONMENT_ID"`

	// BaseURLOverride replaces the regional auth host, e.g. for a custom domain or a local fake.
	BaseURLOverride string `yaml:"base-url-override,omitempty" json:"base-url-override,omitempty" toml:"base-url-override" env:"BASE_URL_OVERRIDE"`

	// DiscoveryTimeoutSeconds bounds the discovery and JWKS fetches. <= 0 means 10.
	DiscoveryTimeoutSeconds int `yaml:"discovery-timeout-seconds,omitempty" json:"discovery-timeout-seconds,omitempty" toml:"discovery-timeout-seconds" env:"DISCOVERY_TIMEOUT_SECONDS"`

	// DiscoveryRetries is the number of retries for discovery and JWKS fetches.
	DiscoveryRetries int `yaml:"discovery-retries,omitempty" json:"discovery-retries,omitempty" toml:"discovery-retries" env:"DISCOVERY_RETRIES"`
}

// StorageConfig selects the credential and flow state backend.
type StorageConfig struct {
	// Backend is file, sqlite, postgres or memory.
	Backend string `yaml:"backend" json:"backend" toml:"backend" env:"BACKEND"`

	// DSN is the sqlite file path or the postgres connection string.
	DSN string `yaml:"dsn,omitempty" json:"-" toml:"dsn" env:"DSN"`

	// SessionTTLMinutes bounds how long per-browser flow state lives. <= 0 means 60.
	SessionTTLMinutes int `yaml:"session-ttl-minutes,omitempty" json:"session-ttl-minutes,omitempty" toml:"session-ttl-minutes" env:"SESSION_TTL_MINUTES"`
}

// DefaultsConfig pre-fills the credential form for every flow.
type DefaultsConfig struct {
	ClientID     string   `yaml:"client-id,omitempty" json:"client-id,omitempty" toml:"client-id" env:"CLIENT_ID"`
	ClientSecret string   `yaml:"client-secret,omitempty" json:"-" toml:"client-secret" env:"CLIENT_SECRET"`
	RedirectURI  string   `yaml:"redirect-uri,omitempty" json:"redirect-uri,omitempty" toml:"redirect-uri" env:"REDIRECT_URI"`
	Scopes       []string `yaml:"scopes,omitempty" json:"scopes,omitempty" toml:"scopes" env:"SCOPES" envSeparator:" "`
	AuthMethod   string   `yaml:"auth-method,omitempty" json:"auth-method,omitempty" toml:"auth-method" env:"AUTH_METHOD"`
}

// PostmanConfig controls where generated collections go.
type PostmanConfig struct {
	// OutputDir is where collections are written by the CLI.
	OutputDir string `yaml:"output-dir,omitempty" json:"output-dir,omitempty" toml:"output-dir" env:"OUTPUT_DIR"`

	// Bucket optionally publishes generated files to S3-compatible storage.
	Bucket BucketConfig `yaml:"bucket,omitempty" json:"bucket,omitempty" toml:"bucket" envPrefix:"BUCKET_"`
}

// BucketConfig describes an S3-compatible bucket.
type BucketConfig struct {
	Endpoint  string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" toml:"endpoint" env:"ENDPOINT"`
	AccessKey string `yaml:"access-key,omitempty" json:"-" toml:"access-key" env:"ACCESS_KEY"`
	SecretKey string `yaml:"secret-key,omitempty" json:"-" toml:"secret-key" env:"SECRET_KEY"`
	Bucket    string `yaml:"bucket,omitempty" json:"bucket,omitempty" toml:"bucket" env:"NAME"`
	Prefix    string `yaml:"prefix,omitempty" json:"prefix,omitempty" toml:"prefix" env:"PREFIX"`
	UseSSL    bool   `yaml:"use-ssl,omitempty" json:"use-ssl,omitempty" toml:"use-ssl" env:"USE_SSL"`
	Region    string `yaml:"region,omitempty" json:"region,omitempty" toml:"region" env:"REGION"`
}

// Enabled reports whether enough of the bucket is configured to publish.
func (b BucketConfig) Enabled() bool {
	return strings.TrimSpace(b.Endpoint) != "" && strings.TrimSpace(b.Bucket) != ""
}

// MockCompany is one entry of the custom login page list.
type MockCompany struct {
	ID   string `yaml:"id" json:"id" toml:"id"`
	Name string `yaml:"name" json:"name" toml:"name"`
	// Accent is a CSS colour used by the page.
	Accent string `yaml:"accent,omitempty" json:"accent,omitempty" toml:"accent"`
}

// LoadConfig reads the configuration file at path.
func LoadConfig(path string) (*Config, error) {
	return LoadConfigOptional(path, false)
}

// LoadConfigOptional reads the configuration file at path. When optional is
// true a missing or unparsable file yields a default configuration instead
// of an error. Environment overrides are applied in both cases.
func LoadConfigOptional(path string, optional bool) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err != nil && optional:
		if !errors.Is(err, os.ErrNotExist) {
			log.Warnf("config: ignoring unreadable %s: %v", path, err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	case len(bytes.TrimSpace(data)) == 0:
		// empty file parses to the zero config
	default:
		if errParse := unmarshalConfig(path, data, cfg); errParse != nil {
			if !optional {
				return nil, fmt.Errorf("failed to parse config file: %w", errParse)
			}
			log.Warnf("config: ignoring invalid %s: %v", path, errParse)
			cfg = &Config{}
		}
	}

	loadDotEnv(path)
	if err = env.ParseWithOptions(cfg, env.Options{Prefix: "PLAYGROUND_"}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	cfg.ApplyDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func unmarshalConfig(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Unmarshal(data, cfg)
	default:
		return yaml.Unmarshal(data, cfg)
	}
}

// loadDotEnv loads .env from the working directory and next to the config
// file. Existing environment variables win.
func loadDotEnv(configPath string) {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(configPath), ".env"))
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if err := godotenv.Load(candidate); err != nil {
			log.Warnf("config: failed to load %s: %v", candidate, err)
		}
	}
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.CallbackPort == 0 {
		c.CallbackPort = 3001
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		if c.Debug {
			c.LogLevel = "debug"
		} else {
			c.LogLevel = "info"
		}
	}
	c.StateDir = ExpandHome(strings.TrimSpace(c.StateDir))
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir()
	}
	if c.LogDir == "" {
		c.LogDir = filepath.Join(c.StateDir, "logs")
	}
	c.Provider.Region = strings.ToUpper(strings.TrimSpace(c.Provider.Region))
	if c.Provider.Region == "" {
		c.Provider.Region = "NA"
	}
	if c.Provider.DiscoveryTimeoutSeconds <= 0 {
		c.Provider.DiscoveryTimeoutSeconds = 10
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendFile
	}
	if c.Storage.Backend == BackendSQLite && c.Storage.DSN == "" {
		c.Storage.DSN = filepath.Join(c.StateDir, "playground.db")
	}
	if c.Storage.SessionTTLMinutes <= 0 {
		c.Storage.SessionTTLMinutes = 60
	}
	if c.Defaults.RedirectURI == "" {
		c.Defaults.RedirectURI = fmt.Sprintf("http://localhost:%d/callback", c.Port)
	}
	if len(c.Defaults.Scopes) == 0 {
		c.Defaults.Scopes = []string{"openid", "profile", "email"}
	}
	if c.Postman.OutputDir == "" {
		c.Postman.OutputDir = "."
	}
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendFile, BackendSQLite, BackendMemory:
	case BackendPostgres:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("config: storage.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	switch c.Provider.Region {
	case "NA", "EU", "CA", "AP", "AU", "SG":
	default:
		return fmt.Errorf("config: unknown provider region %q", c.Provider.Region)
	}
	seen := make(map[string]struct{}, len(c.MockCompanies))
	for _, company := range c.MockCompanies {
		id := strings.TrimSpace(company.ID)
		if id == "" {
			return fmt.Errorf("config: mock-companies entry without id")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("config: duplicate mock company %q", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Company returns the mock company with the given id.
func (c *Config) Company(id string) (MockCompany, bool) {
	for _, company := range c.MockCompanies {
		if company.ID == id {
			return company, true
		}
	}
	return MockCompany{}, false
}
