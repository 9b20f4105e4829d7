package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	tests := []struct {
		name       string
		yaml       string
		wantPort   int
		wantHost   string
		wantRegion string
		wantBack   string
	}{
		{
			name:       "minimal valid config",
			yaml:       "port: 8080\n",
			wantPort:   8080,
			wantRegion: "NA",
			wantBack:   BackendFile,
		},
		{
			name: "provider and storage",
			yaml: `
host: 127.0.0.1
port: 9000
provider:
  region: eu
  environment-id: 5f3c2a1e-0000-4000-8000-000000000001
storage:
  backend: memory
`,
			wantPort:   9000,
			wantHost:   "127.0.0.1",
			wantRegion: "EU",
			wantBack:   BackendMemory,
		},
		{
			name:       "empty port falls back to default",
			yaml:       "debug: true\n",
			wantPort:   DefaultPort,
			wantRegion: "NA",
			wantBack:   BackendFile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfig(t, "config.yaml", tt.yaml))
			if err != nil {
				t.Fatalf("LoadConfig() error = %v", err)
			}
			if cfg.Port != tt.wantPort {
				t.Errorf("Port = %v, want %v", cfg.Port, tt.wantPort)
			}
			if cfg.Host != tt.wantHost {
				t.Errorf("Host = %v, want %v", cfg.Host, tt.wantHost)
			}
			if cfg.Provider.Region != tt.wantRegion {
				t.Errorf("Region = %v, want %v", cfg.Provider.Region, tt.wantRegion)
			}
			if cfg.Storage.Backend != tt.wantBack {
				t.Errorf("Backend = %v, want %v", cfg.Storage.Backend, tt.wantBack)
			}
		})
	}
}

func TestLoadConfig_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
port = 7000
proxy-url = "socks5://127.0.0.1:1080"

[defaults]
client-id = "abc"
scopes = ["openid", "offline_access"]
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Port != 7000 {
		t.Errorf("Port = %d, want 7000", cfg.Port)
	}
	if cfg.ProxyURL != "socks5://127.0.0.1:1080" {
		t.Errorf("ProxyURL = %q", cfg.ProxyURL)
	}
	if cfg.Defaults.ClientID != "abc" || len(cfg.Defaults.Scopes) != 2 {
		t.Errorf("Defaults = %+v", cfg.Defaults)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("PLAYGROUND_PORT", "4321")
	t.Setenv("PLAYGROUND_PROVIDER_ENVIRONMENT_ID", "env-from-env")
	t.Setenv("PLAYGROUND_DEFAULT_SCOPES", "openid profile")

	cfg, err := LoadConfig(writeConfig(t, "config.yaml", "port: 8080\n"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Port != 4321 {
		t.Errorf("Port = %d, want 4321", cfg.Port)
	}
	if cfg.Provider.EnvironmentID != "env-from-env" {
		t.Errorf("EnvironmentID = %q", cfg.Provider.EnvironmentID)
	}
	if len(cfg.Defaults.Scopes) != 2 || cfg.Defaults.Scopes[1] != "profile" {
		t.Errorf("Scopes = %v", cfg.Defaults.Scopes)
	}
}

func TestLoadConfig_EmptyFile(t *testing.T) {
	for _, content := range []string{"", "   \n \n   "} {
		cfg, err := LoadConfigOptional(writeConfig(t, "config.yaml", content), false)
		if err != nil {
			t.Fatalf("LoadConfigOptional() error = %v", err)
		}
		if cfg.Port != DefaultPort {
			t.Errorf("Port = %d, want default", cfg.Port)
		}
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		optional bool
		wantErr  bool
	}{
		{"invalid yaml syntax", "port: 8080\n  invalid indentation\n", false, true},
		{"invalid yaml with optional true", "port: 8080\n  invalid indentation\n", true, false},
		{"malformed yaml structure", "port: [8080\n", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfigOptional(writeConfig(t, "config.yaml", tt.content), tt.optional)
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadConfigOptional() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	if _, err := LoadConfig(missing); err == nil {
		t.Error("LoadConfig() on missing file should fail")
	}
	cfg, err := LoadConfigOptional(missing, true)
	if err != nil || cfg == nil {
		t.Fatalf("LoadConfigOptional() = %v, %v", cfg, err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(*Config) {}, false},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "redis" }, true},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = BackendPostgres }, true},
		{"postgres with dsn", func(c *Config) {
			c.Storage.Backend = BackendPostgres
			c.Storage.DSN = "postgres://localhost/playground"
		}, false},
		{"port out of range", func(c *Config) { c.Port = 70000 }, true},
		{"unknown region", func(c *Config) { c.Provider.Region = "MARS" }, true},
		{"duplicate company", func(c *Config) {
			c.MockCompanies = []MockCompany{{ID: "acme"}, {ID: "acme"}}
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.ApplyDefaults()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{Port: 8080, StateDir: "/tmp/pg"}
	cfg.ApplyDefaults()

	if cfg.Defaults.RedirectURI != "http://localhost:8080/callback" {
		t.Errorf("RedirectURI = %q", cfg.Defaults.RedirectURI)
	}
	if cfg.LogDir != filepath.Join("/tmp/pg", "logs") {
		t.Errorf("LogDir = %q", cfg.LogDir)
	}
	if cfg.Storage.SessionTTLMinutes != 60 {
		t.Errorf("SessionTTLMinutes = %d", cfg.Storage.SessionTTLMinutes)
	}

	sqlite := &Config{StateDir: "/tmp/pg", Storage: StorageConfig{Backend: "SQLite"}}
	sqlite.ApplyDefaults()
	if sqlite.Storage.DSN != filepath.Join("/tmp/pg", "playground.db") {
		t.Errorf("sqlite DSN = %q", sqlite.Storage.DSN)
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "config.yaml", "port: 8080\n")
	reloaded := make(chan *Config, 4)
	w := NewWatcher(path, func(c *Config) { reloaded <- c })
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = w.Stop() }()

	if err := os.WriteFile(path, []byte("port: 9090\n"), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Port != 9090 {
			t.Errorf("reloaded Port = %d, want 9090", cfg.Port)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}
