package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
database:
  path: "data/queue.db"
endpoint:
  base_url: "https://api.safeping.example"
cache:
  generation: "safeping-v1"
  manifest:
    - "/"
    - "/static/app.js"
    - "/static/app.css"
    - "/manifest.json"
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Endpoint.CheckinsURL() != "https://api.safeping.example/api/checkins" {
		t.Errorf("unexpected checkins URL: %s", cfg.Endpoint.CheckinsURL())
	}
	if cfg.Endpoint.Host() != "api.safeping.example" {
		t.Errorf("unexpected endpoint host: %s", cfg.Endpoint.Host())
	}
	if cfg.Cache.RootDocument != "/" {
		t.Errorf("expected root document to default to first manifest entry, got %s", cfg.Cache.RootDocument)
	}
	if cfg.Sync.PollInterval != 15*time.Second {
		t.Errorf("expected default poll interval, got %s", cfg.Sync.PollInterval)
	}
	if cfg.Sync.MaxAttempts != 0 {
		t.Errorf("expected retry-forever default, got %d", cfg.Sync.MaxAttempts)
	}
}

func TestLoadConfigEnvExpansion(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("SAFEPING_API", "https://api.test.example")
	yamlContent := `
database:
  path: "data/queue.db"
endpoint:
  base_url: "${SAFEPING_API}"
cache:
  generation: "safeping-v1"
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Endpoint.BaseURL != "https://api.test.example" {
		t.Errorf("env expansion failed, got %s", cfg.Endpoint.BaseURL)
	}
}

func TestLoadConfigRejectsAPIWithoutKeys(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Enabling the API defaults auth on; without keys every window request
	// would be rejected, so Load must refuse the config outright.
	yamlContent := `
database:
  path: "data/queue.db"
endpoint:
  base_url: "https://api.safeping.example"
cache:
  generation: "safeping-v1"
api:
  enabled: true
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("expected Load to fail for api enabled without keys")
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Database: DatabaseConfig{Path: "queue.db"},
				Endpoint: EndpointConfig{BaseURL: "https://api.safeping.example"},
				Cache:    CacheConfig{Generation: "v1"},
			},
			wantErr: false,
		},
		{
			name: "missing database path",
			cfg: Config{
				Endpoint: EndpointConfig{BaseURL: "https://api.safeping.example"},
				Cache:    CacheConfig{Generation: "v1"},
			},
			wantErr: true,
		},
		{
			name: "missing endpoint",
			cfg: Config{
				Database: DatabaseConfig{Path: "queue.db"},
				Cache:    CacheConfig{Generation: "v1"},
			},
			wantErr: true,
		},
		{
			name: "missing cache generation",
			cfg: Config{
				Database: DatabaseConfig{Path: "queue.db"},
				Endpoint: EndpointConfig{BaseURL: "https://api.safeping.example"},
			},
			wantErr: true,
		},
		{
			name: "auth enabled without keys",
			cfg: Config{
				Database: DatabaseConfig{Path: "queue.db"},
				Endpoint: EndpointConfig{BaseURL: "https://api.safeping.example"},
				Cache:    CacheConfig{Generation: "v1"},
				API:      APIConfig{Enabled: true, Auth: APIAuthConfig{Enabled: true}},
			},
			wantErr: true,
		},
		{
			name: "auth enabled with a key",
			cfg: Config{
				Database: DatabaseConfig{Path: "queue.db"},
				Endpoint: EndpointConfig{BaseURL: "https://api.safeping.example"},
				Cache:    CacheConfig{Generation: "v1"},
				API: APIConfig{Enabled: true, Auth: APIAuthConfig{
					Enabled: true,
					APIKeys: []APIClientKey{{Key: "k1", Name: "shell"}},
				}},
			},
			wantErr: false,
		},
		{
			name: "duplicate manifest entry",
			cfg: Config{
				Database: DatabaseConfig{Path: "queue.db"},
				Endpoint: EndpointConfig{BaseURL: "https://api.safeping.example"},
				Cache:    CacheConfig{Generation: "v1", Manifest: []string{"/", "/"}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
