package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bassista/go_leaf/internal/page"
	"github.com/bassista/go_leaf/internal/pattern"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               8080,
			ReadTimeout:        10 * time.Second,
			WriteTimeout:       10 * time.Second,
			IdleTimeout:        120 * time.Second,
			ShutDownTimeout:    5 * time.Second,
			RequestTimeout:     1000 * time.Millisecond,
			CORSAllowedOrigins: "*",
		},
		Data: DataConfig{
			RepositoryType:  "json",
			FilePath:        "/tmp/document.json",
			PersistInterval: 5 * time.Second,
		},
		Storage: StorageConfig{
			TextureRoot:  "/tmp/textures",
			InkDir:       "/tmp/ink",
			KeepVersions: 2,
		},
		Cache: CacheConfig{
			MemoryBudgetMB:  64,
			PrefetchRadius:  1,
			RenderWorkers:   2,
			SweepInterval:   2 * time.Second,
			PageWidth:       768,
			PageHeight:      1024,
			ThumbnailWidth:  96,
			ThumbnailHeight: 128,
		},
		Render: RenderConfig{BasisWidth: 768, Fit: "letterbox", Paper: "#FFFFFF"},
		Export: ExportConfig{
			Dir:             "/tmp/exports",
			URLPrefix:       "/artifacts/",
			DefaultRotation: "portrait",
			ImageScale:      1,
			JanitorSchedule: "@hourly",
			MaxAge:          24 * time.Hour,
		},
		Misc: MiscConfig{
			LogLevel:  "info",
			LogFormat: "text",
			GinMode:   "release",
		},
	}
}

func TestConfig_Validate_Valid(t *testing.T) {
	if err := validConfig().validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestConfig_Validate_EmptyFilePath(t *testing.T) {
	cfg := validConfig()
	cfg.Data.FilePath = ""

	if err := cfg.validate(); err == nil {
		t.Error("expected error for empty file path")
	}
}

func TestConfig_Validate_InvalidPort(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"zero port", 0},
		{"negative port", -1},
		{"too high port", 65536},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Server.Port = tt.port
			if err := cfg.validate(); err == nil {
				t.Errorf("expected error for port %d", tt.port)
			}
		})
	}
}

func TestConfig_Validate_InvalidPersistInterval(t *testing.T) {
	cfg := validConfig()
	cfg.Data.PersistInterval = 0

	if err := cfg.validate(); err == nil {
		t.Error("expected error for zero persist interval")
	}
}

func TestConfig_Validate_InvalidTimeouts(t *testing.T) {
	tests := []struct {
		name            string
		readTimeout     time.Duration
		writeTimeout    time.Duration
		idleTimeout     time.Duration
		shutdownTimeout time.Duration
		requestTimeout  time.Duration
	}{
		{"zero read timeout", 0, 10 * time.Second, 120 * time.Second, 5 * time.Second, time.Second},
		{"zero write timeout", 10 * time.Second, 0, 120 * time.Second, 5 * time.Second, time.Second},
		{"zero idle timeout", 10 * time.Second, 10 * time.Second, 0, 5 * time.Second, time.Second},
		{"zero shutdown timeout", 10 * time.Second, 10 * time.Second, 120 * time.Second, 0, time.Second},
		{"zero request timeout", 10 * time.Second, 10 * time.Second, 120 * time.Second, 5 * time.Second, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Server.ReadTimeout = tt.readTimeout
			cfg.Server.WriteTimeout = tt.writeTimeout
			cfg.Server.IdleTimeout = tt.idleTimeout
			cfg.Server.ShutDownTimeout = tt.shutdownTimeout
			cfg.Server.RequestTimeout = tt.requestTimeout

			if err := cfg.validate(); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}
}

func TestConfig_Validate_RepositoryType(t *testing.T) {
	for _, typ := range []string{"", "json", "sqlite"} {
		cfg := validConfig()
		cfg.Data.RepositoryType = typ
		if err := cfg.validate(); err != nil {
			t.Errorf("expected repository type %q to be valid, got: %v", typ, err)
		}
	}

	cfg := validConfig()
	cfg.Data.RepositoryType = "postgres"
	if err := cfg.validate(); err == nil {
		t.Error("expected error for unknown repository type")
	}
}

func TestConfig_Validate_Cache(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *CacheConfig)
	}{
		{"zero budget", func(c *CacheConfig) { c.MemoryBudgetMB = 0 }},
		{"negative prefetch", func(c *CacheConfig) { c.PrefetchRadius = -1 }},
		{"no workers", func(c *CacheConfig) { c.RenderWorkers = 0 }},
		{"zero sweep", func(c *CacheConfig) { c.SweepInterval = 0 }},
		{"zero page width", func(c *CacheConfig) { c.PageWidth = 0 }},
		{"thumbnail wider than page", func(c *CacheConfig) { c.ThumbnailWidth = 1000 }},
		{"budget smaller than a page", func(c *CacheConfig) { c.MemoryBudgetMB = 1; c.PageWidth = 2048; c.PageHeight = 2048 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg.Cache)
			if err := cfg.validate(); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}
}

func TestConfig_Validate_Render(t *testing.T) {
	cfg := validConfig()
	cfg.Render.Fit = "stretch"
	if err := cfg.validate(); err == nil {
		t.Error("expected error for unknown fit policy")
	}

	cfg = validConfig()
	cfg.Render.Paper = "white"
	if err := cfg.validate(); err == nil {
		t.Error("expected error for non-hex paper color")
	}
}

func TestConfig_Validate_Export(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(e *ExportConfig)
	}{
		{"unknown rotation", func(e *ExportConfig) { e.DefaultRotation = "upside_down" }},
		{"zero scale", func(e *ExportConfig) { e.ImageScale = 0 }},
		{"huge scale", func(e *ExportConfig) { e.ImageScale = 20 }},
		{"relative url prefix", func(e *ExportConfig) { e.URLPrefix = "artifacts/" }},
		{"zero max age", func(e *ExportConfig) { e.MaxAge = 0 }},
		{"no schedule", func(e *ExportConfig) { e.JanitorSchedule = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg.Export)
			if err := cfg.validate(); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}
}

func TestConfig_Validate_EmptyRotation(t *testing.T) {
	cfg := validConfig()
	cfg.Export.DefaultRotation = ""

	// Empty rotation falls back to portrait at export time
	if err := cfg.validate(); err != nil {
		t.Errorf("expected no error for empty rotation, got: %v", err)
	}
}

func TestConfig_Helpers(t *testing.T) {
	cfg := validConfig()

	if got := cfg.Cache.PageSize(); got != (page.Size{W: 768, H: 1024}) {
		t.Errorf("unexpected page size %v", got)
	}
	if got := cfg.Cache.ThumbnailSize(); got != (page.Size{W: 96, H: 128}) {
		t.Errorf("unexpected thumbnail size %v", got)
	}
	if got := cfg.Cache.MemoryBudget(); got != 64<<20 {
		t.Errorf("expected 64MB in bytes, got %d", got)
	}
	pc := cfg.Render.Pattern()
	if pc.BasisWidth != 768 || pc.Fit != pattern.FitLetterbox || pc.Paper != "#FFFFFF" {
		t.Errorf("unexpected pattern config %+v", pc)
	}

	cfg.Export.DefaultRotation = "landscape-right"
	if got := cfg.Export.Rotation(); got != page.RotationLandscapeRight {
		t.Errorf("expected landscape_right, got %v", got)
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	// Test with env var set
	_ = os.Setenv("TEST_ENV_VAR", "custom_value")
	defer func() { _ = os.Unsetenv("TEST_ENV_VAR") }()

	result := getEnvOrDefault("TEST_ENV_VAR", "default_value")
	if result != "custom_value" {
		t.Errorf("expected 'custom_value', got '%s'", result)
	}

	// Test with env var not set
	result = getEnvOrDefault("NONEXISTENT_VAR", "default_value")
	if result != "default_value" {
		t.Errorf("expected 'default_value', got '%s'", result)
	}
}

func TestGetEnvOrDefault_EmptyValue(t *testing.T) {
	_ = os.Setenv("TEST_EMPTY_VAR", "")
	defer func() { _ = os.Unsetenv("TEST_EMPTY_VAR") }()

	result := getEnvOrDefault("TEST_EMPTY_VAR", "default_value")
	if result != "default_value" {
		t.Errorf("expected 'default_value' for empty env, got '%s'", result)
	}
}

func TestGetEnvOrViperPort_FromEnv(t *testing.T) {
	_ = os.Setenv("TEST_PORT", "9090")
	defer func() { _ = os.Unsetenv("TEST_PORT") }()

	port, err := getEnvOrViperPort("TEST_PORT", "server.port")
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if port != 9090 {
		t.Errorf("expected 9090, got %d", port)
	}
}

func TestGetEnvOrViperPort_InvalidEnv(t *testing.T) {
	_ = os.Setenv("TEST_PORT_INVALID", "not_a_number")
	defer func() { _ = os.Unsetenv("TEST_PORT_INVALID") }()

	_, err := getEnvOrViperPort("TEST_PORT_INVALID", "server.port")
	if err == nil {
		t.Error("expected error for invalid port")
	}
}

func setLoadEnv(t *testing.T, configDir, dataFile string) {
	t.Helper()
	t.Setenv("LEAF_CONFIG_DIR", configDir)
	if dataFile != "" {
		t.Setenv("LEAF_DATA_FILE_PATH", dataFile)
	}
}

func TestLoadConfig_WithValidDefaults(t *testing.T) {
	tempDir := t.TempDir()
	setLoadEnv(t, tempDir, filepath.Join(tempDir, "data", "document.json"))

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("expected no error loading config, got: %v", err)
	}

	if cfg.Server.Port != 8084 {
		t.Errorf("expected default port 8084, got %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout <= 0 || cfg.Server.WriteTimeout <= 0 || cfg.Server.IdleTimeout <= 0 {
		t.Error("expected positive server timeouts")
	}
	if cfg.Data.PersistInterval <= 0 {
		t.Error("expected positive persist interval")
	}
	if cfg.Cache.MemoryBudgetMB != 256 || cfg.Cache.PrefetchRadius != 1 {
		t.Errorf("unexpected cache defaults %+v", cfg.Cache)
	}
	if cfg.Export.Rotation() != page.RotationPortrait {
		t.Errorf("expected portrait export default, got %v", cfg.Export.Rotation())
	}
	if cfg.Export.URLPrefix != "/artifacts/" {
		t.Errorf("unexpected url prefix %q", cfg.Export.URLPrefix)
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	tempDir := t.TempDir()
	yaml := `
server:
  port: 7070
cache:
  memory_budget_mb: 32
  prefetch_radius: 3
render:
  fit: crop
export:
  default_rotation: landscape_left
`
	if err := os.WriteFile(filepath.Join(tempDir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	setLoadEnv(t, tempDir, filepath.Join(tempDir, "document.json"))

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("expected port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Cache.MemoryBudgetMB != 32 || cfg.Cache.PrefetchRadius != 3 {
		t.Errorf("unexpected cache config %+v", cfg.Cache)
	}
	if cfg.Render.Pattern().Fit != pattern.FitCrop {
		t.Errorf("expected crop, got %q", cfg.Render.Fit)
	}
	if cfg.Export.Rotation() != page.RotationLandscapeLeft {
		t.Errorf("expected landscape_left, got %v", cfg.Export.Rotation())
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	tempDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tempDir, "config.yaml"), []byte("cache:\n  prefetch_radius: 3\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	setLoadEnv(t, tempDir, filepath.Join(tempDir, "document.json"))
	t.Setenv("LEAF_CACHE_PREFETCH_RADIUS", "0")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Cache.PrefetchRadius != 0 {
		t.Errorf("expected env to win, got %d", cfg.Cache.PrefetchRadius)
	}
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	tempDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tempDir, "config.yaml"), []byte("server: [port"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	setLoadEnv(t, tempDir, "")

	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for malformed config file")
	}
}

func TestLoadConfig_WithCustomPort(t *testing.T) {
	tempDir := t.TempDir()
	setLoadEnv(t, tempDir, filepath.Join(tempDir, "data", "document.json"))
	t.Setenv("PORT", "9999")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("expected no error loading config, got: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Server.Port)
	}
}

func TestLoadConfig_WithInvalidPort(t *testing.T) {
	tempDir := t.TempDir()
	setLoadEnv(t, tempDir, filepath.Join(tempDir, "document.json"))
	t.Setenv("PORT", "not_a_port")

	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for invalid port, got nil")
	}
}

func TestLoadConfig_CreatesDataFile(t *testing.T) {
	tempDir := t.TempDir()
	dataFilePath := filepath.Join(tempDir, "data", "test_document.json")
	setLoadEnv(t, tempDir, dataFilePath)

	if _, err := os.Stat(dataFilePath); !os.IsNotExist(err) {
		t.Fatal("expected data file to not exist initially")
	}

	if _, err := LoadConfig(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	content, err := os.ReadFile(dataFilePath)
	if err != nil {
		t.Fatalf("failed to read data file: %v", err)
	}
	if string(content) != "{}" {
		t.Errorf("expected '{}', got '%s'", string(content))
	}
}

func TestLoadConfig_UsesExistingDataFile(t *testing.T) {
	tempDir := t.TempDir()
	dataDir := filepath.Join(tempDir, "data")
	dataFilePath := filepath.Join(dataDir, "document.json")

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		t.Fatalf("failed to create data dir: %v", err)
	}
	existingContent := `{"stacks":[],"pages":[]}`
	if err := os.WriteFile(dataFilePath, []byte(existingContent), 0644); err != nil {
		t.Fatalf("failed to write data file: %v", err)
	}
	setLoadEnv(t, tempDir, dataFilePath)

	if _, err := LoadConfig(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	content, err := os.ReadFile(dataFilePath)
	if err != nil {
		t.Fatalf("failed to read data file: %v", err)
	}
	if string(content) != existingContent {
		t.Errorf("expected '%s', got '%s'", existingContent, string(content))
	}
}

func TestLoadConfig_SQLiteSkipsDataFile(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "db", "document.db")
	setLoadEnv(t, tempDir, dbPath)
	t.Setenv("LEAF_DATA_REPOSITORY_TYPE", "sqlite")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Data.RepositoryType != "sqlite" {
		t.Errorf("expected sqlite, got %q", cfg.Data.RepositoryType)
	}
	if _, err := os.Stat(filepath.Dir(dbPath)); err != nil {
		t.Errorf("expected parent dir to exist: %v", err)
	}
	if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
		t.Error("expected no placeholder file for sqlite")
	}
}

func TestLoadDotEnv_MissingFileIsFine(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("expected nil for missing .env, got %v", err)
	}
}

func TestLoadDotEnv_SetsVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("LEAF_TEST_DOTENV=hello\n"), 0o644); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("LEAF_TEST_DOTENV") })

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := os.Getenv("LEAF_TEST_DOTENV"); got != "hello" {
		t.Errorf("expected hello, got %q", got)
	}
}
