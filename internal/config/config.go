package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bassista/go_leaf/internal/logger"
	"github.com/bassista/go_leaf/internal/page"
	"github.com/bassista/go_leaf/internal/pattern"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	Data    DataConfig
	Storage StorageConfig
	Cache   CacheConfig
	Render  RenderConfig
	Export  ExportConfig
	Misc    MiscConfig
}

type ServerConfig struct {
	Port               int           `json:"port" validate:"min=1,max=65535"`
	ReadTimeout        time.Duration `json:"readTimeout" validate:"gt=0"`
	WriteTimeout       time.Duration `json:"writeTimeout" validate:"gt=0"`
	IdleTimeout        time.Duration `json:"idleTimeout" validate:"gt=0"`
	ShutDownTimeout    time.Duration `json:"shutdownTimeout" validate:"gt=0"`
	RequestTimeout     time.Duration `json:"requestTimeout" validate:"gt=0"`
	CORSAllowedOrigins string        `json:"corsAllowedOrigins"`
}

type DataConfig struct {
	RepositoryType  string        `json:"repositoryType" validate:"omitempty,oneof=json sqlite"`
	FilePath        string        `json:"filePath" validate:"required"`
	PersistInterval time.Duration `json:"persistInterval" validate:"gt=0"`
}

type StorageConfig struct {
	TextureRoot  string `json:"textureRoot" validate:"required"`
	InkDir       string `json:"inkDir" validate:"required"`
	KeepVersions int    `json:"keepVersions" validate:"min=2"`
}

// CacheConfig tunes the background cache. The memory budget, the
// prefetch radius and the sweep interval decide how eagerly pages are
// kept rendered.
type CacheConfig struct {
	MemoryBudgetMB  int64         `json:"memoryBudgetMb" validate:"gt=0"`
	PrefetchRadius  int           `json:"prefetchRadius" validate:"min=0"`
	RenderWorkers   int           `json:"renderWorkers" validate:"min=1"`
	SweepInterval   time.Duration `json:"sweepInterval" validate:"gt=0"`
	PageWidth       int           `json:"pageWidth" validate:"gt=0"`
	PageHeight      int           `json:"pageHeight" validate:"gt=0"`
	ThumbnailWidth  int           `json:"thumbnailWidth" validate:"gt=0"`
	ThumbnailHeight int           `json:"thumbnailHeight" validate:"gt=0"`
}

type RenderConfig struct {
	BasisWidth float64 `json:"basisWidth" validate:"gt=0"`
	Fit        string  `json:"fit" validate:"oneof=letterbox crop"`
	Paper      string  `json:"paper" validate:"hexcolor"`
}

type ExportConfig struct {
	Dir             string        `json:"dir" validate:"required"`
	URLPrefix       string        `json:"urlPrefix" validate:"required,startswith=/"`
	DefaultRotation string        `json:"defaultRotation"`
	ImageScale      float64       `json:"imageScale" validate:"gt=0,lte=8"`
	JanitorSchedule string        `json:"janitorSchedule" validate:"required"`
	MaxAge          time.Duration `json:"maxAge" validate:"gt=0"`
}

type MiscConfig struct {
	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat" validate:"omitempty,oneof=text json"`
	GinMode   string `json:"ginMode" validate:"omitempty,oneof=debug release test"`
}

// PageSize is the size the cache renders full pages at.
func (c CacheConfig) PageSize() page.Size { return page.Size{W: c.PageWidth, H: c.PageHeight} }

// ThumbnailSize is the size list rows and stored thumbnails use.
func (c CacheConfig) ThumbnailSize() page.Size {
	return page.Size{W: c.ThumbnailWidth, H: c.ThumbnailHeight}
}

// MemoryBudget is the budget in bytes.
func (c CacheConfig) MemoryBudget() int64 { return c.MemoryBudgetMB << 20 }

// Pattern is the renderer configuration.
func (r RenderConfig) Pattern() pattern.Config {
	return pattern.Config{BasisWidth: r.BasisWidth, Fit: pattern.FitPolicy(r.Fit), Paper: r.Paper}
}

// Rotation parses the default export rotation.
func (e ExportConfig) Rotation() page.Rotation {
	r, _ := page.ParseRotation(e.DefaultRotation)
	return r
}

// LoadDotEnv reads .env files into the environment. Missing files are
// not an error.
func LoadDotEnv(files ...string) error {
	err := godotenv.Load(files...)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// LoadConfig reads config.yaml from LEAF_CONFIG_DIR (default ./config).
func LoadConfig() (*Config, error) {
	return Load(getEnvOrDefault("LEAF_CONFIG_DIR", "./config"))
}

// Load reads config.yaml from dir, applies LEAF_* environment overrides
// and validates the result. A missing file means defaults only.
func Load(dir string) (*Config, error) {
	log := logger.WithComponent("config")
	viper.Reset()
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(dir)
	setDefaults()

	// Environment variables like LEAF_CACHE_MEMORY_BUDGET_MB override cache.memory_budget_mb
	viper.SetEnvPrefix("LEAF")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file error: %w", err)
		}
		log.Infof("no config file in %s, using defaults and env vars", dir)
	} else {
		log.Debugf("using config file %s", viper.ConfigFileUsed())
	}

	port, err := getEnvOrViperPort("PORT", "server.port")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               port,
			ReadTimeout:        viper.GetDuration("server.read_timeout"),
			WriteTimeout:       viper.GetDuration("server.write_timeout"),
			IdleTimeout:        viper.GetDuration("server.idle_timeout"),
			ShutDownTimeout:    viper.GetDuration("server.shutdown_timeout"),
			RequestTimeout:     viper.GetDuration("server.request_timeout"),
			CORSAllowedOrigins: viper.GetString("server.cors_allowed_origins"),
		},
		Data: DataConfig{
			RepositoryType:  strings.ToLower(viper.GetString("data.repository_type")),
			FilePath:        viper.GetString("data.file_path"),
			PersistInterval: viper.GetDuration("data.persist_interval"),
		},
		Storage: StorageConfig{
			TextureRoot:  viper.GetString("storage.texture_root"),
			InkDir:       viper.GetString("storage.ink_dir"),
			KeepVersions: viper.GetInt("storage.keep_versions"),
		},
		Cache: CacheConfig{
			MemoryBudgetMB:  viper.GetInt64("cache.memory_budget_mb"),
			PrefetchRadius:  viper.GetInt("cache.prefetch_radius"),
			RenderWorkers:   viper.GetInt("cache.render_workers"),
			SweepInterval:   viper.GetDuration("cache.sweep_interval"),
			PageWidth:       viper.GetInt("cache.page_width"),
			PageHeight:      viper.GetInt("cache.page_height"),
			ThumbnailWidth:  viper.GetInt("cache.thumbnail_width"),
			ThumbnailHeight: viper.GetInt("cache.thumbnail_height"),
		},
		Render: RenderConfig{
			BasisWidth: viper.GetFloat64("render.basis_width"),
			Fit:        strings.ToLower(viper.GetString("render.fit")),
			Paper:      viper.GetString("render.paper"),
		},
		Export: ExportConfig{
			Dir:             viper.GetString("export.dir"),
			URLPrefix:       viper.GetString("export.url_prefix"),
			DefaultRotation: viper.GetString("export.default_rotation"),
			ImageScale:      viper.GetFloat64("export.image_scale"),
			JanitorSchedule: viper.GetString("export.janitor_schedule"),
			MaxAge:          viper.GetDuration("export.max_age"),
		},
		Misc: MiscConfig{
			LogLevel:  viper.GetString("misc.log_level"),
			LogFormat: strings.ToLower(viper.GetString("misc.log_format")),
			GinMode:   viper.GetString("misc.gin_mode"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := ensureDataFile(cfg.Data); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8084)
	viper.SetDefault("server.read_timeout", 10*time.Second)
	viper.SetDefault("server.write_timeout", 60*time.Second)
	viper.SetDefault("server.idle_timeout", 120*time.Second)
	viper.SetDefault("server.shutdown_timeout", 5*time.Second)
	viper.SetDefault("server.request_timeout", 30*time.Second)
	viper.SetDefault("server.cors_allowed_origins", "*")

	viper.SetDefault("data.repository_type", "json")
	viper.SetDefault("data.file_path", "./config/data/document.json")
	viper.SetDefault("data.persist_interval", 5*time.Second)

	viper.SetDefault("storage.texture_root", "./data/textures")
	viper.SetDefault("storage.ink_dir", "./data/ink")
	viper.SetDefault("storage.keep_versions", 2)

	viper.SetDefault("cache.memory_budget_mb", 256)
	viper.SetDefault("cache.prefetch_radius", 1)
	viper.SetDefault("cache.render_workers", 2)
	viper.SetDefault("cache.sweep_interval", 2*time.Second)
	viper.SetDefault("cache.page_width", 768)
	viper.SetDefault("cache.page_height", 1024)
	viper.SetDefault("cache.thumbnail_width", 96)
	viper.SetDefault("cache.thumbnail_height", 128)

	viper.SetDefault("render.basis_width", 768)
	viper.SetDefault("render.fit", string(pattern.FitLetterbox))
	viper.SetDefault("render.paper", "#FFFFFF")

	viper.SetDefault("export.dir", "./data/exports")
	viper.SetDefault("export.url_prefix", "/artifacts/")
	viper.SetDefault("export.default_rotation", "portrait")
	viper.SetDefault("export.image_scale", 1.0)
	viper.SetDefault("export.janitor_schedule", "@hourly")
	viper.SetDefault("export.max_age", 24*time.Hour)

	viper.SetDefault("misc.log_level", "info")
	viper.SetDefault("misc.log_format", "text")
	viper.SetDefault("misc.gin_mode", "release")
}

var validate = validator.New()

func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Cache.ThumbnailWidth > c.Cache.PageWidth || c.Cache.ThumbnailHeight > c.Cache.PageHeight {
		return fmt.Errorf("invalid configuration: thumbnail %s larger than page %s", c.Cache.ThumbnailSize(), c.Cache.PageSize())
	}
	if _, err := page.ParseRotation(c.Export.DefaultRotation); err != nil {
		return fmt.Errorf("invalid configuration: export.default_rotation: %w", err)
	}
	if c.Cache.PageSize().Bytes() > c.Cache.MemoryBudget() {
		return fmt.Errorf("invalid configuration: memory budget %dMB cannot hold one %s page", c.Cache.MemoryBudgetMB, c.Cache.PageSize())
	}
	return nil
}

// ensureDataFile creates an empty JSON document, or the SQLite parent
// directory, so a first start works without setup.
func ensureDataFile(d DataConfig) error {
	if err := os.MkdirAll(filepath.Dir(d.FilePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if d.RepositoryType == "sqlite" {
		return nil
	}
	if _, err := os.Stat(d.FilePath); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat data file: %w", err)
	}
	if err := os.WriteFile(d.FilePath, []byte("{}"), 0o644); err != nil {
		return fmt.Errorf("create data file: %w", err)
	}
	logger.WithComponent("config").Infof("created empty document at %s", d.FilePath)
	return nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvOrViperPort(envKey, viperKey string) (int, error) {
	if v := os.Getenv(envKey); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", envKey, v, err)
		}
		return port, nil
	}
	return viper.GetInt(viperKey), nil
}
