package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for docuextract-pro
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Vision     VisionConfig     `mapstructure:"vision"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address      string   `mapstructure:"address"`
	Port         int      `mapstructure:"port"`
	ReadTimeout  int      `mapstructure:"read_timeout"`
	WriteTimeout int      `mapstructure:"write_timeout"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// ProcessingConfig holds extraction pipeline settings
type ProcessingConfig struct {
	MaxUploadSize      int64    `mapstructure:"max_upload_size"`
	AllowedExtensions  []string `mapstructure:"allowed_extensions"`
	Workers            int      `mapstructure:"workers"`
	QueueSize          int      `mapstructure:"queue_size"`
	MaxPages           int      `mapstructure:"max_pages"`
	RasterDPI          int      `mapstructure:"raster_dpi"`
	TextLimit          int      `mapstructure:"text_limit"`
	SignatureThreshold float64  `mapstructure:"signature_threshold"`
	OCRLanguages       []string `mapstructure:"ocr_languages"`
}

// VisionConfig holds Ollama vision runtime settings
type VisionConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	TextModel   string        `mapstructure:"text_model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxPages    int           `mapstructure:"max_pages"`
	RasterDPI   int           `mapstructure:"raster_dpi"`
	RatePerSec  float64       `mapstructure:"rate_per_sec"`
	RateBurst   int           `mapstructure:"rate_burst"`
}

// StorageConfig holds filesystem and database settings
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
	BadgerPath string `mapstructure:"badger_path"`
	UploadDir  string `mapstructure:"upload_dir"`
	OutputDir  string `mapstructure:"output_dir"`
}

// IngestConfig holds watch-folder settings
type IngestConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	WatchDirs   []string      `mapstructure:"watch_dirs"`
	InitialScan bool          `mapstructure:"initial_scan"`
	Debounce    time.Duration `mapstructure:"debounce"`
}

// RetentionConfig holds the sweeper schedule and age limits
type RetentionConfig struct {
	Schedule       string        `mapstructure:"schedule"`
	UploadMaxAge   time.Duration `mapstructure:"upload_max_age"`
	ArtifactMaxAge time.Duration `mapstructure:"artifact_max_age"`
	HistoryMaxAge  time.Duration `mapstructure:"history_max_age"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if dataDir == "" {
		dataDir = getDefaultDataDir()
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	v.Set("storage.data_dir", dataDir)
	v.SetDefault("storage.sqlite_path", filepath.Join(dataDir, "docuextract.db"))
	v.SetDefault("storage.badger_path", filepath.Join(dataDir, "badger"))
	v.SetDefault("storage.upload_dir", filepath.Join(dataDir, "uploads"))
	v.SetDefault("storage.output_dir", filepath.Join(dataDir, "output"))

	if configPath == "" {
		configPath = DefaultPath(dataDir)
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Environment variables (DOCUEXTRACT_SERVER_PORT, DOCUEXTRACT_VISION_BASE_URL, etc.)
	v.SetEnvPrefix("DOCUEXTRACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	for _, dir := range []string{cfg.Storage.UploadDir, cfg.Storage.OutputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", "127.0.0.1")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.allow_origins", []string{"*"})

	// Processing defaults
	v.SetDefault("processing.max_upload_size", int64(50*1024*1024))
	v.SetDefault("processing.allowed_extensions", []string{".pdf", ".png", ".jpg", ".jpeg", ".tiff", ".bmp", ".gif", ".html", ".htm"})
	v.SetDefault("processing.workers", 2)
	v.SetDefault("processing.queue_size", 16)
	v.SetDefault("processing.max_pages", 20)
	v.SetDefault("processing.raster_dpi", 200)
	v.SetDefault("processing.text_limit", 30000)
	v.SetDefault("processing.signature_threshold", 0.6)
	v.SetDefault("processing.ocr_languages", []string{"eng"})

	// Vision defaults
	v.SetDefault("vision.enabled", true)
	v.SetDefault("vision.base_url", "http://localhost:11434")
	v.SetDefault("vision.model", "llava:7b")
	v.SetDefault("vision.text_model", "llama3.1:latest")
	v.SetDefault("vision.timeout", "120s")
	v.SetDefault("vision.max_pages", 5)
	v.SetDefault("vision.raster_dpi", 150)
	v.SetDefault("vision.rate_per_sec", 1.0)
	v.SetDefault("vision.rate_burst", 2)

	// Ingest defaults
	v.SetDefault("ingest.enabled", false)
	v.SetDefault("ingest.initial_scan", false)
	v.SetDefault("ingest.debounce", "2s")

	// Retention defaults
	v.SetDefault("retention.schedule", "@hourly")
	v.SetDefault("retention.upload_max_age", "24h")
	v.SetDefault("retention.artifact_max_age", "168h")
	v.SetDefault("retention.history_max_age", "720h")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
}

// DefaultPath returns the config file location used when none is given
func DefaultPath(dataDir string) string {
	if dataDir == "" {
		dataDir = getDefaultDataDir()
	}
	return filepath.Join(dataDir, "docuextract.yaml")
}

func getDefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "docuextract")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "docuextract")
}

// loadEnvOverrides loads specific env vars that Viper misses when no config
// file key exists for them
func loadEnvOverrides(cfg *Config) {
	cfg.Server.Address = GetEnvDefault("DOCUEXTRACT_SERVER_ADDRESS", cfg.Server.Address)
	if port := os.Getenv("DOCUEXTRACT_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	// Plain Ollama variable names are honoured as aliases
	if v := ResolveEnvWithAliases("DOCUEXTRACT_VISION_BASE_URL"); v != "" {
		cfg.Vision.BaseURL = v
	}
	if v := ResolveEnvWithAliases("DOCUEXTRACT_VISION_MODEL"); v != "" {
		cfg.Vision.Model = v
	}
	if v := ResolveEnvWithAliases("DOCUEXTRACT_VISION_TEXT_MODEL"); v != "" {
		cfg.Vision.TextModel = v
	}

	cfg.Storage.OutputDir = GetEnvDefault("DOCUEXTRACT_STORAGE_OUTPUT_DIR", cfg.Storage.OutputDir)

	for i, dir := range cfg.Ingest.WatchDirs {
		cfg.Ingest.WatchDirs[i] = expandPath(dir)
	}
}

func validate(cfg *Config) error {
	if cfg.Processing.Workers <= 0 {
		cfg.Processing.Workers = 2
	}
	if cfg.Processing.QueueSize <= 0 {
		cfg.Processing.QueueSize = 16
	}
	if cfg.Processing.MaxUploadSize <= 0 {
		return fmt.Errorf("processing.max_upload_size must be positive")
	}
	if len(cfg.Processing.AllowedExtensions) == 0 {
		return fmt.Errorf("processing.allowed_extensions must not be empty")
	}
	if cfg.Processing.SignatureThreshold <= 0 || cfg.Processing.SignatureThreshold > 1 {
		return fmt.Errorf("processing.signature_threshold must be in (0, 1]")
	}
	if cfg.Vision.Enabled && cfg.Vision.BaseURL == "" {
		return fmt.Errorf("vision.base_url is required when vision is enabled")
	}
	if cfg.Ingest.Enabled && len(cfg.Ingest.WatchDirs) == 0 {
		return fmt.Errorf("ingest.watch_dirs is required when ingest is enabled")
	}
	return nil
}

// AllowedExtension reports whether ext (with leading dot, any case) is accepted
func (c *Config) AllowedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, allowed := range c.Processing.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// WriteDefault writes a config file populated with defaults to path.
// Existing files are left untouched.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	v := viper.New()
	setDefaults(v)

	data, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
