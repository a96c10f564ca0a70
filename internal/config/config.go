package config

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"dupeguard/imagedb/fingerprint"
)

// Storage backends
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
	BackendMinIO  = "minio"
)

// Config represents the bot configuration
type Config struct {
	DataDir      string             `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`
	SecretsFile  string             `json:"secrets_file,omitempty" yaml:"secrets_file,omitempty"`
	Storage      StorageConfig      `json:"storage" yaml:"storage"`
	Fingerprint  FingerprintConfig  `json:"fingerprint" yaml:"fingerprint"`
	Telegram     TelegramConfig     `json:"telegram" yaml:"telegram"`
	RateLimiting RateLimitingConfig `json:"rate_limiting" yaml:"rate_limiting"`
	Metrics      MetricsConfig      `json:"metrics" yaml:"metrics"`
	Maintenance  MaintenanceConfig  `json:"maintenance" yaml:"maintenance"`
	Debug        DebugConfig        `json:"debug,omitempty" yaml:"debug,omitempty"`
}

// StorageConfig selects where accepted images are kept
type StorageConfig struct {
	Backend string `json:"backend" yaml:"backend"` // "file", "sqlite", "memory" or "minio"
	// Path is the storage root. One directory (file) or database (sqlite)
	// per chat is created beneath it. Relative paths are resolved against
	// the data directory.
	Path  string      `json:"path,omitempty" yaml:"path,omitempty"`
	MinIO MinIOConfig `json:"minio,omitempty" yaml:"minio,omitempty"`
}

// MinIOConfig contains S3-compatible object store settings
type MinIOConfig struct {
	Endpoint  string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	AccessKey string `json:"access_key,omitempty" yaml:"access_key,omitempty"` // Supports ${ENV_VAR} expansion
	SecretKey string `json:"secret_key,omitempty" yaml:"secret_key,omitempty"` // Supports ${ENV_VAR} expansion
	Bucket    string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Prefix    string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Region    string `json:"region,omitempty" yaml:"region,omitempty"`
	UseSSL    bool   `json:"use_ssl,omitempty" yaml:"use_ssl,omitempty"`
}

// FingerprintConfig pairs a hash algorithm with its duplicate threshold
type FingerprintConfig struct {
	Algorithm        string  `json:"algorithm" yaml:"algorithm"` // "phash", "dhash" or "ahash"
	Threshold        float64 `json:"threshold" yaml:"threshold"`
	RehydrateWorkers int     `json:"rehydrate_workers,omitempty" yaml:"rehydrate_workers,omitempty"`
}

// TelegramConfig contains bot transport settings
type TelegramConfig struct {
	BotToken    string   `json:"bot_token" yaml:"bot_token"` // Supports ${ENV_VAR} expansion
	WebhookMode bool     `json:"webhook_mode,omitempty" yaml:"webhook_mode,omitempty"`
	WebhookURL  string   `json:"webhook_url,omitempty" yaml:"webhook_url,omitempty"`
	ListenAddr  string   `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty"`
	Debug       bool     `json:"debug,omitempty" yaml:"debug,omitempty"`
	Extensions  []string `json:"extensions,omitempty" yaml:"extensions,omitempty"`
	DownloadRPS float64  `json:"download_rps,omitempty" yaml:"download_rps,omitempty"`
}

// RateLimitingConfig limits how many images one user may submit
type RateLimitingConfig struct {
	Enabled                bool `json:"enabled" yaml:"enabled"`
	WindowSeconds          int  `json:"window_seconds" yaml:"window_seconds"`
	MaxRequests            int  `json:"max_requests" yaml:"max_requests"`
	CleanupIntervalSeconds int  `json:"cleanup_interval_seconds" yaml:"cleanup_interval_seconds"`
}

// MetricsConfig contains the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	ListenAddr string `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty"`
}

// MaintenanceConfig schedules the storage audit
type MaintenanceConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"` // cron expression
}

// DebugConfig contains debugging and logging settings
type DebugConfig struct {
	VerboseLogging bool `json:"verbose_logging,omitempty" yaml:"verbose_logging,omitempty"`
}

// Default returns a default configuration
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: BackendFile,
			Path:    "images",
			MinIO: MinIOConfig{
				AccessKey: "${MINIO_ACCESS_KEY}",
				SecretKey: "${MINIO_SECRET_KEY}",
				Bucket:    "dupeguard",
				Prefix:    "images",
			},
		},
		Fingerprint: FingerprintConfig{
			Algorithm: string(fingerprint.PerceptionHash),
			Threshold: fingerprint.DefaultThreshold,
		},
		Telegram: TelegramConfig{
			BotToken:    "${TELEGRAM_BOT_TOKEN}",
			ListenAddr:  ":8080",
			Extensions:  []string{"png", "jpg", "jpeg"},
			DownloadRPS: 20,
		},
		RateLimiting: RateLimitingConfig{
			Enabled:                true,
			WindowSeconds:          60, // 1 minute window
			MaxRequests:            30, // 30 images per minute per user
			CleanupIntervalSeconds: 300,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: ":9090",
		},
		Maintenance: MaintenanceConfig{
			Enabled:  true,
			Schedule: "0 4 * * *", // daily at 04:00
		},
	}
}

// isYAML reports whether path should be read and written as YAML.
func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	// Check if file exists, create default if not
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
		fmt.Printf("Created default configuration at %s\n", path)
		return finish(cfg)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return finish(cfg)
}

// finish expands paths and secrets, then validates.
func finish(cfg *Config) (*Config, error) {
	// Expand tilde in path fields before anything else so that
	// secrets_file can reference ~/... paths.
	cfg.expandTilde()

	// Load secrets file (KEY=VALUE) into the environment before
	// expanding ${ENV_VAR} placeholders in the config.
	if err := cfg.loadSecretsFile(); err != nil {
		return nil, fmt.Errorf("failed to load secrets file: %w", err)
	}

	cfg.expandEnvVars()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// expandEnvVars expands environment variables in configuration values
func (c *Config) expandEnvVars() {
	c.DataDir = os.ExpandEnv(c.DataDir)
	c.SecretsFile = os.ExpandEnv(c.SecretsFile)
	c.Storage.Path = os.ExpandEnv(c.Storage.Path)

	c.Storage.MinIO.Endpoint = os.ExpandEnv(c.Storage.MinIO.Endpoint)
	c.Storage.MinIO.AccessKey = os.ExpandEnv(c.Storage.MinIO.AccessKey)
	c.Storage.MinIO.SecretKey = os.ExpandEnv(c.Storage.MinIO.SecretKey)

	c.Telegram.BotToken = os.ExpandEnv(c.Telegram.BotToken)
	c.Telegram.WebhookURL = os.ExpandEnv(c.Telegram.WebhookURL)
}

// Validate validates the entire configuration
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendFile, BackendSQLite, BackendMemory:
	case BackendMinIO:
		if c.Storage.MinIO.Endpoint == "" || c.Storage.MinIO.Bucket == "" {
			return fmt.Errorf("minio storage requires endpoint and bucket")
		}
	default:
		return fmt.Errorf("unknown storage backend '%s'", c.Storage.Backend)
	}

	if _, err := fingerprint.NewPerceptualHasher(fingerprint.Algorithm(c.Fingerprint.Algorithm)); err != nil {
		return fmt.Errorf("invalid fingerprint configuration: %w", err)
	}
	if c.Fingerprint.Threshold < 0 {
		return fmt.Errorf("fingerprint threshold must not be negative")
	}
	if c.Fingerprint.RehydrateWorkers < 0 {
		return fmt.Errorf("rehydrate_workers must not be negative")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.WindowSeconds <= 0 || c.RateLimiting.MaxRequests <= 0 {
			return fmt.Errorf("invalid rate limiting configuration")
		}
	}

	if c.Telegram.WebhookMode && c.Telegram.WebhookURL == "" {
		return fmt.Errorf("webhook mode requires webhook_url")
	}
	if c.Telegram.DownloadRPS < 0 {
		return fmt.Errorf("download_rps must not be negative")
	}

	return nil
}

// StorageRoot returns the storage path, resolved against dataRoot when it
// is relative.
func (c *Config) StorageRoot(dataRoot string) string {
	p := c.Storage.Path
	if p == "" {
		p = "images"
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dataRoot, p)
}

// Extensions returns the accepted file extensions, lowercased.
func (c *Config) Extensions() []string {
	exts := c.Telegram.Extensions
	if len(exts) == 0 {
		exts = Default().Telegram.Extensions
	}
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		out = append(out, strings.ToLower(strings.TrimPrefix(e, ".")))
	}
	return out
}

// expandTilde replaces a leading "~/" with the user's home directory in
// path-valued config fields. Called before env-var expansion so that
// both "~/foo" and "${SOME_PATH}" work.
func (c *Config) expandTilde() {
	home, err := os.UserHomeDir()
	if err != nil {
		return // can't expand, leave as-is
	}
	expand := func(p string) string {
		if p == "~" {
			return home
		}
		if strings.HasPrefix(p, "~/") {
			return filepath.Join(home, p[2:])
		}
		return p
	}

	c.DataDir = expand(c.DataDir)
	c.SecretsFile = expand(c.SecretsFile)
	c.Storage.Path = expand(c.Storage.Path)
}

// loadSecretsFile reads a KEY=VALUE file into the process environment.
// Blank lines and lines starting with '#' are ignored.
// Existing environment variables are NOT overridden (shell/systemd wins).
// If SecretsFile is empty or the file doesn't exist, this is a no-op.
func (c *Config) loadSecretsFile() error {
	if c.SecretsFile == "" {
		return nil
	}

	f, err := os.Open(c.SecretsFile)
	if os.IsNotExist(err) {
		return nil // missing file is fine
	}
	if err != nil {
		return fmt.Errorf("cannot open secrets file %s: %w", c.SecretsFile, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := parseEnvLine(scanner.Text())
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}

// parseEnvLine splits a KEY=VALUE line, stripping optional quotes.
func parseEnvLine(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
	value = strings.TrimSpace(value)

	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return key, value, key != ""
}
