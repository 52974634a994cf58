package config

import (
	"crypto/sha256"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	DatabasePath  string `json:"database_path"`
	APIPort       string `json:"api_port"`
	LogLevel      string `json:"log_level"`
	DataDir       string `json:"data_dir"`
	JWTSecret     string `json:"jwt_secret"`
	EncryptionKey string `json:"encryption_key"` // key for the file-backed credential vault
	CORSOrigins   string `json:"cors_origins"`   // comma separated origins, * means all

	VaultBackend string `json:"vault_backend"` // "keyring" or "file"

	SyncIntervalMinutes int `json:"sync_interval_minutes"` // periodic sync for accounts without push
	PollIntervalMinutes int `json:"poll_interval_minutes"` // STATUS polling when IDLE is unsupported
	FullSyncWindowDays  int `json:"full_sync_window_days"` // message age cutoff for full sync
	FlagRecheckWindow   int `json:"flag_recheck_window"`   // newest N known UIDs rechecked for flags
}

// Default configuration values
const (
	DefaultDatabasePath  = "data/mailsync.db"
	DefaultAPIPort       = "8080"
	DefaultLogLevel      = "INFO"
	DefaultDataDir       = "data"
	DefaultJWTSecret     = "mailsync-default-secret-change-in-production"
	DefaultEncryptionKey = "" // empty derives from JWTSecret
	DefaultCORSOrigins   = "*"
	DefaultVaultBackend  = "keyring"

	DefaultSyncIntervalMinutes = 15
	DefaultPollIntervalMinutes = 5
	DefaultFullSyncWindowDays  = 90
	DefaultFlagRecheckWindow   = 200
)

// Load loads configuration from environment variables and config file
// Priority: Environment variables > Config file > Default values
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath:  DefaultDatabasePath,
		APIPort:       DefaultAPIPort,
		LogLevel:      DefaultLogLevel,
		DataDir:       DefaultDataDir,
		JWTSecret:     DefaultJWTSecret,
		EncryptionKey: DefaultEncryptionKey,
		CORSOrigins:   DefaultCORSOrigins,
		VaultBackend:  DefaultVaultBackend,

		SyncIntervalMinutes: DefaultSyncIntervalMinutes,
		PollIntervalMinutes: DefaultPollIntervalMinutes,
		FullSyncWindowDays:  DefaultFullSyncWindowDays,
		FlagRecheckWindow:   DefaultFlagRecheckWindow,
	}

	// Try to load from config file
	if err := cfg.loadFromFile(); err != nil {
		// Config file is optional, log but don't fail
	}

	// Override with environment variables
	cfg.loadFromEnv()

	return cfg, nil
}

// loadFromFile loads configuration from config.json file
func (c *Config) loadFromFile() error {
	// Look for config file in current directory and data directory
	configPaths := []string{
		"config.json",
		filepath.Join(c.DataDir, "config.json"),
	}

	for _, path := range configPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		if err := json.Unmarshal(data, c); err != nil {
			return err
		}
		return nil
	}

	return nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() {
	if val := os.Getenv("MAILSYNC_DATABASE_PATH"); val != "" {
		c.DatabasePath = val
	}
	if val := os.Getenv("MAILSYNC_API_PORT"); val != "" {
		c.APIPort = val
	}
	if val := os.Getenv("MAILSYNC_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
	if val := os.Getenv("MAILSYNC_DATA_DIR"); val != "" {
		c.DataDir = val
	}
	if val := os.Getenv("MAILSYNC_JWT_SECRET"); val != "" {
		c.JWTSecret = val
	}
	if val := os.Getenv("MAILSYNC_ENCRYPTION_KEY"); val != "" {
		c.EncryptionKey = val
	}
	if val := os.Getenv("MAILSYNC_CORS_ORIGINS"); val != "" {
		c.CORSOrigins = val
	}
	if val := os.Getenv("MAILSYNC_VAULT_BACKEND"); val != "" {
		c.VaultBackend = val
	}
	if val := os.Getenv("MAILSYNC_SYNC_INTERVAL_MINUTES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.SyncIntervalMinutes = n
		}
	}
	if val := os.Getenv("MAILSYNC_POLL_INTERVAL_MINUTES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.PollIntervalMinutes = n
		}
	}
	if val := os.Getenv("MAILSYNC_FULL_SYNC_WINDOW_DAYS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.FullSyncWindowDays = n
		}
	}
	if val := os.Getenv("MAILSYNC_FLAG_RECHECK_WINDOW"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.FlagRecheckWindow = n
		}
	}
}

// SyncInterval returns the periodic sync interval as a duration
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalMinutes) * time.Minute
}

// PollInterval returns the STATUS polling interval as a duration
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMinutes) * time.Minute
}

// GetEncryptionKey returns the key used by the file-backed credential vault
// If EncryptionKey is set, use it; otherwise derive from JWTSecret
func (c *Config) GetEncryptionKey() []byte {
	if c.EncryptionKey != "" {
		// SHA-256 guarantees a 32 byte key
		hash := sha256.Sum256([]byte(c.EncryptionKey))
		return hash[:]
	}
	hash := sha256.Sum256([]byte(c.JWTSecret + "-encryption"))
	return hash[:]
}

// Save saves the current configuration to a file
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
