// Package config provides configuration management for promptshelf.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultWorkerPort is the default HTTP port of the worker.
	DefaultWorkerPort = 37790
	// DefaultWorkerHost is the default listen address of the worker.
	DefaultWorkerHost = "127.0.0.1"
	// DefaultModel is the default remote rewriting model.
	DefaultModel = "gemini-3-flash-preview"
	// DefaultBackend is the default persistence backend.
	DefaultBackend = BackendFile
	// DefaultChunkThreshold is the serialized size at which the template
	// collection is split across chunk keys.
	DefaultChunkThreshold = 6144
	// DefaultItemMaxBytes is the per-item ceiling of the persistence layer.
	DefaultItemMaxBytes = 8192
	// DefaultQuotaBytes is the total byte quota of the persistence layer.
	DefaultQuotaBytes = 102400
	// DefaultRemoteTimeoutSec bounds a single remote rewrite call.
	DefaultRemoteTimeoutSec = 30
	// DefaultRedisPrefix namespaces keys in a shared Redis database.
	DefaultRedisPrefix = "promptshelf:"
)

// Persistence backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Backends lists the accepted backend names.
var Backends = []string{BackendMemory, BackendFile, BackendSQLite, BackendPostgres, BackendRedis}

// Config holds all configuration values.
type Config struct {
	WorkerHost       string
	WorkerPort       int
	CORSOrigins      []string
	Backend          string
	FilePath         string
	SQLitePath       string
	PostgresDSN      string
	RedisAddr        string
	RedisPrefix      string
	MaxConns         int
	ChunkThreshold   int
	ItemMaxBytes     int
	QuotaBytes       int
	StrictChunks     bool
	Model            string
	RemoteBaseURL    string
	RemoteTimeoutSec int
	KeyPath          string
	LogLevel         string
}

var (
	globalConfig *Config
	configOnce   sync.Once
)

// DataDir returns the data directory path.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".promptshelf")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// StoragePath returns the default JSON-file backend path.
func StoragePath() string {
	return filepath.Join(DataDir(), "storage.json")
}

// DBPath returns the default SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "promptshelf.db")
}

// KeyPath returns the default path of the API key sealing secret.
func KeyPath() string {
	return filepath.Join(DataDir(), "secret.key")
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		WorkerHost:       DefaultWorkerHost,
		WorkerPort:       DefaultWorkerPort,
		CORSOrigins:      []string{},
		Backend:          DefaultBackend,
		FilePath:         StoragePath(),
		SQLitePath:       DBPath(),
		RedisAddr:        "localhost:6379",
		RedisPrefix:      DefaultRedisPrefix,
		MaxConns:         4,
		ChunkThreshold:   DefaultChunkThreshold,
		ItemMaxBytes:     DefaultItemMaxBytes,
		QuotaBytes:       DefaultQuotaBytes,
		Model:            DefaultModel,
		RemoteTimeoutSec: DefaultRemoteTimeoutSec,
		KeyPath:          KeyPath(),
		LogLevel:         "info",
	}
}

// fileConfig mirrors settings.json. Pointers tell absent keys from zero values.
type fileConfig struct {
	WorkerHost       *string `json:"PROMPTSHELF_WORKER_HOST"`
	WorkerPort       *int    `json:"PROMPTSHELF_WORKER_PORT"`
	CORSOrigins      *string `json:"PROMPTSHELF_CORS_ORIGINS"`
	Backend          *string `json:"PROMPTSHELF_BACKEND"`
	FilePath         *string `json:"PROMPTSHELF_FILE_PATH"`
	SQLitePath       *string `json:"PROMPTSHELF_SQLITE_PATH"`
	PostgresDSN      *string `json:"PROMPTSHELF_POSTGRES_DSN"`
	RedisAddr        *string `json:"PROMPTSHELF_REDIS_ADDR"`
	RedisPrefix      *string `json:"PROMPTSHELF_REDIS_PREFIX"`
	MaxConns         *int    `json:"PROMPTSHELF_MAX_CONNS"`
	ChunkThreshold   *int    `json:"PROMPTSHELF_CHUNK_THRESHOLD"`
	ItemMaxBytes     *int    `json:"PROMPTSHELF_ITEM_MAX_BYTES"`
	QuotaBytes       *int    `json:"PROMPTSHELF_QUOTA_BYTES"`
	StrictChunks     *bool   `json:"PROMPTSHELF_STRICT_CHUNKS"`
	Model            *string `json:"PROMPTSHELF_MODEL"`
	RemoteBaseURL    *string `json:"PROMPTSHELF_REMOTE_BASE_URL"`
	RemoteTimeoutSec *int    `json:"PROMPTSHELF_REMOTE_TIMEOUT"`
	KeyPath          *string `json:"PROMPTSHELF_KEY_PATH"`
	LogLevel         *string `json:"PROMPTSHELF_LOG_LEVEL"`
}

// Load reads configuration from settings.json, then applies environment
// overrides. A missing or unreadable file yields the defaults.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	switch {
	case err == nil:
		var fc fileConfig
		if jsonErr := json.Unmarshal(data, &fc); jsonErr != nil {
			log.Warn().Err(jsonErr).Str("path", SettingsPath()).Msg("Invalid settings file, using defaults")
		} else {
			fc.apply(cfg)
		}
	case !os.IsNotExist(err):
		log.Warn().Err(err).Str("path", SettingsPath()).Msg("Failed to read settings file")
	}

	applyEnv(cfg)
	return cfg, nil
}

func (fc *fileConfig) apply(cfg *Config) {
	setString(&cfg.WorkerHost, fc.WorkerHost)
	setPositive(&cfg.WorkerPort, fc.WorkerPort)
	if fc.CORSOrigins != nil {
		cfg.CORSOrigins = splitTrim(*fc.CORSOrigins)
	}
	setString(&cfg.Backend, fc.Backend)
	setString(&cfg.FilePath, fc.FilePath)
	setString(&cfg.SQLitePath, fc.SQLitePath)
	setString(&cfg.PostgresDSN, fc.PostgresDSN)
	setString(&cfg.RedisAddr, fc.RedisAddr)
	if fc.RedisPrefix != nil {
		cfg.RedisPrefix = *fc.RedisPrefix
	}
	setPositive(&cfg.MaxConns, fc.MaxConns)
	setPositive(&cfg.ChunkThreshold, fc.ChunkThreshold)
	setPositive(&cfg.ItemMaxBytes, fc.ItemMaxBytes)
	setPositive(&cfg.QuotaBytes, fc.QuotaBytes)
	if fc.StrictChunks != nil {
		cfg.StrictChunks = *fc.StrictChunks
	}
	setString(&cfg.Model, fc.Model)
	setString(&cfg.RemoteBaseURL, fc.RemoteBaseURL)
	setPositive(&cfg.RemoteTimeoutSec, fc.RemoteTimeoutSec)
	setString(&cfg.KeyPath, fc.KeyPath)
	setString(&cfg.LogLevel, fc.LogLevel)
}

func setString(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}

func setPositive(dst *int, v *int) {
	if v != nil && *v > 0 {
		*dst = *v
	}
}

// applyEnv overrides cfg with PROMPTSHELF_* environment variables.
// Unparseable numeric values are ignored.
func applyEnv(cfg *Config) {
	strs := map[string]*string{
		"PROMPTSHELF_WORKER_HOST":     &cfg.WorkerHost,
		"PROMPTSHELF_BACKEND":         &cfg.Backend,
		"PROMPTSHELF_FILE_PATH":       &cfg.FilePath,
		"PROMPTSHELF_SQLITE_PATH":     &cfg.SQLitePath,
		"PROMPTSHELF_POSTGRES_DSN":    &cfg.PostgresDSN,
		"PROMPTSHELF_REDIS_ADDR":      &cfg.RedisAddr,
		"PROMPTSHELF_MODEL":           &cfg.Model,
		"PROMPTSHELF_REMOTE_BASE_URL": &cfg.RemoteBaseURL,
		"PROMPTSHELF_KEY_PATH":        &cfg.KeyPath,
		"PROMPTSHELF_LOG_LEVEL":       &cfg.LogLevel,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv("PROMPTSHELF_REDIS_PREFIX"); ok {
		cfg.RedisPrefix = v
	}

	ints := map[string]*int{
		"PROMPTSHELF_WORKER_PORT":     &cfg.WorkerPort,
		"PROMPTSHELF_MAX_CONNS":       &cfg.MaxConns,
		"PROMPTSHELF_CHUNK_THRESHOLD": &cfg.ChunkThreshold,
		"PROMPTSHELF_ITEM_MAX_BYTES":  &cfg.ItemMaxBytes,
		"PROMPTSHELF_QUOTA_BYTES":     &cfg.QuotaBytes,
		"PROMPTSHELF_REMOTE_TIMEOUT":  &cfg.RemoteTimeoutSec,
	}
	for key, dst := range ints {
		if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
			*dst = n
		}
	}

	if b, err := strconv.ParseBool(os.Getenv("PROMPTSHELF_STRICT_CHUNKS")); err == nil {
		cfg.StrictChunks = b
	}
	if v := os.Getenv("PROMPTSHELF_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitTrim(v)
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var problems []string
	known := false
	for _, b := range Backends {
		if c.Backend == b {
			known = true
			break
		}
	}
	if !known {
		problems = append(problems, fmt.Sprintf("unknown backend %q (want one of %s)", c.Backend, strings.Join(Backends, ", ")))
	}
	if c.Backend == BackendPostgres && c.PostgresDSN == "" {
		problems = append(problems, "postgres backend requires PROMPTSHELF_POSTGRES_DSN")
	}
	if c.ChunkThreshold >= c.ItemMaxBytes {
		problems = append(problems, fmt.Sprintf("chunk threshold %d must be below the item ceiling %d", c.ChunkThreshold, c.ItemMaxBytes))
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// Get returns the global configuration, loading it on first call.
func Get() *Config {
	configOnce.Do(func() {
		var err error
		globalConfig, err = Load()
		if err != nil {
			globalConfig = Default()
		}
	})
	return globalConfig
}

// GetWorkerPort returns the worker port from PROMPTSHELF_WORKER_PORT or config.
func GetWorkerPort() int {
	if n, err := strconv.Atoi(os.Getenv("PROMPTSHELF_WORKER_PORT")); err == nil && n > 0 {
		return n
	}
	return Get().WorkerPort
}

// EnsureDataDir creates the data directory if it does not exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings writes a default settings.json if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	d := Default()
	defaults := map[string]interface{}{
		"PROMPTSHELF_WORKER_PORT":     d.WorkerPort,
		"PROMPTSHELF_BACKEND":         d.Backend,
		"PROMPTSHELF_MODEL":           d.Model,
		"PROMPTSHELF_CHUNK_THRESHOLD": d.ChunkThreshold,
		"PROMPTSHELF_STRICT_CHUNKS":   d.StrictChunks,
		"PROMPTSHELF_LOG_LEVEL":       d.LogLevel,
	}
	data, err := json.MarshalIndent(defaults, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureAll creates the data directory and default settings.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// splitTrim splits a comma-separated list, trimming and dropping empties.
func splitTrim(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
