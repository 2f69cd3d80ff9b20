package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for trackd.
type Config struct {
	BaseDir        string `toml:"base_dir"`
	LogDir         string `toml:"log_dir"`
	ContentBaseURL string `toml:"content_base_url"`

	// LogLevel is the minimum level written to the log: "debug", "info",
	// "warn" or "error". Unset means "info".
	LogLevel string `toml:"log_level,omitempty"`

	// TrackGroupContent controls whether content served through group
	// stores is recorded. Unset means enabled.
	TrackGroupContent *bool `toml:"track_group_content,omitempty"`

	// DeletionGuardCheck makes batch deletion consult the promote service
	// and withhold paths that were promoted onward.
	DeletionGuardCheck bool `toml:"deletion_guard_check"`

	Store       StoreConfig    `toml:"store"`
	Events      EventsConfig   `toml:"events"`
	Server      ServerConfig   `toml:"server"`
	Maintenance EndpointConfig `toml:"maintenance"`
	Promote     EndpointConfig `toml:"promote"`
}

// StoreConfig represents configuration for the record store backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type string `toml:"type"` // "memory", "filesystem", "sqlite", or "s3"
	Name string `toml:"name"`

	// Filesystem-specific fields (only used when Type == "filesystem")
	FSBaseDir string `toml:"fs_base_dir,omitempty"`

	// SQLite-specific fields (only used when Type == "sqlite")
	DataDir string `toml:"data_dir,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// EventsConfig represents configuration for the event transport.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type EventsConfig struct {
	Type string `toml:"type"` // "memory" or "redis"

	// Redis-specific fields (only used when Type == "redis")
	RedisAddr     string `toml:"redis_addr,omitempty"`
	RedisPassword string `toml:"redis_password,omitempty"`
	RedisDB       int    `toml:"redis_db,omitempty"`
	FileStream    string `toml:"file_stream,omitempty"`
	PromoteStream string `toml:"promote_stream,omitempty"`
	ConsumerGroup string `toml:"consumer_group,omitempty"`
	ConsumerName  string `toml:"consumer_name,omitempty"`
}

// ServerConfig holds the admin API listener settings.
type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// EndpointConfig points at a collaborating repository service. An empty URL
// disables the collaborator.
type EndpointConfig struct {
	URL            string `toml:"url,omitempty"`
	TimeoutSeconds int    `toml:"timeout_seconds,omitempty"`
}

// TrackGroupContentEnabled resolves the group-content toggle, defaulting to
// enabled when the field is absent from the config file.
func (c *Config) TrackGroupContentEnabled() bool {
	if c.TrackGroupContent == nil {
		return true
	}
	return *c.TrackGroupContent
}

// NewConfig creates a new Config with the provided base directory and
// sensible defaults.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:        baseDir,
		LogDir:         filepath.Join(baseDir, "log"),
		ContentBaseURL: "http://localhost:8080",
		Store: StoreConfig{
			Type:      "filesystem",
			Name:      "records",
			FSBaseDir: filepath.Join(baseDir, "records"),
		},
		Events: EventsConfig{
			Type: "memory",
		},
		Server: ServerConfig{
			ListenAddr: ":8081",
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
// This is an internal helper and should not be exported.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
