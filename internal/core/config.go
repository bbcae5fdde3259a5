package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"attache/internal/journal"
	"attache/internal/mimes"
	"attache/internal/rendition"
	"attache/internal/storage"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultLogLevel = "info"
	DefaultListen   = ":9000"
	DefaultPrefix   = "public"

	accessKeyEnvKey = "ATTACHE_S3_ACCESS_KEY"
	secretKeyEnvKey = "ATTACHE_S3_SECRET_KEY"
	passwordEnvKey  = "ATTACHE_SERVER_PASSWORD"
)

// ServerConfig configures the browse server.
type ServerConfig struct {
	Listen   string `toml:"listen" yaml:"listen"`
	Username string `toml:"username" yaml:"username"`
	Password string `toml:"password" yaml:"password"`
}

// Config is the complete runtime configuration.
type Config struct {
	LogLevel string `toml:"log_level" yaml:"log_level"`

	// Prefix is prepended to every attachment key. With the local driver
	// it should name the public subdirectory so stored blobs get URLs.
	Prefix string `toml:"prefix" yaml:"prefix"`

	Storage     storage.Config       `toml:"storage" yaml:"storage"`
	Journal     journal.Config       `toml:"journal" yaml:"journal"`
	Sizes       []rendition.SizeSpec `toml:"sizes" yaml:"sizes"`
	JPEGQuality int                  `toml:"jpeg_quality" yaml:"jpeg_quality"`
	FileTypes   mimes.Table          `toml:"file_types" yaml:"file_types"`
	ImageTypes  mimes.Table          `toml:"image_types" yaml:"image_types"`
	Server      ServerConfig         `toml:"server" yaml:"server"`
}

type ConfigOption func(*Config)

func WithStorage(cfg storage.Config) ConfigOption {
	return func(c *Config) {
		c.Storage = cfg
	}
}

func WithJournal(cfg journal.Config) ConfigOption {
	return func(c *Config) {
		c.Journal = cfg
	}
}

func WithSizes(sizes ...rendition.SizeSpec) ConfigOption {
	return func(c *Config) {
		c.Sizes = sizes
	}
}

func WithPrefix(prefix string) ConfigOption {
	return func(c *Config) {
		c.Prefix = prefix
	}
}

func WithLogLevel(level string) ConfigOption {
	return func(c *Config) {
		c.LogLevel = level
	}
}

func WithServer(cfg ServerConfig) ConfigOption {
	return func(c *Config) {
		c.Server = cfg
	}
}

func WithFileTypes(types mimes.Table) ConfigOption {
	return func(c *Config) {
		c.FileTypes = types
	}
}

func WithImageTypes(types mimes.Table) ConfigOption {
	return func(c *Config) {
		c.ImageTypes = types
	}
}

// Default returns the built-in configuration: local storage under ./data
// with the public subdirectory served on DefaultListen.
func Default() Config {
	return Config{
		LogLevel: DefaultLogLevel,
		Prefix:   DefaultPrefix,
		Storage: storage.Config{
			Driver: storage.DriverLocal,
			Local: storage.LocalConfig{
				Root:         filepath.Join("data", "blobs"),
				DirMode:      storage.DefaultDirMode,
				PublicSubdir: DefaultPrefix,
				PublicURL:    "http://localhost:9000/files",
			},
		},
		Journal: journal.Config{
			Path: filepath.Join("data", "journal.sqlite"),
		},
		Sizes: []rendition.SizeSpec{
			{Name: "original"},
			{Name: "large", Width: 1024, Mode: rendition.FixedWidth},
			{Name: "thumb", Width: 150, Height: 150, Mode: rendition.Adaptive, Placeholder: rendition.PlaceholderURL(150, 150)},
		},
		JPEGQuality: rendition.DefaultJPEGQuality,
		FileTypes:   mimes.Files,
		ImageTypes:  mimes.Images,
		Server: ServerConfig{
			Listen: DefaultListen,
		},
	}
}

// NewConfig applies opts over Default.
func NewConfig(opts ...ConfigOption) Config {
	cfg := Default()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Load decodes the TOML or YAML file at path over Default, chosen by
// extension, then applies environment overrides. An empty path loads
// defaults only.
func Load(path string, opts ...ConfigOption) (Config, error) {
	cfg := NewConfig(opts...)

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	// Lists and tables in the file replace the defaults rather than
	// merging into them.
	defaults := *cfg
	cfg.Sizes, cfg.FileTypes, cfg.ImageTypes = nil, nil, nil

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}

	if cfg.Sizes == nil {
		cfg.Sizes = defaults.Sizes
	}
	if cfg.FileTypes == nil {
		cfg.FileTypes = defaults.FileTypes
	}
	if cfg.ImageTypes == nil {
		cfg.ImageTypes = defaults.ImageTypes
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(accessKeyEnvKey)); v != "" {
		cfg.Storage.Object.AccessKey = v
	}
	if v := strings.TrimSpace(os.Getenv(secretKeyEnvKey)); v != "" {
		cfg.Storage.Object.SecretKey = v
	}
	if v := os.Getenv(passwordEnvKey); v != "" {
		cfg.Server.Password = v
	}
}

// Validate reports configuration errors that would otherwise surface on
// first use.
func (c Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case storage.DriverLocal, "":
		if c.Storage.Local.Root == "" {
			errs = append(errs, errors.New("storage.local.root must be set"))
		}
	case storage.DriverS3:
		if c.Storage.Object.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket must be set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}

	seen := make(map[string]bool, len(c.Sizes))
	for _, size := range c.Sizes {
		if seen[size.Name] {
			errs = append(errs, fmt.Errorf("duplicate size %q", size.Name))
		}
		seen[size.Name] = true
		if err := size.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	if (c.Server.Username == "") != (c.Server.Password == "") {
		errs = append(errs, errors.New("server.username and server.password must be set together"))
	}

	return errors.Join(errs...)
}
