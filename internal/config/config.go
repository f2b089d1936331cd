// Package config loads the misp-mcp settings from defaults, an optional YAML
// or TOML file, the environment and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/sid6224/misp-mcp/mcpservice"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Cache backends.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheBolt   = "bolt"
)

// Config holds every setting of the server binary.
type Config struct {
	MISPURL        string `env:"MISP_URL" yaml:"misp_url" toml:"misp_url"`
	APIKey         string `env:"MISP_API_KEY" yaml:"api_key" toml:"api_key"`
	VerifyTLS      bool   `env:"MISP_VERIFY_TLS" yaml:"verify_tls" toml:"verify_tls"`
	TimeoutSeconds int    `env:"MISP_TIMEOUT" yaml:"timeout" toml:"timeout"`

	LogLevel  string `env:"MISP_LOG_LEVEL" yaml:"log_level" toml:"log_level"`
	LogFormat string `env:"MISP_LOG_FORMAT" yaml:"log_format" toml:"log_format"`
	Quiet     bool   `env:"MISP_QUIET" yaml:"quiet" toml:"quiet"`

	Cache     string        `env:"MISP_CACHE" yaml:"cache" toml:"cache"`
	CacheTTL  time.Duration `env:"MISP_CACHE_TTL" yaml:"cache_ttl" toml:"cache_ttl"`
	CacheSize int           `env:"MISP_CACHE_SIZE" yaml:"cache_size" toml:"cache_size"`
	RedisAddr string        `env:"MISP_REDIS_ADDR" yaml:"redis_addr" toml:"redis_addr"`
	RedisDB   int           `env:"MISP_REDIS_DB" yaml:"redis_db" toml:"redis_db"`
	BoltPath  string        `env:"MISP_BOLT_PATH" yaml:"bolt_path" toml:"bolt_path"`

	// File is the config file the settings were read from, if any.
	File string `yaml:"-" toml:"-"`

	levelPinned bool
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		VerifyTLS:      true,
		TimeoutSeconds: 30,
		LogLevel:       "info",
		LogFormat:      "text",
		Cache:          CacheNone,
		CacheTTL:       5 * time.Minute,
		CacheSize:      1024,
		RedisAddr:      "localhost:6379",
	}
}

// Timeout returns the per-request MISP timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WatchLogLevel reports whether edits to the config file may change the log
// level, i.e. a file is in use and neither a flag nor the environment set
// the level.
func (c *Config) WatchLogLevel() bool {
	return c.File != "" && !c.levelPinned
}

// Load builds the configuration from args (without the program name).
// It returns flag.ErrHelp when -h or --help is given.
func Load(args []string, usage io.Writer) (*Config, error) {
	fs := flag.NewFlagSet("misp-mcp", flag.ContinueOnError)
	if usage != nil {
		fs.SetOutput(usage)
	}
	var f Config
	var configPath string
	fs.StringVar(&f.MISPURL, "misp-url", "", "MISP instance URL (env MISP_URL)")
	fs.StringVar(&f.APIKey, "api-key", "", "MISP API key (env MISP_API_KEY)")
	fs.BoolVar(&f.VerifyTLS, "verify-tls", true, "verify the MISP TLS certificate (env MISP_VERIFY_TLS)")
	fs.IntVar(&f.TimeoutSeconds, "timeout", 0, "request timeout in seconds (env MISP_TIMEOUT)")
	fs.StringVar(&configPath, "config", "", "YAML or TOML config file (env MISP_CONFIG)")
	fs.StringVar(&f.LogLevel, "log-level", "", "log level: debug, info, warn, error (env MISP_LOG_LEVEL)")
	fs.StringVar(&f.LogFormat, "log-format", "", "log format: text or json (env MISP_LOG_FORMAT)")
	fs.StringVar(&f.Cache, "cache", "", "response cache: none, memory, redis, bolt (env MISP_CACHE)")
	fs.BoolVar(&f.Quiet, "quiet", false, "disable logging")
	fs.BoolVar(&f.Quiet, "q", false, "shorthand for --quiet")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()

	if configPath == "" {
		configPath = os.Getenv("MISP_CONFIG")
	}
	if configPath != "" {
		if err := cfg.loadFile(configPath); err != nil {
			return nil, err
		}
		cfg.File = configPath
	}

	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if os.Getenv("MISP_LOG_LEVEL") != "" {
		cfg.levelPinned = true
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "misp-url":
			cfg.MISPURL = f.MISPURL
		case "api-key":
			cfg.APIKey = f.APIKey
		case "verify-tls":
			cfg.VerifyTLS = f.VerifyTLS
		case "timeout":
			cfg.TimeoutSeconds = f.TimeoutSeconds
		case "log-level":
			cfg.LogLevel = f.LogLevel
			cfg.levelPinned = true
		case "log-format":
			cfg.LogFormat = f.LogFormat
		case "cache":
			cfg.Cache = f.Cache
		case "quiet", "q":
			cfg.Quiet = f.Quiet
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadFile decodes the file at path over c, as TOML when the name ends in
// .toml and as YAML otherwise. Values of the form ${VAR} are expanded from
// the environment.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	expanded := expandEnvVars(string(data))
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, c); err != nil {
			return fmt.Errorf("parsing config file %s: %w", path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the variable's value, or with nothing
// when it is unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate returns the first problem found, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.MISPURL) == "" {
		return fmt.Errorf("%w: MISP URL is required (--misp-url or MISP_URL)", ErrInvalidConfig)
	}
	u, err := url.Parse(c.MISPURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: MISP URL must be an http(s) URL, got %q", ErrInvalidConfig, c.MISPURL)
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: API key is required (--api-key or MISP_API_KEY)", ErrInvalidConfig)
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %d", ErrInvalidConfig, c.TimeoutSeconds)
	}
	if _, err := mcpservice.ParseLoggingLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log format must be text or json, got %q", ErrInvalidConfig, c.LogFormat)
	}
	switch c.Cache {
	case CacheNone, CacheRedis:
	case CacheMemory:
		if c.CacheSize <= 0 {
			return fmt.Errorf("%w: cache size must be positive, got %d", ErrInvalidConfig, c.CacheSize)
		}
	case CacheBolt:
		if c.BoltPath == "" {
			return fmt.Errorf("%w: bolt cache requires MISP_BOLT_PATH", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown cache backend %q", ErrInvalidConfig, c.Cache)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("%w: cache TTL must not be negative", ErrInvalidConfig)
	}
	return nil
}
