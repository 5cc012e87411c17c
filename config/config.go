package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the atlas service and CLI
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Agent     AgentConfig     `mapstructure:"agent"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Tools     ToolsConfig     `mapstructure:"tools"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Normalize() ServerConfig {
	if strings.TrimSpace(s.Address) == "" {
		s.Address = ":8080"
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = 10 * time.Second
	}
	return s
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single OpenAI-compatible provider
type LLMProvider struct {
	Type    string              `mapstructure:"type"` // openai
	APIKey  string              `mapstructure:"api_key"`
	BaseURL string              `mapstructure:"base_url"`
	Models  map[string]LLMModel `mapstructure:"models"`
	Timeout time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name        string  `mapstructure:"name"`
	APIName     string  `mapstructure:"api_name"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// LLMRoutingConfig names the model used by each oracle. Empty entries use Fallback.
type LLMRoutingConfig struct {
	Planning  string `mapstructure:"planning"`
	Repair    string `mapstructure:"repair"`
	Synthesis string `mapstructure:"synthesis"`
	Fallback  string `mapstructure:"fallback"`
}

// Model resolves a routed model key.
func (r LLMRoutingConfig) Model(task string) string {
	var m string
	switch task {
	case "planning":
		m = r.Planning
	case "repair":
		m = r.Repair
		if m == "" {
			m = r.Planning
		}
	case "synthesis":
		m = r.Synthesis
	}
	if m == "" {
		m = r.Fallback
	}
	return m
}

// Provider returns the first provider that declares the model key.
func (c LLMConfig) Provider(model string) (LLMProvider, bool) {
	for _, p := range c.Providers {
		if _, ok := p.Models[model]; ok {
			return p, true
		}
	}
	return LLMProvider{}, false
}

func (c LLMConfig) Validate() error {
	for name, p := range c.Providers {
		if p.Type != "" && p.Type != "openai" {
			return fmt.Errorf("llm.providers.%s.type %q unsupported", name, p.Type)
		}
	}
	for _, task := range []string{"planning", "repair", "synthesis"} {
		m := c.Routing.Model(task)
		if m == "" {
			continue
		}
		if _, ok := c.Provider(m); !ok {
			return fmt.Errorf("llm.routing.%s: model %q not declared by any provider", task, m)
		}
	}
	return nil
}

// TelemetryConfig contains tracing settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	Insecure     bool   `mapstructure:"insecure"`
}

func (t TelemetryConfig) Normalize() TelemetryConfig {
	if strings.TrimSpace(t.ServiceName) == "" {
		t.ServiceName = "knowledge-atlas"
	}
	return t
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && strings.TrimSpace(t.OTLPEndpoint) == "" {
		return fmt.Errorf("telemetry.otlp_endpoint required when telemetry is enabled")
	}
	return nil
}

// Trace backends.
const (
	TracesPostgres = "postgres"
	TracesMemory   = "memory"
)

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Traces   string         `mapstructure:"traces"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Journal  JournalConfig  `mapstructure:"journal"`
}

func (s StorageConfig) Normalize() StorageConfig {
	s.Traces = strings.ToLower(strings.TrimSpace(s.Traces))
	if s.Traces == "" {
		s.Traces = TracesMemory
	}
	s.Journal = s.Journal.Normalize()
	return s
}

func (s StorageConfig) Validate() error {
	switch s.Traces {
	case TracesMemory:
	case TracesPostgres:
		if err := s.Postgres.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("storage.traces %q unsupported (postgres|memory)", s.Traces)
	}
	if s.Journal.Enabled {
		if err := s.Redis.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// JournalConfig controls the Redis step journal.
type JournalConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Prefix  string        `mapstructure:"prefix"`
	MaxLen  int64         `mapstructure:"max_len"`
	TTL     time.Duration `mapstructure:"ttl"`
}

func (j JournalConfig) Normalize() JournalConfig {
	if strings.TrimSpace(j.Prefix) == "" {
		j.Prefix = "atlas:trace"
	}
	if j.MaxLen <= 0 {
		j.MaxLen = 1000
	}
	if j.TTL <= 0 {
		j.TTL = 24 * time.Hour
	}
	return j
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN returns URL when set, otherwise a postgres:// DSN built from the fields.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     p.Host + ":" + p.Port,
		Path:     "/" + p.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(ssl),
	}
	return u.String()
}

// ToolsConfig configures the built-in notebook tools.
type ToolsConfig struct {
	DocumentIndexDir string `mapstructure:"document_index_dir"`
	SearchLimit      int    `mapstructure:"search_limit"`
	TablesDSN        string `mapstructure:"tables_dsn"`
	MaxRows          int    `mapstructure:"max_rows"`
	// TablesRoleScoped runs each run_sql statement as a role named after the notebook schema.
	TablesRoleScoped bool `mapstructure:"tables_role_scoped"`
}

func (t ToolsConfig) Normalize() ToolsConfig {
	if t.SearchLimit <= 0 {
		t.SearchLimit = 5
	}
	if t.MaxRows <= 0 {
		t.MaxRows = 200
	}
	return t
}

// Load reads the config file at path (or searches the default locations when empty),
// overlays ATLAS_* environment variables, then normalizes and validates every section.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.SetDefault("general.log_level", "info")
	v.SetDefault("storage.traces", TracesMemory)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("ATLAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig loads config from file and panics on error
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}

// Normalize fills defaults in place.
func (c *Config) Normalize() {
	c.Server = c.Server.Normalize()
	c.Agent = c.Agent.Normalize()
	c.Telemetry = c.Telemetry.Normalize()
	c.Storage = c.Storage.Normalize()
	c.Tools = c.Tools.Normalize()
}

func (c *Config) Validate() error {
	if err := c.Agent.Validate(); err != nil {
		return err
	}
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	return c.Storage.Validate()
}
