// Package config loads sqlviz settings from defaults, a YAML file, a .env
// file, the environment and command line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/malbeclabs/sqlviz/pkg/llm"
	"github.com/malbeclabs/sqlviz/pkg/querier"
	"github.com/malbeclabs/sqlviz/pkg/vizexec"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid config")

type LLM struct {
	Provider    llm.Provider  `yaml:"provider"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	Retries     int           `yaml:"retries"`
}

type Database struct {
	Driver       querier.Driver `yaml:"driver"`
	DSN          string         `yaml:"dsn"`
	RowLimit     int            `yaml:"row_limit"`
	QueryTimeout time.Duration  `yaml:"query_timeout"`
}

type Pipeline struct {
	MaxRetries    int           `yaml:"max_retries"`
	MaxErrorChars int           `yaml:"max_error_chars"`
	VizTimeout    time.Duration `yaml:"viz_timeout"`
	RunTimeout    time.Duration `yaml:"run_timeout"`
	ReviewSQL     bool          `yaml:"review_sql"`
}

type Metrics struct {
	// Addr is the listen address of the metrics server. Empty disables it.
	Addr string `yaml:"addr"`
}

type Server struct {
	Addr string `yaml:"addr"`
	// Tokens are the bearer tokens accepted by the MCP endpoint. Empty
	// disables authentication.
	Tokens []string `yaml:"tokens"`
}

type Config struct {
	LLM      LLM      `yaml:"llm"`
	Database Database `yaml:"database"`
	Pipeline Pipeline `yaml:"pipeline"`
	Metrics  Metrics  `yaml:"metrics"`
	Server   Server   `yaml:"server"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		LLM: LLM{
			Provider:    llm.ProviderOpenAI,
			Temperature: 0.3,
			MaxTokens:   4096,
			Timeout:     60 * time.Second,
			Retries:     3,
		},
		Database: Database{
			Driver:       querier.DriverPostgres,
			RowLimit:     10000,
			QueryTimeout: 30 * time.Second,
		},
		Pipeline: Pipeline{
			MaxRetries:    3,
			MaxErrorChars: 300,
			VizTimeout:    10 * time.Second,
			RunTimeout:    10 * time.Minute,
		},
		Server: Server{
			Addr: ":8080",
		},
	}
}

// Options selects the sources Load reads. Empty paths are skipped.
type Options struct {
	File    string
	EnvFile string
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(key string) (string, bool)
	Flags     *pflag.FlagSet
	// SkipLLM leaves the llm section unvalidated, for commands that never
	// call a model.
	SkipLLM bool
}

// Load builds a validated Config. A missing EnvFile is ignored so that a
// default ".env" path can always be passed.
func Load(opts Options) (*Config, error) {
	cfg := Default()

	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.File, err)
		}
	}

	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if opts.EnvFile != "" {
		dotenv, err := godotenv.Read(opts.EnvFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read env file %s: %w", opts.EnvFile, err)
		}
		lookup = withFallback(lookup, dotenv)
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	if opts.Flags != nil {
		if err := cfg.ApplyFlags(opts.Flags); err != nil {
			return nil, err
		}
	}
	cfg.resolveAPIKey(lookup)

	validate := cfg.Validate
	if opts.SkipLLM {
		validate = cfg.validateStorage
	}
	if err := validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withFallback consults the real environment first so that exported
// variables win over the .env file.
func withFallback(lookup func(string) (string, bool), dotenv map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
}

// Validate reports the first invalid field by its YAML path.
func (c *Config) Validate() error {
	if err := c.validateLLM(); err != nil {
		return err
	}
	return c.validateStorage()
}

func (c *Config) validateLLM() error {
	switch c.LLM.Provider {
	case llm.ProviderAnthropic, llm.ProviderOpenAI:
		if c.LLM.APIKey == "" {
			return fmt.Errorf("%w: llm.api_key is required for provider %q", ErrInvalid, c.LLM.Provider)
		}
	case llm.ProviderOllama:
	case "":
		return fmt.Errorf("%w: llm.provider is required", ErrInvalid)
	default:
		return fmt.Errorf("%w: llm.provider %q is not supported", ErrInvalid, c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("%w: llm.temperature must be between 0 and 2", ErrInvalid)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("%w: llm.max_tokens must be positive", ErrInvalid)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("%w: llm.timeout must be positive", ErrInvalid)
	}
	if c.LLM.Retries < 1 {
		return fmt.Errorf("%w: llm.retries must be at least 1", ErrInvalid)
	}
	return nil
}

// validateStorage checks the database and pipeline sections.
func (c *Config) validateStorage() error {
	switch c.Database.Driver {
	case querier.DriverPostgres, querier.DriverClickHouse:
		if c.Database.DSN == "" {
			return fmt.Errorf("%w: database.dsn is required for driver %q", ErrInvalid, c.Database.Driver)
		}
	case querier.DriverDuckDB:
	case "":
		return fmt.Errorf("%w: database.driver is required", ErrInvalid)
	default:
		return fmt.Errorf("%w: database.driver %q is not supported", ErrInvalid, c.Database.Driver)
	}
	if c.Database.RowLimit <= 0 {
		return fmt.Errorf("%w: database.row_limit must be positive", ErrInvalid)
	}
	if c.Database.QueryTimeout <= 0 {
		return fmt.Errorf("%w: database.query_timeout must be positive", ErrInvalid)
	}

	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("%w: pipeline.max_retries must not be negative", ErrInvalid)
	}
	if c.Pipeline.MaxErrorChars <= 0 {
		return fmt.Errorf("%w: pipeline.max_error_chars must be positive", ErrInvalid)
	}
	if c.Pipeline.VizTimeout <= 0 {
		return fmt.Errorf("%w: pipeline.viz_timeout must be positive", ErrInvalid)
	}
	if c.Pipeline.RunTimeout <= 0 {
		return fmt.Errorf("%w: pipeline.run_timeout must be positive", ErrInvalid)
	}
	return nil
}

func (c *Config) LLMConfig(log *slog.Logger) llm.Config {
	return llm.Config{
		Logger:      log,
		Provider:    c.LLM.Provider,
		Model:       c.LLM.Model,
		BaseURL:     c.LLM.BaseURL,
		APIKey:      c.LLM.APIKey,
		Temperature: c.LLM.Temperature,
		MaxTokens:   c.LLM.MaxTokens,
		Timeout:     c.LLM.Timeout,
		Retries:     c.LLM.Retries,
	}
}

func (c *Config) QuerierConfig(log *slog.Logger) querier.Config {
	return querier.Config{
		Logger:       log,
		Driver:       c.Database.Driver,
		DSN:          c.Database.DSN,
		RowLimit:     c.Database.RowLimit,
		QueryTimeout: c.Database.QueryTimeout,
	}
}

func (c *Config) ExecutorConfig(log *slog.Logger) vizexec.Config {
	return vizexec.Config{
		Logger:  log,
		Timeout: c.Pipeline.VizTimeout,
	}
}
