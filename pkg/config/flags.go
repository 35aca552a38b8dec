package config

import (
	"github.com/malbeclabs/sqlviz/pkg/llm"
	"github.com/malbeclabs/sqlviz/pkg/querier"
	"github.com/spf13/pflag"
)

const (
	FlagConfig        = "config"
	FlagEnvFile       = "env-file"
	FlagProvider      = "provider"
	FlagModel         = "model"
	FlagBaseURL       = "base-url"
	FlagTemperature   = "temperature"
	FlagDriver        = "driver"
	FlagDSN           = "dsn"
	FlagRowLimit      = "row-limit"
	FlagMaxRetries    = "max-retries"
	FlagMaxErrorChars = "max-error-chars"
	FlagVizTimeout    = "viz-timeout"
	FlagRunTimeout    = "run-timeout"
	FlagReviewSQL     = "review-sql"
	FlagMetricsAddr   = "metrics-addr"
)

// RegisterFlags adds the overridable settings to fs. Defaults shown in help
// come from Default; only flags set explicitly override other sources.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String(FlagConfig, "", "path to a YAML config file")
	fs.String(FlagEnvFile, ".env", "path to a .env file")
	fs.String(FlagProvider, string(d.LLM.Provider), "llm provider (anthropic, openai, ollama)")
	fs.String(FlagModel, d.LLM.Model, "llm model name")
	fs.String(FlagBaseURL, d.LLM.BaseURL, "llm base url")
	fs.Float32(FlagTemperature, d.LLM.Temperature, "llm sampling temperature")
	fs.String(FlagDriver, string(d.Database.Driver), "database driver (postgres, duckdb, clickhouse)")
	fs.String(FlagDSN, d.Database.DSN, "database connection string")
	fs.Int(FlagRowLimit, d.Database.RowLimit, "maximum rows returned per query")
	fs.Int(FlagMaxRetries, d.Pipeline.MaxRetries, "repair budget of each loop")
	fs.Int(FlagMaxErrorChars, d.Pipeline.MaxErrorChars, "maximum characters kept from an error message")
	fs.Duration(FlagVizTimeout, d.Pipeline.VizTimeout, "visualization program timeout")
	fs.Duration(FlagRunTimeout, d.Pipeline.RunTimeout, "whole run timeout")
	fs.Bool(FlagReviewSQL, d.Pipeline.ReviewSQL, "review generated SQL before validation")
	fs.String(FlagMetricsAddr, d.Metrics.Addr, "address to listen on for prometheus metrics (empty disables)")
}

// ApplyFlags copies every flag the user set on fs into c.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case FlagProvider:
			c.LLM.Provider = llm.Provider(f.Value.String())
		case FlagModel:
			c.LLM.Model = f.Value.String()
		case FlagBaseURL:
			c.LLM.BaseURL = f.Value.String()
		case FlagTemperature:
			c.LLM.Temperature, err = fs.GetFloat32(f.Name)
		case FlagDriver:
			c.Database.Driver = querier.Driver(f.Value.String())
		case FlagDSN:
			c.Database.DSN = f.Value.String()
		case FlagRowLimit:
			c.Database.RowLimit, err = fs.GetInt(f.Name)
		case FlagMaxRetries:
			c.Pipeline.MaxRetries, err = fs.GetInt(f.Name)
		case FlagMaxErrorChars:
			c.Pipeline.MaxErrorChars, err = fs.GetInt(f.Name)
		case FlagVizTimeout:
			c.Pipeline.VizTimeout, err = fs.GetDuration(f.Name)
		case FlagRunTimeout:
			c.Pipeline.RunTimeout, err = fs.GetDuration(f.Name)
		case FlagReviewSQL:
			c.Pipeline.ReviewSQL, err = fs.GetBool(f.Name)
		case FlagMetricsAddr:
			c.Metrics.Addr = f.Value.String()
		}
	})
	return err
}

// LoadFlags reads the config and env file paths from fs and loads from
// every source.
func LoadFlags(fs *pflag.FlagSet, skipLLM bool) (*Config, error) {
	file, err := fs.GetString(FlagConfig)
	if err != nil {
		return nil, err
	}
	envFile, err := fs.GetString(FlagEnvFile)
	if err != nil {
		return nil, err
	}
	return Load(Options{File: file, EnvFile: envFile, Flags: fs, SkipLLM: skipLLM})
}
