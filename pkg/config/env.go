package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/malbeclabs/sqlviz/pkg/llm"
	"github.com/malbeclabs/sqlviz/pkg/querier"
)

const envPrefix = "SQLVIZ_"

// Provider keys are read only when llm.api_key is still empty after every
// other source is applied.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGroqAPIKey      = "GROQ_API_KEY"
)

type envVar struct {
	key string
	set func(c *Config, v string) error
}

var envVars = []envVar{
	{"LLM_PROVIDER", func(c *Config, v string) error { c.LLM.Provider = llm.Provider(v); return nil }},
	{"LLM_MODEL", func(c *Config, v string) error { c.LLM.Model = v; return nil }},
	{"LLM_BASE_URL", func(c *Config, v string) error { c.LLM.BaseURL = v; return nil }},
	{"LLM_API_KEY", func(c *Config, v string) error { c.LLM.APIKey = v; return nil }},
	{"LLM_TEMPERATURE", func(c *Config, v string) error { return parseFloat32(v, &c.LLM.Temperature) }},
	{"LLM_MAX_TOKENS", func(c *Config, v string) error { return parseInt(v, &c.LLM.MaxTokens) }},
	{"LLM_TIMEOUT", func(c *Config, v string) error { return parseDuration(v, &c.LLM.Timeout) }},
	{"LLM_RETRIES", func(c *Config, v string) error { return parseInt(v, &c.LLM.Retries) }},
	{"DB_DRIVER", func(c *Config, v string) error { c.Database.Driver = querier.Driver(v); return nil }},
	{"DB_DSN", func(c *Config, v string) error { c.Database.DSN = v; return nil }},
	{"DB_ROW_LIMIT", func(c *Config, v string) error { return parseInt(v, &c.Database.RowLimit) }},
	{"DB_QUERY_TIMEOUT", func(c *Config, v string) error { return parseDuration(v, &c.Database.QueryTimeout) }},
	{"MAX_RETRIES", func(c *Config, v string) error { return parseInt(v, &c.Pipeline.MaxRetries) }},
	{"MAX_ERROR_CHARS", func(c *Config, v string) error { return parseInt(v, &c.Pipeline.MaxErrorChars) }},
	{"VIZ_TIMEOUT", func(c *Config, v string) error { return parseDuration(v, &c.Pipeline.VizTimeout) }},
	{"RUN_TIMEOUT", func(c *Config, v string) error { return parseDuration(v, &c.Pipeline.RunTimeout) }},
	{"REVIEW_SQL", func(c *Config, v string) error { return parseBool(v, &c.Pipeline.ReviewSQL) }},
	{"METRICS_ADDR", func(c *Config, v string) error { c.Metrics.Addr = v; return nil }},
	{"SERVER_ADDR", func(c *Config, v string) error { c.Server.Addr = v; return nil }},
	{"MCP_TOKENS", func(c *Config, v string) error { c.Server.Tokens = splitList(v); return nil }},
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, ev := range envVars {
		v, ok := lookup(envPrefix + ev.key)
		if !ok {
			continue
		}
		if err := ev.set(c, v); err != nil {
			return fmt.Errorf("%w: %s%s: %w", ErrInvalid, envPrefix, ev.key, err)
		}
	}
	return nil
}

// resolveAPIKey runs after flags so that a provider chosen on the command
// line picks up its own key.
func (c *Config) resolveAPIKey(lookup func(string) (string, bool)) {
	if c.LLM.APIKey == "" {
		var keys []string
		switch c.LLM.Provider {
		case llm.ProviderAnthropic:
			keys = []string{EnvAnthropicAPIKey}
		case llm.ProviderOpenAI:
			keys = []string{EnvGroqAPIKey, EnvOpenAIAPIKey}
		}
		for _, key := range keys {
			if v, ok := lookup(key); ok && v != "" {
				c.LLM.APIKey = v
				break
			}
		}
	}
}

func parseInt(v string, dst *int) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func parseFloat32(v string, dst *float32) error {
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return err
	}
	*dst = float32(f)
	return nil
}

func parseDuration(v string, dst *time.Duration) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func parseBool(v string, dst *bool) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
