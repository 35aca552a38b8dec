package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/malbeclabs/sqlviz/pkg/logger"
	"github.com/malbeclabs/sqlviz/pkg/pipeline"
)

const (
	defaultListenAddr        = ":8080"
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 5 * time.Second
)

// Asker answers a question with a complete pipeline run. *pipeline.Pipeline
// satisfies it.
type Asker interface {
	Run(ctx context.Context, question string) (*pipeline.State, error)
}

type Config struct {
	Logger *slog.Logger
	Asker  Asker

	Version           string
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	// AllowedTokens enables bearer authentication when non-empty.
	AllowedTokens []string
	// MaxRows caps the rows returned by the ask tool. Zero returns all rows
	// the querier produced.
	MaxRows int
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		c.Logger = logger.Discard()
	}
	if c.Asker == nil {
		return fmt.Errorf("asker is required")
	}
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.MaxRows < 0 {
		return fmt.Errorf("max rows must not be negative")
	}
	return nil
}
