package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/malbeclabs/sqlviz/pkg/mcpserver"
)

const (
	defaultReadHeaderTimeout = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
)

type ServeCmd struct {
	build BuildInfo
}

func NewServeCmd(build BuildInfo) *ServeCmd {
	return &ServeCmd{build: build}
}

func (c *ServeCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ask tool over MCP streamable HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			listenAddr, err := cmd.Flags().GetString("listen-addr")
			if err != nil {
				return fmt.Errorf("failed to get listen-addr flag: %w", err)
			}
			maxRows, err := cmd.Flags().GetInt("max-rows")
			if err != nil {
				return fmt.Errorf("failed to get max-rows flag: %w", err)
			}

			a, err := newApp(cmd, true)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("listen-addr") {
				listenAddr = a.cfg.Server.Addr
			}

			ctx, cancel := a.signalContext(cmd.Context())
			defer cancel()

			metricsErrCh, err := a.startMetrics(ctx, c.build)
			if err != nil {
				return err
			}

			p, q, err := a.openPipeline(ctx)
			if err != nil {
				return err
			}
			defer a.closeQuerier(q)

			srv, err := mcpserver.New(mcpserver.Config{
				Logger:            a.log,
				Asker:             p,
				Version:           c.build.Version,
				ListenAddr:        listenAddr,
				ReadHeaderTimeout: defaultReadHeaderTimeout,
				ShutdownTimeout:   defaultShutdownTimeout,
				AllowedTokens:     a.cfg.Server.Tokens,
				MaxRows:           maxRows,
			})
			if err != nil {
				return err
			}

			serverErrCh := make(chan error, 1)
			go func() {
				serverErrCh <- srv.Run(ctx)
			}()

			select {
			case err := <-serverErrCh:
				return err
			case err := <-metricsErrCh:
				cancel()
				<-serverErrCh
				return fmt.Errorf("metrics server failed: %w", err)
			}
		},
	}
	cmd.Flags().String("listen-addr", "", "MCP server listen address (defaults to server.addr)")
	cmd.Flags().Int("max-rows", 200, "maximum rows returned by the ask tool (0 for all)")
	return cmd
}
