package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/malbeclabs/sqlviz/pkg/frame"
	"github.com/malbeclabs/sqlviz/pkg/querier"
	"github.com/malbeclabs/sqlviz/pkg/schema"
)

type PingCmd struct{}

func NewPingCmd() *PingCmd {
	return &PingCmd{}
}

func (c *PingCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check the database connection and report the server version and table count",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, false)
			if err != nil {
				return err
			}
			ctx, cancel := a.signalContext(cmd.Context())
			defer cancel()

			q, err := a.openQuerier(ctx)
			if err != nil {
				return err
			}
			defer a.closeQuerier(q)

			catalog, err := schema.New(schema.Config{Logger: a.log, Querier: q})
			if err != nil {
				return err
			}
			res, err := ping(ctx, q, catalog)
			if err != nil {
				return err
			}
			res.write(cmd.OutOrStdout())
			return nil
		},
	}
}

type pingResult struct {
	Driver  querier.Driver
	Version string
	Tables  int
	Latency time.Duration
}

func (r pingResult) write(w io.Writer) {
	fmt.Fprintf(w, "driver:  %s\n", r.Driver)
	fmt.Fprintf(w, "version: %s\n", r.Version)
	fmt.Fprintf(w, "tables:  %d\n", r.Tables)
	fmt.Fprintf(w, "latency: %s\n", r.Latency.Round(time.Microsecond))
}

// ping runs SELECT 1, then reads the server version and counts the tables
// the catalog can see.
func ping(ctx context.Context, q querier.Querier, catalog *schema.QuerierCatalog) (pingResult, error) {
	res := pingResult{Driver: q.Driver()}

	start := time.Now()
	one, err := q.Query(ctx, "SELECT 1")
	if err != nil {
		return res, fmt.Errorf("connection test failed: %w", err)
	}
	res.Latency = time.Since(start)
	if one.Len() != 1 {
		return res, fmt.Errorf("connection test returned %d rows", one.Len())
	}

	version, err := q.Query(ctx, "SELECT version()")
	if err != nil {
		return res, fmt.Errorf("failed to read server version: %w", err)
	}
	if version.Len() > 0 && len(version.Rows[0]) > 0 {
		res.Version = frame.FormatValue(version.Rows[0][0])
	}

	columns, err := catalog.Columns(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to read catalog: %w", err)
	}
	res.Tables = len(schema.Tables(columns))
	return res, nil
}
