package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/malbeclabs/sqlviz/pkg/pipeline"
	"github.com/malbeclabs/sqlviz/pkg/viz"
)

type AskCmd struct {
	build BuildInfo
}

func NewAskCmd(build BuildInfo) *AskCmd {
	return &AskCmd{build: build}
}

func (c *AskCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question and print the query, result and visualization",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := cmd.Flags().GetString("out")
			if err != nil {
				return fmt.Errorf("failed to get out flag: %w", err)
			}
			asJSON, err := cmd.Flags().GetBool("json")
			if err != nil {
				return fmt.Errorf("failed to get json flag: %w", err)
			}

			a, err := newApp(cmd, true)
			if err != nil {
				return err
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

			question := strings.Join(args, " ")
			s, runErr := p.Run(ctx, question)
			if s != nil {
				if err := writeAskResult(cmd.OutOrStdout(), s, out, asJSON); err != nil {
					return err
				}
			}
			if runErr != nil {
				return fmt.Errorf("run failed: %w", runErr)
			}

			select {
			case err := <-metricsErrCh:
				return fmt.Errorf("metrics server failed: %w", err)
			default:
			}
			return nil
		},
	}
	cmd.Flags().String("out", "", "write chart specs as JSON to this file")
	cmd.Flags().Bool("json", false, "print the full run state as JSON instead of tables")
	return cmd
}

// writeAskResult prints s to w. With asJSON the whole state is written;
// otherwise a summary, the result table and the artifacts. Charts go to out
// when set.
func writeAskResult(w io.Writer, s *pipeline.State, out string, asJSON bool) error {
	if asJSON {
		if err := writeJSON(w, s); err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
	} else {
		renderSummary(w, s)
		fmt.Fprintln(w)
		renderFrame(w, s.DF)
	}

	var charts map[string]*viz.Chart
	if asJSON {
		charts = chartsOf(s.VizBindings)
	} else {
		charts = renderArtifacts(w, s.VizBindings)
	}
	if len(charts) == 0 {
		return nil
	}
	if out == "" {
		if asJSON {
			return nil
		}
		return writeJSON(w, charts)
	}
	if err := writeJSONFile(out, charts); err != nil {
		return err
	}
	if !asJSON {
		fmt.Fprintf(w, "charts written to %s\n", out)
	}
	return nil
}

func chartsOf(bindings viz.Bindings) map[string]*viz.Chart {
	charts := map[string]*viz.Chart{}
	for name, a := range bindings {
		if a.Kind == viz.KindChart {
			charts[name] = a.Chart
		}
	}
	return charts
}
