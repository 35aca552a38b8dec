package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/sqlviz/pkg/batch"
)

type BatchCmd struct {
	build BuildInfo
}

func NewBatchCmd(build BuildInfo) *BatchCmd {
	return &BatchCmd{build: build}
}

func (c *BatchCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Answer every question in a file concurrently",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := cmd.Flags().GetString("file")
			if err != nil {
				return fmt.Errorf("failed to get file flag: %w", err)
			}
			out, err := cmd.Flags().GetString("out")
			if err != nil {
				return fmt.Errorf("failed to get out flag: %w", err)
			}
			concurrency, err := cmd.Flags().GetInt("concurrency")
			if err != nil {
				return fmt.Errorf("failed to get concurrency flag: %w", err)
			}

			questions, err := readQuestionsFile(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if len(questions) == 0 {
				return fmt.Errorf("no questions in %s", file)
			}

			a, err := newApp(cmd, true)
			if err != nil {
				return err
			}
			ctx, cancel := a.signalContext(cmd.Context())
			defer cancel()

			if _, err := a.startMetrics(ctx, c.build); err != nil {
				return err
			}

			p, q, err := a.openPipeline(ctx)
			if err != nil {
				return err
			}
			defer a.closeQuerier(q)

			runner, err := batch.New(batch.Config{Logger: a.log, Asker: p, Concurrency: concurrency})
			if err != nil {
				return err
			}
			defer runner.Close()

			results, err := runner.Run(ctx, questions)
			if err != nil {
				return err
			}

			if out == "" {
				return writeResultsJSONL(cmd.OutOrStdout(), results)
			}
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", out, err)
			}
			if err := writeResultsJSONL(f, results); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("failed to close %s: %w", out, err)
			}
			renderBatchSummary(cmd.OutOrStdout(), results)
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "-", "file with one question per line (- for stdin)")
	cmd.Flags().StringP("out", "o", "", "write results as JSON lines to this file instead of stdout")
	cmd.Flags().Int("concurrency", 4, "number of runs in flight")
	return cmd
}

func readQuestionsFile(path string, stdin io.Reader) ([]string, error) {
	if path == "-" {
		return batch.ReadQuestions(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open questions file: %w", err)
	}
	defer f.Close()
	return batch.ReadQuestions(f)
}

func writeResultsJSONL(w io.Writer, results []batch.Result) error {
	enc := json.NewEncoder(w)
	for _, res := range results {
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("failed to write result %d: %w", res.Index, err)
		}
	}
	return nil
}

func renderBatchSummary(w io.Writer, results []batch.Result) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader([]string{"#", "Question", "SQL", "SQL\nRetries", "Viz", "Viz\nRetries", "Error"})

	passed := 0
	for _, res := range results {
		if res.Passed() {
			passed++
		}
		row := []string{strconv.Itoa(res.Index + 1), res.Question, "", "", "", "", res.Err}
		if s := res.State; s != nil {
			row[2] = s.ResultDebugSQL.String()
			row[3] = strconv.Itoa(s.NumRetriesDebugSQL)
			row[4] = s.ResultDebugViz.String()
			row[5] = strconv.Itoa(s.NumRetriesDebugViz)
		}
		table.Append(row)
	}
	table.Render()
	fmt.Fprintf(w, "%d of %d runs passed\n", passed, len(results))
}
