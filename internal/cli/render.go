package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"

	"github.com/malbeclabs/sqlviz/pkg/frame"
	"github.com/malbeclabs/sqlviz/pkg/pipeline"
	"github.com/malbeclabs/sqlviz/pkg/viz"
)

// renderFrame writes f as a bordered table. A frame without columns prints a
// placeholder line.
func renderFrame(w io.Writer, f *frame.Frame) {
	if f == nil || len(f.Columns) == 0 {
		fmt.Fprintln(w, "(no result)")
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader(f.Names())
	for _, row := range f.Rows {
		cells := make([]string, len(f.Columns))
		for i := range cells {
			if i < len(row) {
				cells[i] = frame.FormatValue(row[i])
			}
		}
		table.Append(cells)
	}
	table.Render()
	if f.Truncated {
		fmt.Fprintf(w, "* showing the first %d rows\n", f.Len())
	}
}

// renderSummary prints the query and the outcome of both repair loops.
func renderSummary(w io.Writer, s *pipeline.State) {
	fmt.Fprintf(w, "Question: %s\n", s.Question)
	fmt.Fprintf(w, "Query:\n%s\n\n", s.Query)
	fmt.Fprintf(w, "SQL: %s (retries %d)\n", s.ResultDebugSQL, s.NumRetriesDebugSQL)
	if s.ErrorMsgDebugSQL != "" {
		fmt.Fprintf(w, "SQL error: %s\n", s.ErrorMsgDebugSQL)
	}
	fmt.Fprintf(w, "Visualization: %s (retries %d)\n", s.ResultDebugViz, s.NumRetriesDebugViz)
	if s.ErrorMsgDebugViz != "" {
		fmt.Fprintf(w, "Visualization error: %s\n", s.ErrorMsgDebugViz)
	}
}

// renderArtifacts prints text and table artifacts to w and returns the
// charts, keyed by binding name, for the caller to write out.
func renderArtifacts(w io.Writer, bindings viz.Bindings) map[string]*viz.Chart {
	charts := map[string]*viz.Chart{}
	for _, name := range bindings.Names() {
		a := bindings[name]
		switch a.Kind {
		case viz.KindText:
			fmt.Fprintf(w, "\n[%s]\n%s\n", name, a.Text)
		case viz.KindTable:
			fmt.Fprintf(w, "\n[%s]\n", name)
			renderFrame(w, a.Table)
		case viz.KindChart:
			fmt.Fprintf(w, "\n[%s] %s chart", name, a.Chart.Type)
			if a.Chart.Title != "" {
				fmt.Fprintf(w, ": %s", a.Chart.Title)
			}
			fmt.Fprintln(w)
			charts[name] = a.Chart
		}
	}
	return charts
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeJSONFile(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := writeJSON(f, v); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
