package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/malbeclabs/sqlviz/pkg/frame"
	"github.com/malbeclabs/sqlviz/pkg/metrics"
	"github.com/malbeclabs/sqlviz/pkg/pipeline"
	"github.com/malbeclabs/sqlviz/pkg/viz"
)

const askToolName = "ask"

const askToolDescription = `
PURPOSE:
Answer a natural-language question about the connected database. The server writes SQL,
runs it, and produces presentation artifacts (text, table, chart) from the result.

USAGE RULES:
- Ask one self-contained question per call.
- Check sql_status and viz_status. "Not Pass" means the repair budget ran out and the
  matching error field holds the last failure.
- rows may be capped; truncated is true when rows were dropped.
`

type AskInput struct {
	Question string `json:"question" jsonschema:"the question to answer from the database"`
}

type AskOutput struct {
	RunID      string                  `json:"run_id"`
	Query      string                  `json:"query"`
	SQLStatus  string                  `json:"sql_status"`
	SQLRetries int                     `json:"sql_retries"`
	SQLError   string                  `json:"sql_error,omitempty"`
	Columns    []string                `json:"columns"`
	Rows       []map[string]any        `json:"rows"`
	RowCount   int                     `json:"row_count"`
	Truncated  bool                    `json:"truncated,omitempty"`
	VizStatus  string                  `json:"viz_status"`
	VizRetries int                     `json:"viz_retries"`
	VizError   string                  `json:"viz_error,omitempty"`
	Artifacts  map[string]viz.Artifact `json:"artifacts"`
}

func RegisterAskTool(log *slog.Logger, server *mcp.Server, asker Asker, maxRows int) error {
	req, err := jsonschema.For[AskInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create ask input schema: %w", err)
	}
	res, err := jsonschema.For[AskOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create ask output schema: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         askToolName,
		Description:  askToolDescription,
		InputSchema:  req,
		OutputSchema: res,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, req AskInput) (*mcp.CallToolResult, AskOutput, error) {
		log.Debug("mcp/tool: handling ask", "question", req.Question)

		startTime := time.Now()
		out, err := handleAsk(ctx, asker, req, maxRows)
		duration := time.Since(startTime).Seconds()

		metrics.ToolCallDuration.WithLabelValues(askToolName).Observe(duration)
		if err != nil {
			metrics.ToolCallsTotal.WithLabelValues(askToolName, "error").Inc()
			log.Warn("mcp/tool: ask failed", "error", err)
			return nil, AskOutput{}, err
		}
		metrics.ToolCallsTotal.WithLabelValues(askToolName, "success").Inc()
		return nil, out, nil
	})
	return nil
}

func handleAsk(ctx context.Context, asker Asker, req AskInput, maxRows int) (AskOutput, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return AskOutput{}, fmt.Errorf("question is required")
	}

	s, err := asker.Run(ctx, question)
	if err != nil {
		return AskOutput{}, fmt.Errorf("failed to answer question: %w", err)
	}
	return outputFromState(s, maxRows), nil
}

func outputFromState(s *pipeline.State, maxRows int) AskOutput {
	df := s.DF
	if df == nil {
		df = frame.Empty()
	}
	rowCount := df.Len()
	truncated := df.Truncated
	if maxRows > 0 && df.Len() > maxRows {
		df = df.Head(maxRows)
		truncated = true
	}

	artifacts := make(map[string]viz.Artifact, len(s.VizBindings))
	for name, a := range s.VizBindings {
		artifacts[name] = a
	}

	return AskOutput{
		RunID:      s.RunID,
		Query:      s.Query,
		SQLStatus:  s.ResultDebugSQL.String(),
		SQLRetries: s.NumRetriesDebugSQL,
		SQLError:   s.ErrorMsgDebugSQL,
		Columns:    append([]string{}, df.Names()...),
		Rows:       df.Records(),
		RowCount:   rowCount,
		Truncated:  truncated,
		VizStatus:  s.ResultDebugViz.String(),
		VizRetries: s.NumRetriesDebugViz,
		VizError:   s.ErrorMsgDebugViz,
		Artifacts:  artifacts,
	}
}
