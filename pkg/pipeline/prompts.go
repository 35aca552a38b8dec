package pipeline

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/malbeclabs/sqlviz/pkg/pipeline/prompts"
)

// Prompts contains all the pipeline prompt templates loaded from embedded files.
type Prompts struct {
	SQLWriter    *template.Template // SQL generation from the question and schema
	SQLReviewer  *template.Template // Optional rewrite before validation
	SQLFixer     *template.Template // Repair of a failing query
	BIExpert     *template.Template // Presentation recommendation
	VizGenerator *template.Template // Visualization program generation
	VizFixer     *template.Template // Repair of a failing visualization program
}

// promptData is the data every template renders from. Templates only
// reference the fields they need.
type promptData struct {
	Dialect              string
	Question             string
	DatabaseSchemas      string
	Query                string
	Error                string
	Structure            string
	Sample               string
	VisualizationRequest string
	Code                 string
	Imports              string
	TextBinding          string
	TableBinding         string
	ChartBinding         string
}

// LoadPrompts loads all prompts from the embedded filesystem.
func LoadPrompts() (*Prompts, error) {
	p := &Prompts{}

	var err error
	if p.SQLWriter, err = loadPrompt("SQL_WRITER.md"); err != nil {
		return nil, fmt.Errorf("failed to load SQL_WRITER: %w", err)
	}
	if p.SQLReviewer, err = loadPrompt("SQL_REVIEWER.md"); err != nil {
		return nil, fmt.Errorf("failed to load SQL_REVIEWER: %w", err)
	}
	if p.SQLFixer, err = loadPrompt("SQL_FIXER.md"); err != nil {
		return nil, fmt.Errorf("failed to load SQL_FIXER: %w", err)
	}
	if p.BIExpert, err = loadPrompt("BI_EXPERT.md"); err != nil {
		return nil, fmt.Errorf("failed to load BI_EXPERT: %w", err)
	}
	if p.VizGenerator, err = loadPrompt("VIZ_GENERATOR.md"); err != nil {
		return nil, fmt.Errorf("failed to load VIZ_GENERATOR: %w", err)
	}
	if p.VizFixer, err = loadPrompt("VIZ_FIXER.md"); err != nil {
		return nil, fmt.Errorf("failed to load VIZ_FIXER: %w", err)
	}

	return p, nil
}

func loadPrompt(path string) (*template.Template, error) {
	data, err := prompts.PromptsFS.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	tmpl, err := template.New(path).Option("missingkey=error").Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return tmpl, nil
}

func render(tmpl *template.Template, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
