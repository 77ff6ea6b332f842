package aiclient

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"reva/internal/analysis"
)

//go:embed prompts.toml
var promptsTOML []byte

type stagePrompt struct {
	System      string `toml:"system"`
	Instruction string `toml:"instruction"`
}

type promptFile struct {
	Stages map[string]stagePrompt `toml:"stages"`
}

var stagePrompts map[string]stagePrompt

func init() {
	var pf promptFile
	if err := toml.Unmarshal(promptsTOML, &pf); err != nil {
		panic(fmt.Sprintf("aiclient: embedded prompts.toml is invalid: %v", err))
	}
	stagePrompts = pf.Stages
}

// summaryPromptKey is the template used by the finalizing summary call.
const summaryPromptKey = "summary"

func promptFor(key string) (stagePrompt, error) {
	p, ok := stagePrompts[key]
	if !ok {
		return stagePrompt{}, fmt.Errorf("no prompt template for stage category %q", key)
	}
	return p, nil
}

// buildAnalysisPrompt renders the system and user prompts for one file and
// stage category.
func buildAnalysisPrompt(file analysis.SourceFile, category analysis.StageCategory) (system, user string, err error) {
	p, err := promptFor(string(category))
	if err != nil {
		return "", "", err
	}

	var b strings.Builder
	b.WriteString(p.Instruction)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Path: %s\n", file.Path)
	if file.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", file.Language)
	}
	b.WriteString("\n--- BEGIN FILE ---\n")
	b.WriteString(file.Content)
	b.WriteString("\n--- END FILE ---\n")

	return p.System, b.String(), nil
}

// buildFixPrompt renders the fix-generation prompts from the file and its
// recorded errors.
func buildFixPrompt(file analysis.SourceFile, findings []analysis.Finding) (system, user string, err error) {
	p, err := promptFor(string(analysis.CategoryFix))
	if err != nil {
		return "", "", err
	}

	var b strings.Builder
	b.WriteString(p.Instruction)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Path: %s\n", file.Path)
	if file.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", file.Language)
	}
	b.WriteString("\nErrors to fix:\n")
	for _, f := range findings {
		fmt.Fprintf(&b, "- id=%s line=%d severity=%s category=%s: %s\n",
			f.ID, f.Line, f.Severity, f.Category, f.Message)
	}
	b.WriteString("\n--- BEGIN FILE ---\n")
	b.WriteString(file.Content)
	b.WriteString("\n--- END FILE ---\n")

	return p.System, b.String(), nil
}

// buildSummaryPrompt renders the run-summary prompts from final metrics and
// the most severe findings.
func buildSummaryPrompt(metrics analysis.Metrics, top []analysis.Finding) (system, user string, err error) {
	p, err := promptFor(summaryPromptKey)
	if err != nil {
		return "", "", err
	}

	var b strings.Builder
	b.WriteString(p.Instruction)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Files analyzed: %d\n", metrics.FilesProcessed)
	fmt.Fprintf(&b, "Errors found: %d\n", metrics.ErrorCount)
	fmt.Fprintf(&b, "Files fixed: %d\n", metrics.FixedFileCount)
	fmt.Fprintf(&b, "Quality score: %d/100\n", metrics.QualityScore)
	if len(top) > 0 {
		b.WriteString("\nMost severe findings:\n")
		for _, f := range top {
			fmt.Fprintf(&b, "- %s %s %s:%d %s\n", f.Severity, f.Category, f.File, f.Line, f.Message)
		}
	}

	return p.System, b.String(), nil
}
