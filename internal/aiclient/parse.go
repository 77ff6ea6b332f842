package aiclient

import (
	"encoding/json"
	"fmt"
	"strings"

	"reva/internal/analysis"
)

// rawFinding is the JSON structure analysis stages return per finding.
type rawFinding struct {
	Severity   string `json:"severity"`
	Message    string `json:"message"`
	Line       int    `json:"line"`
	Suggestion string `json:"suggestion"`
}

// rawFixBundle is the JSON structure the fix stage returns.
type rawFixBundle struct {
	Fixes []struct {
		ErrorID     string `json:"errorId"`
		Description string `json:"description"`
		Complexity  string `json:"complexity"`
		Risk        string `json:"risk"`
	} `json:"fixes"`
	FixedContent string `json:"fixedContent"`
	ChangeCount  int    `json:"changeCount"`
}

// stripFences removes a surrounding markdown code fence, which backends add
// despite being told not to.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	lines := strings.Split(content, "\n")
	if len(lines) < 2 {
		return content
	}
	end := len(lines)
	if strings.TrimSpace(lines[end-1]) == "```" {
		end--
	}
	return strings.Join(lines[1:end], "\n")
}

// parseFindings converts a raw stage response into findings for a file.
// Findings with empty messages are dropped; unknown severities degrade to
// info.
func parseFindings(file string, category analysis.StageCategory, content string) ([]analysis.Finding, error) {
	content = stripFences(content)

	var raw []rawFinding
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("invalid findings array: %w", err)
	}

	findings := make([]analysis.Finding, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r.Message) == "" {
			continue
		}
		if r.Line < 0 {
			r.Line = 0
		}
		findings = append(findings, analysis.NewFinding(
			file,
			category,
			analysis.NormalizeSeverity(r.Severity),
			r.Message,
			r.Line,
			r.Suggestion,
		))
	}
	return findings, nil
}

// parseFixBundle converts a raw fix-stage response into a bundle. The caller
// treats a parse failure as "no fix" per the content-preservation rule.
func parseFixBundle(content string) (rawFixBundle, error) {
	content = stripFences(content)

	var bundle rawFixBundle
	if err := json.Unmarshal([]byte(content), &bundle); err != nil {
		return rawFixBundle{}, fmt.Errorf("invalid fix bundle: %w", err)
	}
	return bundle, nil
}

// countChangedLines approximates how many lines differ between the original
// and fixed content. Positional comparison is enough for reporting.
func countChangedLines(original, fixed string) int {
	if original == fixed {
		return 0
	}
	a := strings.Split(original, "\n")
	b := strings.Split(fixed, "\n")

	shorter := len(a)
	if len(b) < shorter {
		shorter = len(b)
	}
	changed := 0
	for i := 0; i < shorter; i++ {
		if a[i] != b[i] {
			changed++
		}
	}
	changed += len(a) - shorter + len(b) - shorter
	if changed == 0 {
		changed = 1
	}
	return changed
}
