package research

import (
	"encoding/json"
	"strings"
)

// The model is asked for JSON but regularly wraps it in prose. These
// parsers cut out the first JSON value and fall back instead of failing:
// untrusted model text never crosses into the domain model unchecked.

type extractionCitation struct {
	PageNumber     *int     `json:"page_number"`
	Paragraph      *int     `json:"paragraph"`
	Sentence       string   `json:"sentence"`
	RelevanceScore *float64 `json:"relevance_score"`
}

type extractionResult struct {
	ExtractedAnswer string               `json:"extracted_answer"`
	Citations       []extractionCitation `json:"citations"`
}

// parseExtraction interprets a model completion as an extraction result.
// When no well-formed JSON object is present, the raw text becomes the
// answer and the citation list stays empty.
func parseExtraction(raw string) extractionResult {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return extractionResult{ExtractedAnswer: raw}
	}

	var result extractionResult
	if err := json.Unmarshal([]byte(raw[start:end+1]), &result); err != nil {
		return extractionResult{ExtractedAnswer: raw}
	}
	if result.ExtractedAnswer == "" {
		result.ExtractedAnswer = "Answer extraction failed: Invalid response format"
	}
	return result
}

type themeResult struct {
	Name               string   `json:"theme_name"`
	Description        string   `json:"description"`
	DocumentIDs        []string `json:"document_ids"`
	SupportingEvidence []string `json:"supporting_evidence"`
}

// parseThemes interprets a model completion as a theme list. The bool is
// false when the text contains no well-formed JSON array.
func parseThemes(raw string) ([]themeResult, bool) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, false
	}

	var themes []themeResult
	if err := json.Unmarshal([]byte(raw[start:end+1]), &themes); err != nil {
		return nil, false
	}
	return themes, true
}

// truncate limits s to max characters, appending the marker when cut.
func truncate(s string, max int, marker string) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + marker
}
