package diagnose

import (
	"encoding/json"
	"strings"
)

// Defaults applied when a section is missing or malformed. A diagnosis
// never fails to parse; it degrades section by section.
const (
	defaultAnalysis   = "Analysis failed"
	defaultRootCause  = "Unknown"
	defaultConfidence = "low"
)

// sectionMarkers, in response order. Each section is bounded by the next
// marker that appears after it.
var sectionMarkers = []string{"ANALYSIS:", "ROOT_CAUSE:", "CONFIDENCE:", "FIXED_PAYLOAD:"}

// Result is the structured diagnosis extracted from the model response.
// FixedPayload is nil when the model produced no parseable fix.
type Result struct {
	Analysis     string
	RootCause    string
	Confidence   string
	FixedPayload json.RawMessage
}

// ParseResponse extracts the four template sections from the model's text.
// Each section is extracted independently; a missing or malformed section
// degrades to its default instead of failing the diagnosis.
func ParseResponse(text string) *Result {
	result := &Result{
		Analysis:   defaultAnalysis,
		RootCause:  defaultRootCause,
		Confidence: defaultConfidence,
	}

	if section, ok := extractSection(text, "ANALYSIS:"); ok && section != "" {
		result.Analysis = section
	}
	if section, ok := extractSection(text, "ROOT_CAUSE:"); ok && section != "" {
		result.RootCause = section
	}
	if section, ok := extractSection(text, "CONFIDENCE:"); ok {
		result.Confidence = normalizeConfidence(section)
	}
	result.FixedPayload = extractFixedPayload(text)

	return result
}

// extractSection returns the text between a marker and the next marker
// (or end of input), trimmed.
func extractSection(text, marker string) (string, bool) {
	start := strings.Index(text, marker)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(marker):]

	end := len(rest)
	for _, next := range sectionMarkers {
		if next == marker {
			continue
		}
		if idx := strings.Index(rest, next); idx >= 0 && idx < end {
			end = idx
		}
	}

	return strings.TrimSpace(rest[:end]), true
}

// normalizeConfidence restricts confidence to low/medium/high, lowercase.
// Anything else defaults to low.
func normalizeConfidence(s string) string {
	// The section may carry trailing prose; only the first word counts.
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return defaultConfidence
	}
	switch strings.ToLower(strings.Trim(fields[0], ".,")) {
	case "low":
		return "low"
	case "medium":
		return "medium"
	case "high":
		return "high"
	default:
		return defaultConfidence
	}
}

// extractFixedPayload pulls the fenced JSON block following the
// FIXED_PAYLOAD: marker. Returns nil if the block is absent or is not
// valid JSON.
func extractFixedPayload(text string) json.RawMessage {
	start := strings.Index(text, "FIXED_PAYLOAD:")
	if start < 0 {
		return nil
	}
	rest := text[start+len("FIXED_PAYLOAD:"):]

	fenceStart := strings.Index(rest, "```")
	if fenceStart < 0 {
		return nil
	}
	rest = rest[fenceStart+len("```"):]

	// Skip an optional language tag on the fence line.
	if newline := strings.Index(rest, "\n"); newline >= 0 {
		tag := strings.TrimSpace(rest[:newline])
		if tag == "json" || tag == "" {
			rest = rest[newline+1:]
		}
	}

	fenceEnd := strings.Index(rest, "```")
	if fenceEnd < 0 {
		return nil
	}

	payload := strings.TrimSpace(rest[:fenceEnd])
	if payload == "" || !json.Valid([]byte(payload)) {
		return nil
	}

	return json.RawMessage(payload)
}
