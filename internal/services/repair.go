package services

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/Lllllllleong/contractflow/internal/models"
)

// Defaults substituted for invalid analysis fields.
const (
	defaultRiskScore = 50
	defaultSummary   = "Contract analysis completed."
	defaultRiskLevel = models.RiskMedium
)

// locateJSONObject returns the outermost {...} span of a model reply,
// ignoring code fences and surrounding prose.
func locateJSONObject(body string) (string, bool) {
	body = strings.TrimSpace(body)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	start := strings.IndexByte(body, '{')
	end := strings.LastIndexByte(body, '}')
	if start < 0 || end < start {
		return "", false
	}
	return body[start : end+1], true
}

// RepairAnalysis validates a raw model reply field by field. Invalid or
// missing fields are replaced by defaults and reported as notices; only a
// reply with no parseable JSON object is an error.
func RepairAnalysis(raw models.RawAnalysis) (*models.Analysis, []models.RepairNotice, error) {
	object, ok := locateJSONObject(raw.Body)
	if !ok {
		return nil, nil, fmt.Errorf("no JSON object in %s response", raw.Source)
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(object), &fields); err != nil {
		return nil, nil, fmt.Errorf("invalid JSON in %s response: %w", raw.Source, err)
	}

	r := &repairer{}
	a := &models.Analysis{
		RiskLevel:       r.riskLevel("riskLevel", fields["riskLevel"]),
		RiskScore:       r.riskScore(fields["riskScore"]),
		Summary:         r.summary(fields["summary"]),
		RiskItems:       r.riskItems(fields["riskItems"]),
		KeyClauses:      r.strings("keyClauses", fields["keyClauses"]),
		Recommendations: r.strings("recommendations", fields["recommendations"]),
	}
	return a, r.notices, nil
}

type repairer struct {
	notices []models.RepairNotice
}

func (r *repairer) note(field, reason string) {
	r.notices = append(r.notices, models.RepairNotice{Field: field, Reason: reason})
}

func (r *repairer) riskLevel(field string, v any) models.RiskLevel {
	s, ok := v.(string)
	if !ok {
		r.note(field, "missing or not a string")
		return defaultRiskLevel
	}
	lvl, ok := models.ParseRiskLevel(s)
	if !ok {
		r.note(field, fmt.Sprintf("unknown level %q", s))
		return defaultRiskLevel
	}
	return lvl
}

func (r *repairer) riskScore(v any) int {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) {
		r.note("riskScore", "missing or not a number")
		return defaultRiskScore
	}
	// Clamp before converting: int() of a huge float is undefined.
	score := math.Round(f)
	switch {
	case score < 0:
		r.note("riskScore", fmt.Sprintf("%v clamped to 0", f))
		return 0
	case score > 100:
		r.note("riskScore", fmt.Sprintf("%v clamped to 100", f))
		return 100
	}
	return int(score)
}

func (r *repairer) summary(v any) string {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		r.note("summary", "missing or empty")
		return defaultSummary
	}
	return strings.TrimSpace(s)
}

func (r *repairer) riskItems(v any) []models.RiskItem {
	list, ok := v.([]any)
	if !ok {
		r.note("riskItems", "missing or not a list")
		return []models.RiskItem{}
	}
	items := make([]models.RiskItem, 0, len(list))
	for i, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok {
			r.note(fmt.Sprintf("riskItems[%d]", i), "not an object, dropped")
			continue
		}
		item := models.RiskItem{
			Title:          stringField(obj, "title"),
			Description:    stringField(obj, "description"),
			Recommendation: stringField(obj, "recommendation"),
			Severity:       r.riskLevel(fmt.Sprintf("riskItems[%d].severity", i), obj["severity"]),
			SourceClause:   stringField(obj, "clause"),
		}
		if item.SourceClause == "" {
			item.SourceClause = stringField(obj, "sourceClause")
		}
		items = append(items, item)
	}
	return items
}

func (r *repairer) strings(field string, v any) []string {
	list, ok := v.([]any)
	if !ok {
		r.note(field, "missing or not a list")
		return []string{}
	}
	out := make([]string, 0, len(list))
	for i, entry := range list {
		s, ok := entry.(string)
		if !ok {
			r.note(fmt.Sprintf("%s[%d]", field, i), "not a string, dropped")
			continue
		}
		out = append(out, s)
	}
	return out
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}
