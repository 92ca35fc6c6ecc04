package classifier

import (
	"encoding/json"
	"fmt"
	"live-monitor/constant"
	"strings"
)

// rawVerdict accepts both the English keys and the French ones older prompts
// produce.
type rawVerdict struct {
	Category      string   `json:"category"`
	Categorie     string   `json:"categorie"`
	Virality      string   `json:"virality"`
	Viralite      string   `json:"viralite"`
	Hateful       *bool    `json:"hateful"`
	Haineux       *bool    `json:"discours_haineux"`
	Target        string   `json:"target"`
	Cible         string   `json:"cible"`
	Rationale     string   `json:"rationale"`
	Justification string   `json:"justification"`
	RiskScore     *float64 `json:"risk_score"`
	RisqueScore   *float64 `json:"risque_score"`
}

var categories = map[string]constant.Category{
	"neutre":                constant.CategoryNeutral,
	"neutral":               constant.CategoryNeutral,
	"polémique":             constant.CategoryControversial,
	"polemique":             constant.CategoryControversial,
	"controversial":         constant.CategoryControversial,
	"potentiellement viral": constant.CategoryViral,
	"viral":                 constant.CategoryViral,
	"discours haineux":      constant.CategoryHateful,
	"haineux":               constant.CategoryHateful,
	"hateful":               constant.CategoryHateful,
}

var viralities = map[string]constant.Virality{
	"low":     constant.ViralityLow,
	"faible":  constant.ViralityLow,
	"medium":  constant.ViralityMedium,
	"moyenne": constant.ViralityMedium,
	"high":    constant.ViralityHigh,
	"élevée":  constant.ViralityHigh,
	"elevee":  constant.ViralityHigh,
}

// ParseVerdict reads a model reply. Unknown categories fall back to neutral
// and unknown virality to low; a missing or out of range score is an error.
func ParseVerdict(content string) (Verdict, error) {
	content = stripFence(content)

	var raw rawVerdict
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrClassifier, err)
	}

	score := firstFloat(raw.RiskScore, raw.RisqueScore)
	if score == nil {
		return Verdict{}, fmt.Errorf("%w: missing risk score", ErrClassifier)
	}
	if *score < 0 || *score > 1 {
		return Verdict{}, fmt.Errorf("%w: risk score %v out of range", ErrClassifier, *score)
	}

	v := Verdict{
		Category:  MapCategory(firstString(raw.Category, raw.Categorie)),
		Virality:  mapVirality(firstString(raw.Virality, raw.Viralite)),
		Target:    firstString(raw.Target, raw.Cible),
		Rationale: firstString(raw.Rationale, raw.Justification),
		RiskScore: *score,
	}
	if h := firstBool(raw.Hateful, raw.Haineux); h != nil {
		v.Hateful = *h
	}
	return v, nil
}

func MapCategory(label string) constant.Category {
	if c, ok := categories[strings.ToLower(strings.TrimSpace(label))]; ok {
		return c
	}
	return constant.CategoryNeutral
}

func mapVirality(label string) constant.Virality {
	if v, ok := viralities[strings.ToLower(strings.TrimSpace(label))]; ok {
		return v
	}
	return constant.ViralityLow
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func firstString(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstFloat(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstBool(vals ...*bool) *bool {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
