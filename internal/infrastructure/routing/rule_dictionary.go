package routing

import (
	"fmt"
	"strings"

	"github.com/Nyukimin/taskrelay/internal/domain/routing"
)

const (
	DefaultKeywordConfidence = 0.8
	DefaultPatternConfidence = 0.9
)

// RuleDictionary はプロファイルのトリガーに基づく高速分類
type RuleDictionary struct {
	catalog           Catalog
	keywordConfidence float64
	patternConfidence float64
}

// NewRuleDictionary は新しいRuleDictionaryを作成
func NewRuleDictionary(catalog Catalog, keywordConfidence, patternConfidence float64) *RuleDictionary {
	if keywordConfidence <= 0 {
		keywordConfidence = DefaultKeywordConfidence
	}
	if patternConfidence <= 0 {
		patternConfidence = DefaultPatternConfidence
	}
	return &RuleDictionary{
		catalog:           catalog,
		keywordConfidence: keywordConfidence,
		patternConfidence: patternConfidence,
	}
}

// Match はテキストをトリガーと照合
// パターン一致は即座に返し、キーワードは最長一致を採用する（デフォルトプロファイルは対象外）
func (d *RuleDictionary) Match(text string) (routing.Decision, bool) {
	lower := strings.ToLower(text)
	defaultID := d.catalog.DefaultProfileID()

	var bestKeyword string
	var bestProfile string
	var bestTools []string

	for _, p := range d.catalog.Profiles() {
		if p.ID == defaultID {
			continue
		}
		for _, re := range p.Triggers.Patterns {
			if re.MatchString(text) {
				return routing.NewDecision(p.ID, p.ToolIDs, d.patternConfidence,
					fmt.Sprintf("pattern match: %s", re.String()),
					routing.ComplexityComplex, routing.SourcePattern), true
			}
		}
		for _, kw := range p.Triggers.Keywords {
			if len(kw) > len(bestKeyword) && strings.Contains(lower, strings.ToLower(kw)) {
				bestKeyword = kw
				bestProfile = p.ID
				bestTools = p.ToolIDs
			}
		}
	}

	if bestProfile == "" {
		return routing.Decision{}, false
	}
	return routing.NewDecision(bestProfile, bestTools, d.keywordConfidence,
		fmt.Sprintf("keyword match: %s", bestKeyword),
		routing.ComplexityComplex, routing.SourceKeyword), true
}
