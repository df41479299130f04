package routing

import "strings"

// Complexity は実行経路を選択するタグ
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"  // Direct実行（単発の推論）
	ComplexityComplex Complexity = "complex" // Sandboxed実行（ツール付きループ）
)

// String はComplexityの文字列表現を返す
func (c Complexity) String() string {
	return string(c)
}

// IsValid は定義済みのComplexityかを判定
func (c Complexity) IsValid() bool {
	return c == ComplexitySimple || c == ComplexityComplex
}

// ParseComplexity は文字列をComplexityに変換（不明な値はfallbackを返す）
func ParseComplexity(s string, fallback Complexity) Complexity {
	c := Complexity(strings.ToLower(strings.TrimSpace(s)))
	if c.IsValid() {
		return c
	}
	return fallback
}

// Source はルーティング決定の出所
type Source string

const (
	SourceForced   Source = "forced"
	SourcePattern  Source = "pattern"
	SourceKeyword  Source = "keyword"
	SourceLLM      Source = "llm"
	SourceFallback Source = "fallback"
)

// Decision はルーティング決定の結果を表す
// タスクごとに一度だけ生成され、以後変更されない
type Decision struct {
	Profile    string     // 決定されたプロファイルID
	ToolIDs    []string   // 有効化するツールID
	Confidence float64    // 確信度（0.0 - 1.0）
	Reasoning  string     // 決定理由
	Complexity Complexity // 実行経路
	Source     Source     // 決定の出所
}

// NewDecision は新しいDecisionを作成（確信度は0-1に丸める）
func NewDecision(profile string, toolIDs []string, confidence float64, reasoning string, complexity Complexity, source Source) Decision {
	ids := make([]string, len(toolIDs))
	copy(ids, toolIDs)
	return Decision{
		Profile:    profile,
		ToolIDs:    ids,
		Confidence: ClampConfidence(confidence),
		Reasoning:  reasoning,
		Complexity: complexity,
		Source:     source,
	}
}

// ClampConfidence は確信度を[0,1]に収める
func ClampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
