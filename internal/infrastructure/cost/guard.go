// Package cost は実行前のコスト見積もりと上限チェックを提供する
package cost

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/Nyukimin/taskrelay/pkg/logger"
)

const (
	// DefaultCeiling はタスクあたりの見積もりコスト上限（USD）
	DefaultCeiling = 0.10
	// DefaultAssumedOutputTokens は出力トークン数の想定値
	DefaultAssumedOutputTokens = 500
	charsPerToken              = 4
)

// Price は1000トークンあたりの価格（USD）
type Price struct {
	InputPerK  float64 `yaml:"input_per_k" json:"input_per_k"`
	OutputPerK float64 `yaml:"output_per_k" json:"output_per_k"`
}

// DefaultPrices は組み込みの価格表
func DefaultPrices() map[string]Price {
	return map[string]Price{
		"claude-opus-4":    {InputPerK: 0.015, OutputPerK: 0.075},
		"claude-sonnet-4":  {InputPerK: 0.003, OutputPerK: 0.015},
		"claude-3-5-haiku": {InputPerK: 0.0008, OutputPerK: 0.004},
		"gpt-4o":           {InputPerK: 0.0025, OutputPerK: 0.01},
		"gpt-4o-mini":      {InputPerK: 0.00015, OutputPerK: 0.0006},
		"deepseek-chat":    {InputPerK: 0.00027, OutputPerK: 0.0011},
		"gemini-2.0-flash": {InputPerK: 0.0001, OutputPerK: 0.0004},
		"gemini-2.5-pro":   {InputPerK: 0.00125, OutputPerK: 0.01},
	}
}

// Estimate は見積もり結果
type Estimate struct {
	InputTokens   int
	EstimatedCost float64
	Reject        bool
	Reason        string
}

// Guard はコストガード
type Guard struct {
	model               string
	prices              map[string]Price
	ceiling             float64
	assumedOutputTokens int
}

// Option はGuardのオプション
type Option func(*Guard)

// WithCeiling は上限を設定
func WithCeiling(usd float64) Option {
	return func(g *Guard) {
		if usd > 0 {
			g.ceiling = usd
		}
	}
}

// WithAssumedOutputTokens は想定出力トークン数を設定
func WithAssumedOutputTokens(n int) Option {
	return func(g *Guard) {
		if n > 0 {
			g.assumedOutputTokens = n
		}
	}
}

// WithPrices は価格表を上書き・追加
func WithPrices(prices map[string]Price) Option {
	return func(g *Guard) {
		for k, v := range prices {
			g.prices[k] = v
		}
	}
}

// NewGuard は新しいGuardを作成
func NewGuard(model string, opts ...Option) *Guard {
	g := &Guard{
		model:               model,
		prices:              DefaultPrices(),
		ceiling:             DefaultCeiling,
		assumedOutputTokens: DefaultAssumedOutputTokens,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// EstimateTokens は文字数からトークン数を概算（4文字=1トークン、切り上げ）
func EstimateTokens(contents []string) int {
	chars := 0
	for _, c := range contents {
		chars += utf8.RuneCountInString(c)
	}
	return int(math.Ceil(float64(chars) / charsPerToken))
}

// EstimateAndCheck は入力全体のコストを見積もり、上限を超える場合は拒否とする
func (g *Guard) EstimateAndCheck(contents []string) Estimate {
	tokens := EstimateTokens(contents)
	price := g.priceFor(g.model)

	estimated := float64(tokens)/1000*price.InputPerK +
		float64(g.assumedOutputTokens)/1000*price.OutputPerK

	est := Estimate{InputTokens: tokens, EstimatedCost: estimated}
	if estimated > g.ceiling {
		est.Reject = true
		est.Reason = fmt.Sprintf(
			"Request is too long (estimated cost $%.4f exceeds limit $%.2f). Please shorten your request.",
			estimated, g.ceiling)
		logger.WarnCF("cost", "Request rejected by cost guard", map[string]interface{}{
			"model":          g.model,
			"input_tokens":   tokens,
			"estimated_cost": estimated,
			"ceiling":        g.ceiling,
		})
	}
	return est
}

// Ceiling は上限を返す
func (g *Guard) Ceiling() float64 {
	return g.ceiling
}

// priceFor はモデルの価格を返す
// 完全一致、前方一致の順に探し、見つからなければ最も高い価格を使う
func (g *Guard) priceFor(model string) Price {
	if p, ok := g.prices[model]; ok {
		return p
	}
	best := ""
	for k := range g.prices {
		if strings.HasPrefix(model, k) && len(k) > len(best) {
			best = k
		}
	}
	if best != "" {
		return g.prices[best]
	}

	var fallback Price
	for _, p := range g.prices {
		if p.InputPerK+p.OutputPerK > fallback.InputPerK+fallback.OutputPerK {
			fallback = p
		}
	}
	return fallback
}
