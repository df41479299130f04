package routing

import (
	"context"
	"fmt"

	"github.com/Nyukimin/taskrelay/internal/domain/routing"
	"github.com/Nyukimin/taskrelay/internal/domain/task"
	"github.com/Nyukimin/taskrelay/pkg/logger"
)

// DefaultFallbackConfidence は分類失敗時の確信度
const DefaultFallbackConfidence = 0.3

// maxFallbackConfidence はフォールバック時の確信度の上限
const maxFallbackConfidence = 0.5

// Classifier はタスク分類器の抽象化
type Classifier interface {
	Classify(ctx context.Context, t task.Task) (routing.Decision, error)
}

// RouterConfig はルーターの調整値
type RouterConfig struct {
	AlwaysClassify     bool
	FallbackConfidence float64
	FailureComplexity  routing.Complexity
}

// Router はタスクをプロファイルと実行経路に振り分ける
type Router struct {
	catalog    Catalog
	rules      *RuleDictionary
	classifier Classifier
	cfg        RouterConfig
}

// NewRouter は新しいRouterを作成
func NewRouter(catalog Catalog, rules *RuleDictionary, classifier Classifier, cfg RouterConfig) *Router {
	if cfg.FallbackConfidence <= 0 || cfg.FallbackConfidence > maxFallbackConfidence {
		cfg.FallbackConfidence = DefaultFallbackConfidence
	}
	if !cfg.FailureComplexity.IsValid() {
		cfg.FailureComplexity = routing.ComplexityComplex
	}
	return &Router{
		catalog:    catalog,
		rules:      rules,
		classifier: classifier,
		cfg:        cfg,
	}
}

// Route はルーティング決定を返す（エラーは返さない）
// 強制指定 → トリガー一致 → LLM分類 → フォールバックの順に判定する
func (r *Router) Route(ctx context.Context, t task.Task) (decision routing.Decision) {
	defer func() {
		if rec := recover(); rec != nil {
			decision = r.fallback(fmt.Errorf("router panic: %v", rec))
		}
	}()

	if d, ok := r.forced(t); ok {
		r.log(t, d)
		return d
	}

	if !r.cfg.AlwaysClassify && r.rules != nil {
		if d, ok := r.rules.Match(t.Text()); ok {
			r.log(t, d)
			return d
		}
	}

	if r.classifier == nil {
		d := r.fallback(fmt.Errorf("no classifier configured"))
		r.log(t, d)
		return d
	}

	d, err := r.classifier.Classify(ctx, t)
	if err != nil {
		logger.WarnCF("router", "Classification failed, using default profile", map[string]interface{}{
			"job_id": t.ID().String(),
			"error":  err.Error(),
		})
		d = r.fallback(err)
	}
	r.log(t, d)
	return d
}

// forced は呼び出し側が指定したプロファイル・ツールを適用する
func (r *Router) forced(t task.Task) (routing.Decision, bool) {
	if !t.HasForcedRoute() {
		return routing.Decision{}, false
	}

	profileID := t.ForcedProfile()
	if profileID != "" {
		if _, ok := r.catalog.Profile(profileID); !ok {
			logger.WarnCF("router", "Ignoring unknown forced profile", map[string]interface{}{
				"job_id":  t.ID().String(),
				"profile": profileID,
			})
			profileID = ""
		}
	}

	forcedTools := t.ForcedToolIDs()
	if profileID == "" && len(forcedTools) == 0 {
		return routing.Decision{}, false
	}
	if profileID == "" {
		profileID = r.catalog.DefaultProfileID()
	}

	p, _ := r.catalog.Profile(profileID)
	toolIDs := p.ToolIDs
	reason := fmt.Sprintf("forced profile %s", profileID)
	if len(forcedTools) > 0 {
		toolIDs = forcedTools
		reason = fmt.Sprintf("forced tools on profile %s", profileID)
	}

	complexity := routing.ComplexityComplex
	if profileID == r.catalog.DefaultProfileID() && len(forcedTools) == 0 {
		complexity = routing.ComplexitySimple
	}
	return routing.NewDecision(profileID, toolIDs, 1.0, reason, complexity, routing.SourceForced), true
}

// fallback は分類失敗時の決定を作成
func (r *Router) fallback(cause error) routing.Decision {
	p, _ := r.catalog.Profile(r.catalog.DefaultProfileID())
	return routing.NewDecision(
		r.catalog.DefaultProfileID(),
		p.ToolIDs,
		r.cfg.FallbackConfidence,
		fmt.Sprintf("classification failed, using default profile: %v", cause),
		r.cfg.FailureComplexity,
		routing.SourceFallback,
	)
}

func (r *Router) log(t task.Task, d routing.Decision) {
	logger.InfoCF("router", "Task routed", map[string]interface{}{
		"job_id":     t.ID().String(),
		"profile":    d.Profile,
		"source":     string(d.Source),
		"complexity": d.Complexity.String(),
		"confidence": d.Confidence,
		"tools":      len(d.ToolIDs),
	})
}
