// Package health は依存先の死活確認をまとめて実行する
package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// CheckFunc は1件の確認（okとメッセージを返す）
type CheckFunc func() (bool, string)

// CheckResult は確認結果
type CheckResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Report は全確認の結果
type Report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// OK は全ての確認が成功したかを判定
func (r Report) OK() bool {
	return r.Status == "ok"
}

// Checker は名前付きの確認を並行に実行する
type Checker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewChecker は新しいCheckerを作成
func NewChecker() *Checker {
	return &Checker{checks: make(map[string]CheckFunc)}
}

// Register は確認を登録
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// Names は登録済みの確認名を返す
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run は全ての確認を実行
func (c *Checker) Run() Report {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()

	report := Report{Status: "ok", Checks: make(map[string]CheckResult, len(checks))}
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, fn := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, msg := fn()
			mu.Lock()
			defer mu.Unlock()
			report.Checks[name] = CheckResult{OK: ok, Message: msg}
			if !ok {
				report.Status = "degraded"
			}
		}()
	}
	wg.Wait()
	return report
}

// ContextCheck はエラーを返す確認関数をCheckFuncに変換
func ContextCheck(fn func(ctx context.Context) error, timeout time.Duration) CheckFunc {
	return func() (bool, string) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			return false, err.Error()
		}
		return true, "ok"
	}
}
