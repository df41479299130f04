// Package retry は一時的な失敗に対する指数バックオフ再試行を提供する
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Nyukimin/taskrelay/pkg/logger"
)

// Policy は再試行ポリシー
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultPolicy はデフォルトの再試行ポリシー
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// StatusError はHTTPステータスを持つ転送エラー
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration // 0は指定なし
	Err        error
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// NewStatusError はレスポンスヘッダーからRetry-Afterを読み取ってStatusErrorを作成
func NewStatusError(status int, header http.Header, err error) *StatusError {
	se := &StatusError{StatusCode: status, Err: err}
	if header != nil {
		se.RetryAfter = ParseRetryAfter(header.Get("Retry-After"))
	}
	return se
}

// ParseRetryAfter はRetry-Afterヘッダー（秒数）を解釈する
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// IsRetryable はエラーが再試行対象かを判定
// 429以外の4xxとコンテキストエラーは再試行しない
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		if se.StatusCode >= 400 && se.StatusCode < 500 && se.StatusCode != http.StatusTooManyRequests {
			return false
		}
	}
	return true
}

// Backoff はattempt回目（1始まり）の再試行前の待機時間を返す
func Backoff(p Policy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.InitialDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func delayFor(p Policy, attempt int, err error) time.Duration {
	var se *StatusError
	if errors.As(err, &se) && se.RetryAfter > 0 {
		return se.RetryAfter
	}
	return Backoff(p, attempt)
}

// Do はopを実行し、再試行可能なエラーであればポリシーに従って再試行する
// 再試行を使い切った場合は最後のエラーをそのまま返す
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := delayFor(p, attempt, lastErr)
			logger.DebugCF("retry", "Retrying after failure", map[string]interface{}{
				"attempt": attempt,
				"wait_ms": wait.Milliseconds(),
				"error":   lastErr.Error(),
			})

			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return zero, errors.Join(ctx.Err(), lastErr)
			}
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return zero, err
		}
	}

	logger.WarnCF("retry", "Retries exhausted", map[string]interface{}{
		"max_retries": p.MaxRetries,
		"error":       lastErr.Error(),
	})
	return zero, lastErr
}
