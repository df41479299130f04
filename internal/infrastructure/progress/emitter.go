package progress

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Nyukimin/taskrelay/internal/domain/execution"
	"github.com/Nyukimin/taskrelay/pkg/logger"
)

// DefaultInterval はシンクへの送信間隔の既定値
const DefaultInterval = 1200 * time.Millisecond

const sendTimeout = 10 * time.Second

// Sink は進捗イベントの送信先
type Sink interface {
	Send(ctx context.Context, ev execution.Event) error
}

// SinkFunc は関数をSinkとして扱うアダプタ
type SinkFunc func(ctx context.Context, ev execution.Event) error

// Send はfを呼び出す
func (f SinkFunc) Send(ctx context.Context, ev execution.Event) error {
	return f(ctx, ev)
}

// Emitter は進捗イベントを間引いてシンクへ送る
// Emitはブロックせず、未送信のイベントは最新の1件だけ保持する
type Emitter struct {
	sink    Sink
	limiter *rate.Limiter

	slot   chan execution.Event
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	closed   bool
	terminal *execution.Event
	leftover *execution.Event

	closeOnce sync.Once
}

// NewEmitter は新しいEmitterを作成し、送信ゴルーチンを起動
func NewEmitter(sink Sink, interval time.Duration) *Emitter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Emitter{
		sink:    sink,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		slot:    make(chan execution.Event, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go e.run(ctx)
	return e
}

// Emit はイベントを登録する（ブロックしない）
// 終端イベントはCloseで必ず送信される
func (e *Emitter) Emit(ev execution.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if ev.Type.IsTerminal() {
		e.terminal = &ev
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	for {
		select {
		case e.slot <- ev:
			return
		default:
		}
		// 古いイベントを捨てて最新で置き換える
		select {
		case <-e.slot:
		default:
		}
	}
}

// Func はEmitをexecution.EmitFuncとして返す
func (e *Emitter) Func() execution.EmitFunc {
	return e.Emit
}

// Close は送信ゴルーチンを止め、保留中のイベントと終端イベントを順に送る
func (e *Emitter) Close(ctx context.Context) {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()

		e.cancel()
		<-e.done

		pending := e.leftover
		select {
		case ev := <-e.slot:
			pending = &ev
		default:
		}

		if pending != nil {
			e.send(ctx, *pending)
		}
		if e.terminal != nil {
			e.send(ctx, *e.terminal)
		}
	})
}

func (e *Emitter) run(ctx context.Context) {
	defer close(e.done)

	for {
		var ev execution.Event
		select {
		case <-ctx.Done():
			return
		case ev = <-e.slot:
		}

		if err := e.limiter.Wait(ctx); err != nil {
			e.leftover = &ev
			return
		}

		// 待機中に届いた新しいイベントがあればそちらを送る
		select {
		case newer := <-e.slot:
			ev = newer
		default:
		}

		// Closeで中断されないよう送信中の更新は独立したタイムアウトで送る
		sendCtx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		e.send(sendCtx, ev)
		cancel()
	}
}

func (e *Emitter) send(ctx context.Context, ev execution.Event) {
	if err := e.sink.Send(ctx, ev); err != nil {
		logger.WarnCF("progress", "Progress sink failed", map[string]interface{}{
			"event": string(ev.Type),
			"error": err.Error(),
		})
	}
}
