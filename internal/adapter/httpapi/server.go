// Package httpapi はタスク受付のHTTPエンドポイントを提供する
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Nyukimin/taskrelay/internal/application/orchestrator"
	"github.com/Nyukimin/taskrelay/internal/domain/execution"
	"github.com/Nyukimin/taskrelay/internal/domain/task"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/progress"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/progress/sinks"
	"github.com/Nyukimin/taskrelay/pkg/health"
	"github.com/Nyukimin/taskrelay/pkg/logger"
)

// TaskProcessor はタスクを処理する
type TaskProcessor interface {
	ProcessTask(ctx context.Context, req orchestrator.ProcessTaskRequest) (orchestrator.ProcessTaskResponse, error)
}

// SinkOpener はタスクごとの進捗シンクを開く
type SinkOpener func(ctx context.Context, taskID, text string) progress.Sink

// Options はサーバー設定
type Options struct {
	CORSOrigins      []string
	ProgressInterval time.Duration
	OpenSink         SinkOpener
	Checker          *health.Checker
}

// Server はHTTP APIサーバー
type Server struct {
	proc     TaskProcessor
	opts     Options
	engine   *gin.Engine
	upgrader websocket.Upgrader

	// 非同期タスクの完了待ち
	async sync.WaitGroup
}

// NewServer は新しいServerを作成
func NewServer(proc TaskProcessor, opts Options) *Server {
	if opts.OpenSink == nil {
		opts.OpenSink = func(ctx context.Context, taskID, text string) progress.Sink {
			return progress.LogSink{TaskID: taskID}
		}
	}
	if opts.Checker == nil {
		opts.Checker = health.NewChecker()
	}

	s := &Server{
		proc: proc,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	config := cors.DefaultConfig()
	if len(s.opts.CORSOrigins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = s.opts.CORSOrigins
	}
	r.Use(cors.New(config))

	r.GET("/health", s.handleHealth)
	r.GET("/ready", s.handleReady)

	v1 := r.Group("/v1")
	v1.POST("/tasks", s.handleTask)
	v1.GET("/tasks/stream", s.handleStream)

	return r
}

// Handler はhttp.Handlerを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run はサーバーを起動し、ctxのキャンセルで停止する
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoCF("http", "Server listening", map[string]interface{}{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.Wait()
	return nil
}

// Wait は受付済みの非同期タスクの完了を待つ
func (s *Server) Wait() {
	s.async.Wait()
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleReady(c *gin.Context) {
	report := s.opts.Checker.Run()
	status := http.StatusOK
	if !report.OK() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

func (s *Server) handleTask(c *gin.Context) {
	var req TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t := req.toTask(task.NewJobID())

	if req.Async {
		s.async.Add(1)
		go func() {
			defer s.async.Done()
			s.process(context.Background(), t, req.Debug, nil)
		}()
		c.JSON(http.StatusAccepted, TaskResponse{ID: t.ID().String(), Status: execution.StatusQueued})
		return
	}

	resp := s.process(c.Request.Context(), t, req.Debug, nil)
	c.JSON(http.StatusOK, toTaskResponse(resp))
}

// handleStream は1本のWebSocketで1タスクを受け付け、進捗と結果を送る
func (s *Server) handleStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.WarnCF("http", "WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	ws := sinks.NewWebSocketSink(conn)

	var req TaskRequest
	if err := conn.ReadJSON(&req); err != nil || req.Task == "" {
		_ = ws.WriteJSON(c.Request.Context(), gin.H{"type": "error", "error": "first frame must be a task request with a non-empty task"})
		return
	}

	t := req.toTask(task.NewJobID())
	resp := s.process(c.Request.Context(), t, req.Debug, ws)

	if err := ws.WriteJSON(c.Request.Context(), resultFrame{Type: "result", Task: toTaskResponse(resp)}); err != nil {
		logger.WarnCF("http", "Failed to write result frame", map[string]interface{}{
			"task_id": resp.ID,
			"error":   err.Error(),
		})
	}
}

// process は進捗シンクを開いてタスクを処理する
func (s *Server) process(ctx context.Context, t task.Task, debug bool, extra progress.Sink) orchestrator.ProcessTaskResponse {
	var sink progress.Sink = s.opts.OpenSink(ctx, t.ID().String(), "Working on it...")
	if extra != nil {
		sink = progress.Multi{extra, sink}
	}
	emitter := progress.NewEmitter(sink, s.opts.ProgressInterval)

	resp, err := s.proc.ProcessTask(ctx, orchestrator.ProcessTaskRequest{
		Task:  t,
		Debug: debug,
		Emit:  emitter.Emit,
	})
	emitter.Close(context.WithoutCancel(ctx))

	if err != nil {
		logger.InfoCF("http", "Task rejected", map[string]interface{}{
			"task_id": t.ID().String(),
			"reason":  err.Error(),
		})
	}
	return resp
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.DebugCF("http", "Request handled", map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
}
