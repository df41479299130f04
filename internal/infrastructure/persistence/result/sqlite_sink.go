package result

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const createTable = `CREATE TABLE IF NOT EXISTS task_results (
	task_id     TEXT PRIMARY KEY,
	task        TEXT NOT NULL,
	profile     TEXT NOT NULL DEFAULT '',
	tool_ids    TEXT NOT NULL DEFAULT '',
	complexity  TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	output      TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	steps_used  INTEGER NOT NULL DEFAULT 0,
	finished_at TEXT NOT NULL
)`

// SQLiteSink はtask_resultsテーブルへ書き込むSink
type SQLiteSink struct {
	conn *sql.DB
}

// NewSQLiteSink はDBを開いてテーブルを用意する
func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	if _, err := conn.Exec(createTable); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return &SQLiteSink{conn: conn}, nil
}

// Write は結果を1行保存
func (s *SQLiteSink) Write(ctx context.Context, rec Record) error {
	_, err := s.conn.ExecContext(ctx, `INSERT INTO task_results
		(task_id, task, profile, tool_ids, complexity, status, output, error, duration_ms, steps_used, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TaskID, rec.Text, rec.Profile, strings.Join(rec.ToolIDs, ","), rec.Complexity,
		rec.Status, rec.Output, rec.Error, rec.DurationMs, rec.StepsUsed,
		rec.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert result %s: %w", rec.TaskID, err)
	}
	return nil
}

// Get はタスクIDで結果を取得
func (s *SQLiteSink) Get(ctx context.Context, taskID string) (Record, error) {
	var (
		rec        Record
		toolIDs    string
		finishedAt string
	)
	err := s.conn.QueryRowContext(ctx, `SELECT task_id, task, profile, tool_ids, complexity, status, output, error, duration_ms, steps_used, finished_at
		FROM task_results WHERE task_id = ?`, taskID).
		Scan(&rec.TaskID, &rec.Text, &rec.Profile, &toolIDs, &rec.Complexity, &rec.Status,
			&rec.Output, &rec.Error, &rec.DurationMs, &rec.StepsUsed, &finishedAt)
	if err == sql.ErrNoRows {
		return Record{}, fmt.Errorf("result not found: %s", taskID)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to query result: %w", err)
	}
	if toolIDs != "" {
		rec.ToolIDs = strings.Split(toolIDs, ",")
	}
	rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAt)
	return rec, nil
}

// Close はDBを閉じる
func (s *SQLiteSink) Close() error {
	return s.conn.Close()
}
