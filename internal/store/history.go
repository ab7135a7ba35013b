package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	// database drivers selected by the configured driver name
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hivemind-ai/hive/internal/metrics"
	"github.com/hivemind-ai/hive/internal/workflow"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS step_history (
	id           INTEGER PRIMARY KEY,
	execution_id TEXT NOT NULL,
	workflow_id  TEXT NOT NULL,
	step_id      TEXT NOT NULL,
	status       TEXT NOT NULL,
	attempt      INTEGER NOT NULL DEFAULT 0,
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	result       TEXT,
	error        TEXT,
	recorded_at  TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS execution_history (
	execution_id TEXT PRIMARY KEY,
	workflow_id  TEXT NOT NULL,
	status       TEXT NOT NULL,
	error        TEXT,
	started_at   TIMESTAMP NOT NULL,
	ended_at     TIMESTAMP,
	context      TEXT
);
CREATE INDEX IF NOT EXISTS idx_step_history_execution ON step_history(execution_id);
`

// HistoryConfig holds journal settings.
type HistoryConfig struct {
	Driver    string // "postgres" or "sqlite3"
	DSN       string
	QueueSize int
	Workers   int
}

// HistoryStore is the append-only execution journal. Writes are queued and
// flushed by background workers so the interpreter's hot path never blocks
// on the database; a full queue drops the record with a warning.
type HistoryStore struct {
	db      *sqlx.DB
	logger  *zap.Logger
	queue   chan historyJob
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

type historyJob struct {
	step *stepRow
	exec *execRow
}

type stepRow struct {
	ExecutionID string    `db:"execution_id"`
	WorkflowID  string    `db:"workflow_id"`
	StepID      string    `db:"step_id"`
	Status      string    `db:"status"`
	Attempt     int       `db:"attempt"`
	DurationMS  int64     `db:"duration_ms"`
	Result      *string   `db:"result"`
	Error       *string   `db:"error"`
	RecordedAt  time.Time `db:"recorded_at"`
}

type execRow struct {
	ExecutionID string     `db:"execution_id"`
	WorkflowID  string     `db:"workflow_id"`
	Status      string     `db:"status"`
	Error       *string    `db:"error"`
	StartedAt   time.Time  `db:"started_at"`
	EndedAt     *time.Time `db:"ended_at"`
	Context     *string    `db:"context"`
}

// NewHistoryStore connects to the history database and starts the write
// workers.
func NewHistoryStore(cfg HistoryConfig, logger *zap.Logger) (*HistoryStore, error) {
	if cfg.Driver == "" {
		cfg.Driver = "sqlite3"
	}
	if cfg.DSN == "" {
		cfg.DSN = "file:hive_history.db?cache=shared"
	}
	db, err := sqlx.Connect(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect history db (%s): %w", cfg.Driver, err)
	}
	return newHistoryStore(db, cfg, logger), nil
}

// NewHistoryStoreWithDB wraps an existing connection; used by tests.
func NewHistoryStoreWithDB(db *sqlx.DB, cfg HistoryConfig, logger *zap.Logger) *HistoryStore {
	return newHistoryStore(db, cfg, logger)
}

func newHistoryStore(db *sqlx.DB, cfg HistoryConfig, logger *zap.Logger) *HistoryStore {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	h := &HistoryStore{
		db:     db,
		logger: logger,
		queue:  make(chan historyJob, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		h.wg.Add(1)
		go h.worker()
	}
	return h
}

// EnsureSchema creates the journal tables when they are missing.
func (h *HistoryStore) EnsureSchema(ctx context.Context) error {
	if _, err := h.db.ExecContext(ctx, historySchema); err != nil {
		return fmt.Errorf("ensure history schema: %w", err)
	}
	return nil
}

// AppendStep implements workflow.Journal.
func (h *HistoryStore) AppendStep(executionID, workflowID string, entry workflow.HistoryEntry) {
	row := &stepRow{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		StepID:      entry.StepID,
		Status:      string(entry.Status),
		Attempt:     entry.Attempt,
		DurationMS:  entry.Duration.Milliseconds(),
		RecordedAt:  entry.Timestamp,
	}
	if entry.Result != nil {
		if raw, err := json.Marshal(entry.Result); err == nil {
			s := string(raw)
			row.Result = &s
		}
	}
	if entry.Error != "" {
		e := entry.Error
		row.Error = &e
	}
	h.enqueue(historyJob{step: row})
}

// ExecutionClosed implements workflow.Journal.
func (h *HistoryStore) ExecutionClosed(exec workflow.Execution) {
	row := &execRow{
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		Status:      string(exec.Status),
		StartedAt:   exec.StartedAt,
		EndedAt:     exec.EndedAt,
	}
	if exec.Error != "" {
		e := exec.Error
		row.Error = &e
	}
	if raw, err := json.Marshal(exec.Context); err == nil {
		s := string(raw)
		row.Context = &s
	}
	h.enqueue(historyJob{exec: row})
}

func (h *HistoryStore) enqueue(job historyJob) {
	h.closeMu.Lock()
	if h.closed {
		h.closeMu.Unlock()
		return
	}
	h.closeMu.Unlock()
	select {
	case h.queue <- job:
	default:
		metrics.HistoryWrites.WithLabelValues("dropped").Inc()
		h.logger.Warn("History queue full, dropping record")
	}
}

func (h *HistoryStore) worker() {
	defer h.wg.Done()
	for job := range h.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		var err error
		switch {
		case job.step != nil:
			_, err = h.db.NamedExecContext(ctx, `
				INSERT INTO step_history
					(execution_id, workflow_id, step_id, status, attempt, duration_ms, result, error, recorded_at)
				VALUES
					(:execution_id, :workflow_id, :step_id, :status, :attempt, :duration_ms, :result, :error, :recorded_at)`,
				job.step)
		case job.exec != nil:
			_, err = h.db.NamedExecContext(ctx, `
				INSERT INTO execution_history
					(execution_id, workflow_id, status, error, started_at, ended_at, context)
				VALUES
					(:execution_id, :workflow_id, :status, :error, :started_at, :ended_at, :context)`,
				job.exec)
		}
		cancel()
		if err != nil {
			metrics.HistoryWrites.WithLabelValues("error").Inc()
			h.logger.Warn("History write failed", zap.Error(err))
			continue
		}
		metrics.HistoryWrites.WithLabelValues("ok").Inc()
	}
}

// Ping probes the underlying database connection.
func (h *HistoryStore) Ping(ctx context.Context) error {
	return h.db.PingContext(ctx)
}

// StepsFor loads the recorded step entries of one execution, oldest first.
func (h *HistoryStore) StepsFor(ctx context.Context, executionID string) ([]workflow.HistoryEntry, error) {
	var rows []stepRow
	query := h.db.Rebind(`
		SELECT execution_id, workflow_id, step_id, status, attempt, duration_ms, result, error, recorded_at
		FROM step_history WHERE execution_id = ? ORDER BY recorded_at ASC`)
	err := h.db.SelectContext(ctx, &rows, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("load step history: %w", err)
	}
	out := make([]workflow.HistoryEntry, len(rows))
	for i, r := range rows {
		entry := workflow.HistoryEntry{
			StepID:    r.StepID,
			Status:    workflow.StepStatus(r.Status),
			Timestamp: r.RecordedAt,
			Duration:  time.Duration(r.DurationMS) * time.Millisecond,
			Attempt:   r.Attempt,
		}
		if r.Error != nil {
			entry.Error = *r.Error
		}
		if r.Result != nil {
			var v interface{}
			if json.Unmarshal([]byte(*r.Result), &v) == nil {
				entry.Result = v
			}
		}
		out[i] = entry
	}
	return out, nil
}

// Close stops accepting writes, drains the queue, and closes the database.
func (h *HistoryStore) Close() error {
	h.closeMu.Lock()
	if h.closed {
		h.closeMu.Unlock()
		return nil
	}
	h.closed = true
	h.closeMu.Unlock()
	close(h.queue)
	h.wg.Wait()
	return h.db.Close()
}
