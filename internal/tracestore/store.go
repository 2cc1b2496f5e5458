package tracestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/metalagman/proctor/internal/model"
	"github.com/metalagman/proctor/internal/trace"
)

// Store provides persistence for runs and their traces.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// RunRecord is one persisted task run.
type RunRecord struct {
	RunID     string
	CreatedAt string
	EndedAt   string
	Task      string
	Login     string
	Status    string
	Outcome   string
	Message   string
	Links     []model.Link
	NodeCount int
}

// CreateRun inserts the run record and a run_started event.
func (s *Store) CreateRun(ctx context.Context, runID, task, login string) error {
	createdAt := time.Now().UTC().Format(time.RFC3339)
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin create run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO runs(run_id, created_at, task, login, status)
		VALUES(?, ?, ?, ?, ?)`,
		runID, createdAt, task, login, "running"); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert run: %w", err)
	}
	if err := insertEvent(ctx, tx, runID, "run_started", "run started", ""); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create run: %w", err)
	}
	return nil
}

// FinishRun stores the trace and the terminal result in one transaction,
// together with a run_finished event carrying the result payload.
func (s *Store) FinishRun(ctx context.Context, runID string, result model.Result, nodes []trace.Node) error {
	endedAt := time.Now().UTC().Format(time.RFC3339)
	linksJSON := ""
	if len(result.Links) > 0 {
		raw, err := json.Marshal(result.Links)
		if err != nil {
			return fmt.Errorf("encode links: %w", err)
		}
		linksJSON = string(raw)
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin finish run: %w", err)
	}
	for i, node := range nodes {
		raw, err := json.Marshal(node)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encode node %s: %w", node.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO trace_nodes(run_id, seq, node_id, event, node_json)
			VALUES(?, ?, ?, ?, ?)`,
			runID, i+1, string(node.ID), node.Kind, string(raw)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert node %s: %w", node.ID, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET ended_at=?, status=?, outcome=?, message=?, links_json=?, node_count=? WHERE run_id=?`,
		endedAt, string(result.Status), string(result.Outcome), result.Message,
		nullableString(linksJSON), len(nodes), runID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update run: %w", err)
	}
	if err := insertEvent(ctx, tx, runID, "run_finished", string(result.Status), string(resultJSON)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finish run: %w", err)
	}
	return nil
}

// RecordEvent appends a run event outside the lifecycle transactions,
// such as the task pre-pass output.
func (s *Store) RecordEvent(ctx context.Context, runID, typ, message, dataJSON string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin record event: %w", err)
	}
	if err := insertEvent(ctx, tx, runID, typ, message, dataJSON); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record event: %w", err)
	}
	return nil
}

// LoadTrace returns the flat trace of a run in recorded order.
func (s *Store) LoadTrace(ctx context.Context, runID string) ([]trace.Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT node_json FROM trace_nodes WHERE run_id=? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query trace: %w", err)
	}
	defer rows.Close()

	var nodes []trace.Node
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		var node trace.Node
		if err := json.Unmarshal([]byte(raw), &node); err != nil {
			return nil, fmt.Errorf("decode node: %w", err)
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace: %w", err)
	}
	return nodes, nil
}

// GetRun returns one run record, or nil if it does not exist.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, created_at, COALESCE(ended_at, ''), task, login, status, outcome, message, COALESCE(links_json, ''), node_count
		 FROM runs WHERE run_id=?`, runID)
	rec, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read run: %w", err)
	}
	return rec, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, created_at, COALESCE(ended_at, ''), task, login, status, outcome, message, COALESCE(links_json, ''), node_count
		 FROM runs ORDER BY created_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// PruneRuns deletes all but the newest keep runs. Traces and events go
// with them through the cascade.
func (s *Store) PruneRuns(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		return 0, fmt.Errorf("keep must be positive")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id NOT IN (
		SELECT run_id FROM runs ORDER BY created_at DESC, run_id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune result: %w", err)
	}
	return int(n), nil
}

func scanRun(scan func(dest ...any) error) (*RunRecord, error) {
	var rec RunRecord
	var linksJSON string
	if err := scan(&rec.RunID, &rec.CreatedAt, &rec.EndedAt, &rec.Task, &rec.Login,
		&rec.Status, &rec.Outcome, &rec.Message, &linksJSON, &rec.NodeCount); err != nil {
		return nil, err
	}
	if linksJSON != "" {
		if err := json.Unmarshal([]byte(linksJSON), &rec.Links); err != nil {
			return nil, fmt.Errorf("decode links: %w", err)
		}
	}
	return &rec, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, runID, typ, message, dataJSON string) error {
	var seq int
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE run_id=?`, runID)
	if err := row.Scan(&seq); err != nil {
		return fmt.Errorf("read event seq: %w", err)
	}
	ts := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, `INSERT INTO events(run_id, seq, ts, type, message, data_json) VALUES(?, ?, ?, ?, ?, ?)`,
		runID, seq+1, ts, typ, message, nullableString(dataJSON)); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
