package run

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ahmethakanbesel/marketdata/internal/apperror"
	"github.com/ahmethakanbesel/marketdata/internal/market"
	domain "github.com/ahmethakanbesel/marketdata/internal/run"
)

// tsFormat has a fixed width so timestamps sort lexically.
const tsFormat = "2006-01-02T15:04:05.000000Z07:00"

const columns = `id, scope, mode, status, as_of_trade_date, started_at, finished_at,
	symbol_count, inserted, updated, errors, error_message, meta`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, run *domain.Run) error {
	const query = `INSERT INTO ingest_runs (scope, mode, status, started_at, meta)
		VALUES (?, ?, ?, ?, ?)`

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	meta, err := encodeMeta(run.Meta)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query,
		string(run.Scope), string(run.Mode), string(run.Status),
		run.StartedAt.UTC().Format(tsFormat), meta,
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	run.ID, _ = res.LastInsertId()
	return nil
}

func (r *Repository) Finish(ctx context.Context, run *domain.Run) error {
	const query = `UPDATE ingest_runs SET status = ?, as_of_trade_date = ?, finished_at = ?,
		symbol_count = ?, inserted = ?, updated = ?, errors = ?, error_message = ?, meta = ?
		WHERE id = ? AND status = 'running'`

	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	var asOf sql.NullString
	if run.AsOfTradeDate != nil {
		asOf = sql.NullString{String: run.AsOfTradeDate.Format(market.DateFormat), Valid: true}
	}
	var msg sql.NullString
	if run.ErrorMessage != nil {
		msg = sql.NullString{String: *run.ErrorMessage, Valid: true}
	}
	meta, err := encodeMeta(run.Meta)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query,
		string(run.Status), asOf, run.FinishedAt.UTC().Format(tsFormat),
		run.SymbolCount, run.Inserted, run.Updated, run.Errors, msg, meta,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("finish run %d: %w", run.ID, domain.ErrAlreadyFinished)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id int64) (*domain.Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM ingest_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, apperror.New(apperror.NotFound, "run not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (r *Repository) List(ctx context.Context, f domain.ListFilter) ([]domain.Run, int64, error) {
	where := " WHERE 1=1"
	var args []any
	if f.Scope != "" {
		where += " AND scope = ?"
		args = append(args, string(f.Scope))
	}
	if f.Status != "" {
		where += " AND status = ?"
		args = append(args, string(f.Status))
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM ingest_runs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = domain.DefaultPageSize
	}
	query := `SELECT ` + columns + ` FROM ingest_runs` + where + ` ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, total, rows.Err()
}

func (r *Repository) RecoverStale(ctx context.Context) (int64, error) {
	const query = `UPDATE ingest_runs SET status = 'failed', error_message = 'interrupted',
		finished_at = ?
		WHERE status = 'running'`

	res, err := r.db.ExecContext(ctx, query, time.Now().UTC().Format(tsFormat))
	if err != nil {
		return 0, fmt.Errorf("recover stale runs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*domain.Run, error) {
	run := &domain.Run{}
	var scope, mode, status, startedStr, metaStr string
	var asOf, finishedStr, msg sql.NullString

	if err := s.Scan(
		&run.ID, &scope, &mode, &status, &asOf, &startedStr, &finishedStr,
		&run.SymbolCount, &run.Inserted, &run.Updated, &run.Errors, &msg, &metaStr,
	); err != nil {
		return nil, err
	}

	run.Scope = domain.Scope(scope)
	run.Mode = domain.Mode(mode)
	run.Status = domain.Status(status)
	run.StartedAt, _ = time.Parse(tsFormat, startedStr)
	if asOf.Valid {
		if d, err := time.Parse(market.DateFormat, asOf.String); err == nil {
			run.AsOfTradeDate = &d
		}
	}
	if finishedStr.Valid {
		if t, err := time.Parse(tsFormat, finishedStr.String); err == nil {
			run.FinishedAt = &t
		}
	}
	if msg.Valid {
		m := msg.String
		run.ErrorMessage = &m
	}
	if metaStr != "" {
		_ = json.Unmarshal([]byte(metaStr), &run.Meta)
	}
	return run, nil
}

func encodeMeta(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
