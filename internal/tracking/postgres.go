package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/modelgate/gateway/migrations"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres database: %w", err)
	}
	if err := migrations.Apply(ctx, db, migrations.DriverPostgres); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure postgres schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const pgLogInsertSQL = `
INSERT INTO chat_logs (
    id,
    timestamp,
    provider,
    model,
    chat_input,
    chat_output,
    input_tokens,
    output_tokens,
    total_tokens,
    cost,
    latency,
    time_to_first_token,
    inter_token_latency,
    tokens_per_second,
    parameters,
    created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

func (s *PostgresStore) WriteLog(ctx context.Context, log *Log) error {
	if log == nil {
		return nil
	}

	row := normalizeLog(log)
	_, err := s.db.ExecContext(ctx, pgLogInsertSQL,
		row.ID,
		row.Timestamp,
		row.Provider,
		row.Model,
		row.ChatInput,
		row.ChatOutput,
		row.InputTokens,
		row.OutputTokens,
		row.TotalTokens,
		row.Cost,
		row.Latency,
		row.TimeToFirstToken,
		row.InterTokenLatency,
		row.TokensPerSecond,
		row.Parameters,
		row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("write chat log %q: %w", row.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetLog(ctx context.Context, id string) (*Log, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+logSelectColumns+" FROM chat_logs WHERE id = $1 LIMIT 1", id)
	log, err := scanLogRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get chat log %q: %w", id, err)
	}
	return log, nil
}

func (s *PostgresStore) ListLogs(ctx context.Context, filter LogFilter) ([]*Log, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	whereSQL, args := buildLogWhere(filter, "$")
	query := fmt.Sprintf(
		"SELECT %s FROM chat_logs WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		logSelectColumns, whereSQL, len(args)+1, len(args)+2,
	)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chat logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*Log, 0, limit)
	for rows.Next() {
		log, err := scanLogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat log row: %w", err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat log rows: %w", err)
	}
	return logs, nil
}
