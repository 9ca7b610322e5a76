package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/modelgate/gateway/migrations"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	Path string
	db   *sql.DB
	// SQLite allows only one writer at a time; serialize writes to avoid
	// SQLITE_BUSY contention when callers invoke WriteLog concurrently.
	writeMu sync.Mutex
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %q: %w", path, err)
	}

	store := &SQLiteStore{Path: path, db: db}
	if err := store.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrations.Apply(context.Background(), db, migrations.DriverSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure sqlite schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) configure() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return fmt.Errorf("enable sqlite WAL mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA synchronous = NORMAL;`); err != nil {
		return fmt.Errorf("set sqlite synchronous mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		return fmt.Errorf("set sqlite busy timeout: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const logInsertSQL = `
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
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *SQLiteStore) WriteLog(ctx context.Context, log *Log) error {
	if log == nil {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	row := normalizeLog(log)
	err := retrySQLiteBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, logInsertSQL,
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
		return err
	})
	if err != nil {
		return fmt.Errorf("write chat log %q: %w", row.ID, err)
	}
	return nil
}

const logSelectColumns = `
id,
CAST(timestamp AS TEXT),
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
CAST(created_at AS TEXT)
`

func (s *SQLiteStore) GetLog(ctx context.Context, id string) (*Log, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+logSelectColumns+" FROM chat_logs WHERE id = ? LIMIT 1", id)
	log, err := scanLogRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get chat log %q: %w", id, err)
	}
	return log, nil
}

func (s *SQLiteStore) ListLogs(ctx context.Context, filter LogFilter) ([]*Log, error) {
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

	whereSQL, args := buildLogWhere(filter, "?")
	args = append(args, limit, offset)

	query := "SELECT " + logSelectColumns + " FROM chat_logs WHERE " + whereSQL +
		" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
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

func buildLogWhere(filter LogFilter, placeholder string) (string, []any) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 2)

	next := func() string {
		if placeholder == "?" {
			return "?"
		}
		return fmt.Sprintf("$%d", len(args)+1)
	}

	if filter.Provider != "" {
		where = append(where, "provider = "+next())
		args = append(args, filter.Provider)
	}
	if filter.Model != "" {
		where = append(where, "model = "+next())
		args = append(args, filter.Model)
	}

	if len(where) == 0 {
		return "1=1", args
	}
	return strings.Join(where, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLogRow(scanner rowScanner) (*Log, error) {
	var (
		log           Log
		timestampText sql.NullString
		parameters    sql.NullString
		createdAtText sql.NullString
	)

	if err := scanner.Scan(
		&log.ID,
		&timestampText,
		&log.Provider,
		&log.Model,
		&log.ChatInput,
		&log.ChatOutput,
		&log.InputTokens,
		&log.OutputTokens,
		&log.TotalTokens,
		&log.Cost,
		&log.Latency,
		&log.TimeToFirstToken,
		&log.InterTokenLatency,
		&log.TokensPerSecond,
		&parameters,
		&createdAtText,
	); err != nil {
		return nil, err
	}

	if timestampText.Valid {
		parsed, err := parseStoredTimestamp(timestampText.String)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", timestampText.String, err)
		}
		log.Timestamp = parsed
	}
	if parameters.Valid {
		log.Parameters = parameters.String
	}
	if createdAtText.Valid {
		parsed, err := parseStoredTimestamp(createdAtText.String)
		if err != nil {
			return nil, fmt.Errorf("parse created_at %q: %w", createdAtText.String, err)
		}
		log.CreatedAt = parsed
	}

	return &log, nil
}

// parseStoredTimestamp handles the handful of datetime renderings sqlite and
// postgres produce for CAST(... AS TEXT).
func parseStoredTimestamp(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, nil
	}

	withTZLayouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05-07:00",
		"2006-01-02 15:04:05.999999999-07",
		"2006-01-02 15:04:05-07",
		"2006-01-02 15:04:05 -0700 MST",
	}
	for _, layout := range withTZLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}

	withoutTZLayouts := []string{
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
	}
	for _, layout := range withoutTZLayouts {
		if parsed, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return parsed.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unsupported datetime format")
}

func normalizeLog(in *Log) *Log {
	row := *in
	now := time.Now().UTC()

	if row.Timestamp.IsZero() {
		row.Timestamp = now
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	if row.Provider == "" {
		row.Provider = "unknown"
	}
	if row.Model == "" {
		row.Model = "unknown"
	}
	if row.TotalTokens == 0 {
		row.TotalTokens = row.InputTokens + row.OutputTokens
	}

	return &row
}

const (
	sqliteBusyMaxRetries     = 10
	sqliteBusyInitialBackoff = 5 * time.Millisecond
	sqliteBusyMaxBackoff     = 250 * time.Millisecond
)

// retrySQLiteBusy retries transient lock contention so queued logs are not
// dropped during concurrent writes.
func retrySQLiteBusy(ctx context.Context, fn func() error) error {
	var err error
	for retries := 0; ; retries++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isSQLiteBusyError(err) || retries >= sqliteBusyMaxRetries {
			return err
		}

		wait := sqliteBusyInitialBackoff << retries
		if wait > sqliteBusyMaxBackoff {
			wait = sqliteBusyMaxBackoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "sqlite_busy") || strings.Contains(value, "database is locked")
}
