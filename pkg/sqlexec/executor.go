package sqlexec

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultRowLimit bounds result rows when a query sets no limit;
// MaxRowLimit caps whatever the query asks for.
const (
	DefaultRowLimit = 100
	MaxRowLimit     = 10_000

	// DefaultTimeoutMS bounds query execution when unset.
	DefaultTimeoutMS = 5_000
	MaxTimeoutMS     = 60_000
)

// Query is one read-only SQL request.
type Query struct {
	// Query is the SQL text. Must be a SELECT, optionally starting
	// with a WITH clause.
	Query string `json:"query"`
	// ParamsJSON is a JSON array of positional parameters.
	ParamsJSON string `json:"params_json,omitempty"`
	// Consistency is advisory ("linearizable" or "stale"); the local
	// executor serves both from the same database.
	Consistency string `json:"consistency,omitempty"`
	// Limit bounds result rows; nil means DefaultRowLimit.
	Limit *uint32 `json:"limit,omitempty"`
	// TimeoutMS bounds execution time; nil means DefaultTimeoutMS.
	TimeoutMS *uint32 `json:"timeout_ms,omitempty"`
}

// Result is the rowset a query produced.
type Result struct {
	Columns     []string `json:"columns"`
	Rows        [][]any  `json:"rows"`
	RowCount    int      `json:"row_count"`
	IsTruncated bool     `json:"is_truncated"`
}

// Executor runs read-only queries.
type Executor interface {
	Query(ctx context.Context, q Query) (*Result, error)
}

// SQLiteExecutor runs queries against a local SQLite database.
type SQLiteExecutor struct {
	db *sql.DB
}

// NewSQLiteExecutor opens the database read-only.
func NewSQLiteExecutor(path string) (*SQLiteExecutor, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	return &SQLiteExecutor{db: db}, nil
}

// NewSQLiteExecutorFromDB wraps an existing handle, for tests.
func NewSQLiteExecutorFromDB(db *sql.DB) *SQLiteExecutor {
	return &SQLiteExecutor{db: db}
}

// Close releases the database handle.
func (e *SQLiteExecutor) Close() error {
	return e.db.Close()
}

// Query implements Executor.
func (e *SQLiteExecutor) Query(ctx context.Context, q Query) (*Result, error) {
	if err := validateReadOnly(q.Query); err != nil {
		return nil, err
	}

	params, err := decodeParams(q.ParamsJSON)
	if err != nil {
		return nil, err
	}

	limit := resolveLimit(q.Limit)
	timeout := resolveTimeout(q.TimeoutMS)

	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := e.db.QueryContext(queryCtx, q.Query, params...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	result := &Result{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		if result.RowCount >= limit {
			result.IsTruncated = true
			break
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
		result.RowCount++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return result, nil
}

func validateReadOnly(query string) error {
	trimmed := strings.ToUpper(strings.TrimSpace(query))
	if trimmed == "" {
		return fmt.Errorf("empty query")
	}
	if !strings.HasPrefix(trimmed, "SELECT") && !strings.HasPrefix(trimmed, "WITH") {
		return fmt.Errorf("only SELECT queries are allowed")
	}
	// Reject multi-statement inputs outright. A semicolon inside a
	// string literal is a false positive we accept.
	if strings.Contains(strings.TrimRight(trimmed, "; \t\n"), ";") {
		return fmt.Errorf("multiple statements are not allowed")
	}
	return nil
}

func decodeParams(paramsJSON string) ([]any, error) {
	if paramsJSON == "" {
		return nil, nil
	}
	var params []any
	if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
		return nil, fmt.Errorf("invalid params_json: %w", err)
	}
	return params, nil
}

func resolveLimit(limit *uint32) int {
	if limit == nil || *limit == 0 {
		return DefaultRowLimit
	}
	if *limit > MaxRowLimit {
		return MaxRowLimit
	}
	return int(*limit)
}

func resolveTimeout(timeoutMS *uint32) time.Duration {
	ms := uint32(DefaultTimeoutMS)
	if timeoutMS != nil && *timeoutMS > 0 {
		ms = *timeoutMS
	}
	if ms > MaxTimeoutMS {
		ms = MaxTimeoutMS
	}
	return time.Duration(ms) * time.Millisecond
}
