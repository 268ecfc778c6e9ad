package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// QueryResult is the normalized outcome of one statement, shaped for JSON.
// Byte-slice cells are converted to strings so the payload stays readable.
type QueryResult struct {
	Columns        []string `json:"columns"`
	Rows           [][]any  `json:"rows"`
	RowsAffected   int64    `json:"rows_affected"`
	DurationMillis int64    `json:"duration_ms"`
}

// Page bounds and orders a row-browse request.
type Page struct {
	Limit      int
	Offset     int
	OrderBy    string
	Descending bool
}

// RowPage is one page of a table browse plus the table's total row count.
type RowPage struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	TotalRows int64    `json:"total_rows"`
	Limit     int      `json:"limit"`
	Offset    int      `json:"offset"`
}

// ColumnDescriptor describes one column of a table's structure.
type ColumnDescriptor struct {
	Name       string  `json:"name"`
	DataType   string  `json:"data_type"`
	ColumnType string  `json:"column_type"`
	Nullable   bool    `json:"nullable"`
	Key        string  `json:"key,omitempty"`
	Default    *string `json:"default,omitempty"`
	Extra      string  `json:"extra,omitempty"`
}

const (
	defaultBrowseLimit = 100
	maxBrowseLimit     = 1000
)

// Execute runs one ad-hoc statement. Row-returning statements come back with
// columns and rows; everything else reports rows affected.
func (c *Client) Execute(ctx context.Context, statement string) (QueryResult, error) {
	started := time.Now()
	trimmed := strings.TrimSpace(statement)
	if trimmed == "" {
		return QueryResult{}, fmt.Errorf("mysql: empty statement")
	}

	if returnsRows(trimmed) {
		rows, err := c.db.QueryContext(ctx, trimmed)
		if err != nil {
			return QueryResult{}, err
		}
		defer rows.Close()

		columns, normalized, err := collectRows(rows)
		if err != nil {
			return QueryResult{}, err
		}
		return QueryResult{
			Columns:        columns,
			Rows:           normalized,
			DurationMillis: time.Since(started).Milliseconds(),
		}, nil
	}

	result, err := c.db.ExecContext(ctx, trimmed)
	if err != nil {
		return QueryResult{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		affected = 0
	}
	return QueryResult{
		Columns:        []string{},
		Rows:           [][]any{},
		RowsAffected:   affected,
		DurationMillis: time.Since(started).Milliseconds(),
	}, nil
}

// FetchRows browses one table with bounded, ordered pagination.
func (c *Client) FetchRows(ctx context.Context, database, table string, page Page) (RowPage, error) {
	quotedDatabase, err := quoteIdentifier(database)
	if err != nil {
		return RowPage{}, err
	}
	quotedTable, err := quoteIdentifier(table)
	if err != nil {
		return RowPage{}, err
	}

	limit := page.Limit
	if limit <= 0 {
		limit = defaultBrowseLimit
	}
	if limit > maxBrowseLimit {
		limit = maxBrowseLimit
	}
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}

	target := quotedDatabase + "." + quotedTable

	var total int64
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+target).Scan(&total); err != nil {
		return RowPage{}, fmt.Errorf("mysql: count rows: %w", err)
	}

	query := "SELECT * FROM " + target
	if page.OrderBy != "" {
		quotedOrder, err := quoteIdentifier(page.OrderBy)
		if err != nil {
			return RowPage{}, err
		}
		query += " ORDER BY " + quotedOrder
		if page.Descending {
			query += " DESC"
		}
	}
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return RowPage{}, fmt.Errorf("mysql: browse rows: %w", err)
	}
	defer rows.Close()

	columns, normalized, err := collectRows(rows)
	if err != nil {
		return RowPage{}, err
	}
	return RowPage{
		Columns:   columns,
		Rows:      normalized,
		TotalRows: total,
		Limit:     limit,
		Offset:    offset,
	}, nil
}

// DescribeTable returns the column layout of one table.
func (c *Client) DescribeTable(ctx context.Context, database, table string) ([]ColumnDescriptor, error) {
	const query = `
		SELECT COLUMN_NAME, DATA_TYPE, COLUMN_TYPE, IS_NULLABLE,
		       COALESCE(COLUMN_KEY, ''), COLUMN_DEFAULT, COALESCE(EXTRA, '')
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`

	rows, err := c.db.QueryContext(ctx, query, database, table)
	if err != nil {
		return nil, fmt.Errorf("mysql: describe %s.%s: %w", database, table, err)
	}
	defer rows.Close()

	var columns []ColumnDescriptor
	for rows.Next() {
		var descriptor ColumnDescriptor
		var nullable string
		var defaultValue sql.NullString
		if err := rows.Scan(&descriptor.Name, &descriptor.DataType, &descriptor.ColumnType,
			&nullable, &descriptor.Key, &defaultValue, &descriptor.Extra); err != nil {
			return nil, fmt.Errorf("mysql: describe %s.%s: %w", database, table, err)
		}
		descriptor.Nullable = strings.EqualFold(nullable, "YES")
		if defaultValue.Valid {
			value := defaultValue.String
			descriptor.Default = &value
		}
		columns = append(columns, descriptor)
	}
	return columns, rows.Err()
}

// collectRows drains a result set into JSON-friendly values.
func collectRows(rows *sql.Rows) ([]string, [][]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	normalized := [][]any{}
	for rows.Next() {
		cells := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range cells {
			pointers[i] = &cells[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, nil, err
		}
		for i, cell := range cells {
			switch value := cell.(type) {
			case []byte:
				cells[i] = string(value)
			case time.Time:
				cells[i] = value.UTC().Format(time.RFC3339)
			}
		}
		normalized = append(normalized, cells)
	}
	return columns, normalized, rows.Err()
}

// returnsRows reports whether the statement produces a result set.
func returnsRows(statement string) bool {
	first := strings.ToUpper(firstWord(statement))
	switch first {
	case "SELECT", "SHOW", "DESCRIBE", "DESC", "EXPLAIN", "WITH":
		return true
	default:
		return false
	}
}

func firstWord(statement string) string {
	fields := strings.Fields(statement)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
