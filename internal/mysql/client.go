// Package mysql is the console's client for the managed MySQL-compatible
// server. Each authenticated identity gets its own Client opened with that
// user's credentials, so the server's privilege system stays authoritative.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	driver "github.com/go-sql-driver/mysql"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/metadata"
	"go.uber.org/zap"
)

const (
	defaultPort         = 3306
	defaultDialTimeout  = 5 * time.Second
	defaultMaxOpenConns = 4
)

var (
	// ErrMissingHost indicates the server address was not configured.
	ErrMissingHost = errors.New("mysql: host is required")
	// ErrMissingUsername indicates an empty login was supplied.
	ErrMissingUsername = errors.New("mysql: username is required")
	noOpLogger         = zap.NewNop()
)

// Config describes one identity's connection to the server.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Logger   *zap.Logger
}

// Client wraps a per-identity connection pool.
type Client struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open builds the connection pool for the given credentials. The server is
// not contacted until the first call; use Ping to verify the credentials.
func Open(cfg Config) (*Client, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, ErrMissingHost
	}
	if strings.TrimSpace(cfg.Username) == "" {
		return nil, ErrMissingUsername
	}
	port := cfg.Port
	if port <= 0 {
		port = defaultPort
	}

	dsn := driver.NewConfig()
	dsn.User = cfg.Username
	dsn.Passwd = cfg.Password
	dsn.Net = "tcp"
	dsn.Addr = fmt.Sprintf("%s:%d", host, port)
	dsn.Timeout = defaultDialTimeout
	dsn.ParseTime = true
	dsn.MultiStatements = false

	connector, err := driver.NewConnector(dsn)
	if err != nil {
		return nil, err
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetConnMaxIdleTime(time.Minute)

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Client{db: db, logger: logger}, nil
}

// Ping verifies the connection, and with it the supplied credentials.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// ListDatabases returns the database names visible to this identity.
func (c *Client) ListDatabases(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, fmt.Errorf("mysql: list databases: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("mysql: list databases: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ListTablesAndViews returns the table and view summaries for one database.
func (c *Client) ListTablesAndViews(ctx context.Context, database string) (metadata.Listing, error) {
	const query = `
		SELECT TABLE_NAME, TABLE_TYPE,
		       COALESCE(ENGINE, ''), COALESCE(TABLE_COLLATION, ''),
		       COALESCE(TABLE_ROWS, 0), COALESCE(DATA_LENGTH, 0) + COALESCE(INDEX_LENGTH, 0)
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME`

	rows, err := c.db.QueryContext(ctx, query, database)
	if err != nil {
		return metadata.Listing{}, fmt.Errorf("mysql: list tables for %s: %w", database, err)
	}
	defer rows.Close()

	listing := metadata.Listing{
		Tables: []metadata.TableDescriptor{},
		Views:  []metadata.TableDescriptor{},
	}
	for rows.Next() {
		var descriptor metadata.TableDescriptor
		var tableType string
		if err := rows.Scan(&descriptor.Name, &tableType, &descriptor.Engine,
			&descriptor.Collation, &descriptor.RowEstimate, &descriptor.DataSize); err != nil {
			return metadata.Listing{}, fmt.Errorf("mysql: list tables for %s: %w", database, err)
		}
		if strings.EqualFold(tableType, "VIEW") {
			listing.Views = append(listing.Views, descriptor)
		} else {
			listing.Tables = append(listing.Tables, descriptor)
		}
	}
	if err := rows.Err(); err != nil {
		return metadata.Listing{}, err
	}

	listing.TotalTables = len(listing.Tables)
	listing.TotalViews = len(listing.Views)
	return listing, nil
}

// CreateDatabase creates a schema. Callers pair it with a forced metadata
// refresh so the cache sees the new database.
func (c *Client) CreateDatabase(ctx context.Context, name string) error {
	quoted, err := quoteIdentifier(name)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, "CREATE DATABASE "+quoted)
	return err
}

// DropDatabase drops a schema.
func (c *Client) DropDatabase(ctx context.Context, name string) error {
	quoted, err := quoteIdentifier(name)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, "DROP DATABASE "+quoted)
	return err
}

// ErrInvalidIdentifier indicates a database/table identifier the console
// refuses to interpolate.
var ErrInvalidIdentifier = errors.New("mysql: invalid identifier")

// quoteIdentifier backtick-quotes an identifier for interpolation into DDL
// and browse statements, which cannot take placeholders for object names.
func quoteIdentifier(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || len(trimmed) > 64 || strings.ContainsRune(trimmed, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return "`" + strings.ReplaceAll(trimmed, "`", "``") + "`", nil
}
