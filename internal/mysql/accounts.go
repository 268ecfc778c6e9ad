package mysql

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Account is one server principal from the privilege tables.
type Account struct {
	Username string `json:"username"`
	Host     string `json:"host"`
	Locked   bool   `json:"locked"`
}

// ErrInvalidAccountPart indicates a username/host the console refuses to
// interpolate into an account statement.
var ErrInvalidAccountPart = errors.New("mysql: invalid account component")

// ListAccounts returns the server's accounts, requiring read access to
// mysql.user (typically an administrative login).
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	const query = `
		SELECT User, Host, COALESCE(account_locked, 'N')
		FROM mysql.user
		ORDER BY User, Host`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("mysql: list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var account Account
		var locked string
		if err := rows.Scan(&account.Username, &account.Host, &locked); err != nil {
			return nil, fmt.Errorf("mysql: list accounts: %w", err)
		}
		account.Locked = strings.EqualFold(locked, "Y")
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// AccountGrants returns the grant statements applying to one account.
func (c *Client) AccountGrants(ctx context.Context, username, host string) ([]string, error) {
	principal, err := quoteAccount(username, host)
	if err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, "SHOW GRANTS FOR "+principal)
	if err != nil {
		return nil, fmt.Errorf("mysql: show grants: %w", err)
	}
	defer rows.Close()

	var grants []string
	for rows.Next() {
		var grant string
		if err := rows.Scan(&grant); err != nil {
			return nil, fmt.Errorf("mysql: show grants: %w", err)
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}

// CreateAccount creates a new server principal.
func (c *Client) CreateAccount(ctx context.Context, username, host, password string) error {
	principal, err := quoteAccount(username, host)
	if err != nil {
		return err
	}
	statement := "CREATE USER " + principal + " IDENTIFIED BY " + quoteString(password)
	_, err = c.db.ExecContext(ctx, statement)
	return err
}

// DropAccount removes a server principal.
func (c *Client) DropAccount(ctx context.Context, username, host string) error {
	principal, err := quoteAccount(username, host)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, "DROP USER "+principal)
	return err
}

// quoteAccount renders 'user'@'host' for statements that cannot take
// placeholders for principals.
func quoteAccount(username, host string) (string, error) {
	user := strings.TrimSpace(username)
	if user == "" || len(user) > 32 || strings.ContainsRune(user, 0) {
		return "", fmt.Errorf("%w: username %q", ErrInvalidAccountPart, username)
	}
	hostPart := strings.TrimSpace(host)
	if hostPart == "" {
		hostPart = "%"
	}
	if len(hostPart) > 255 || strings.ContainsRune(hostPart, 0) {
		return "", fmt.Errorf("%w: host %q", ErrInvalidAccountPart, host)
	}
	return quoteString(user) + "@" + quoteString(hostPart), nil
}

func quoteString(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `'`, `\'`)
	return "'" + escaped + "'"
}
