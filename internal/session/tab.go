package session

import (
	"errors"
	"fmt"
	"strings"
)

// Kind enumerates the workspace tab types the console can open.
type Kind string

const (
	// KindDashboard is the non-closable home tab every session falls back to.
	KindDashboard Kind = "dashboard"
	// KindSQLEditor is the ad-hoc query editor.
	KindSQLEditor Kind = "sql-editor"
	// KindTableBrowser shows the rows of one table.
	KindTableBrowser Kind = "table-browser"
	// KindQueryResult shows the outcome of one query execution.
	KindQueryResult Kind = "query-result"
	// KindConfiguration is the settings screen.
	KindConfiguration Kind = "configuration"
	// KindUserList is the account/privilege screen.
	KindUserList Kind = "user-list"
	// KindDatabaseObjectList lists the tables and views of one database.
	KindDatabaseObjectList Kind = "database-object-list"
	// KindTableStructure shows the column layout of one table.
	KindTableStructure Kind = "table-structure"
)

// ErrInvalidKind indicates a tab kind outside the closed set.
var ErrInvalidKind = errors.New("session: invalid tab kind")

// ParseKind validates raw input against the closed kind set.
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.TrimSpace(raw)) {
	case KindDashboard, KindSQLEditor, KindTableBrowser, KindQueryResult,
		KindConfiguration, KindUserList, KindDatabaseObjectList, KindTableStructure:
		return Kind(strings.TrimSpace(raw)), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, raw)
	}
}

// Content is the transient, persistable working state of a tab. Only draft
// text survives a reload; fetched result rows are always refetched.
type Content struct {
	EditorText string `json:"editor_text,omitempty"`
	Query      string `json:"query,omitempty"`
}

// ContentPatch carries partial content updates; nil fields are left untouched.
type ContentPatch struct {
	EditorText *string
	Query      *string
}

// Tab is one open workspace unit.
type Tab struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Kind     Kind              `json:"kind"`
	Params   map[string]string `json:"params,omitempty"`
	Closable bool              `json:"closable"`
	Content  Content           `json:"content"`
}

// Spec describes a tab to open; the manager assigns the id.
type Spec struct {
	Title    string
	Kind     Kind
	Params   map[string]string
	Closable bool
	Content  Content
}

// paramsEqual is the structural equality used for tab dedup matching.
func paramsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for key, value := range a {
		other, ok := b[key]
		if !ok || other != value {
			return false
		}
	}
	return true
}

func cloneParams(params map[string]string) map[string]string {
	if params == nil {
		return nil
	}
	copied := make(map[string]string, len(params))
	for key, value := range params {
		copied[key] = value
	}
	return copied
}

func cloneTab(tab Tab) Tab {
	tab.Params = cloneParams(tab.Params)
	return tab
}
