package metadata

import "context"

// TableDescriptor summarizes one table or view for sidebar display.
type TableDescriptor struct {
	Name        string `json:"name"`
	RowEstimate int64  `json:"row_estimate"`
	DataSize    int64  `json:"data_size"`
	Engine      string `json:"engine,omitempty"`
	Collation   string `json:"collation,omitempty"`
}

// DatabaseEntry is one database's cached summary.
type DatabaseEntry struct {
	Name       string            `json:"name"`
	Tables     []TableDescriptor `json:"tables"`
	Views      []TableDescriptor `json:"views"`
	TableCount int               `json:"table_count"`
	ViewCount  int               `json:"view_count"`
}

// Listing is the per-database result returned by the backend.
type Listing struct {
	Tables      []TableDescriptor
	Views       []TableDescriptor
	TotalTables int
	TotalViews  int
}

// Backend is the server-introspection port the cache refreshes from.
type Backend interface {
	ListDatabases(ctx context.Context) ([]string, error)
	ListTablesAndViews(ctx context.Context, database string) (Listing, error)
}

// cacheSnapshot is the persisted form of the cache: the full entry list plus
// the fetch timestamp that bounds its freshness.
type cacheSnapshot struct {
	FetchedAtSeconds int64           `json:"fetched_at_s"`
	Databases        []DatabaseEntry `json:"databases"`
}
