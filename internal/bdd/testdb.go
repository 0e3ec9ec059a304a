package bdd

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/content-migrator/internal/plugin/store/storetest"
	"github.com/google/uuid"
)

// TestDB abstracts the backing database a feature run converts against, so
// the same features run on every SQL backend.
type TestDB interface {
	storetest.Fixture
	// Kind is the --db-kind the converter is started with.
	Kind() string
	// URL is the --db-url the converter is started with.
	URL() string
	// ClearAll wipes all data (called before each scenario).
	ClearAll(ctx context.Context) error
	// ExecSQL runs a raw SQL query and returns rows as maps.
	ExecSQL(ctx context.Context, query string) ([]map[string]interface{}, error)
}

// contentTables lists every table, children first.
var contentTables = []string{
	"content_document_links",
	"content_notes",
	"content_versions",
	"content_documents",
	"legacy_attachments",
	"legacy_notes",
	"users",
}

// normalizeValue turns driver values into JSON friendly ones.
func normalizeValue(v interface{}) interface{} {
	switch v := v.(type) {
	case []byte:
		return string(v)
	case [16]byte:
		return uuid.UUID(v).String()
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	case nil, string, bool, float64:
		return v
	default:
		return fmt.Sprint(v)
	}
}
