package config

import (
	"context"
	"time"
)

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	KindFiles = "files"
	KindNotes = "notes"
)

// Config holds all configuration for the content migrator.
type Config struct {
	// Database
	DBURL string

	// Datastore backend type
	DatastoreType string // "postgres", "sqlite" or "mongo"

	// Run datastore migrations before converting.
	DatastoreMigrateAtStart bool

	// MongoDatabase is the database name used by the mongo store.
	MongoDatabase string

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Cache backend type
	CacheType string // "redis", "infinispan" or "none"

	// Redis
	RedisURL string

	// Infinispan RESP endpoint
	InfinispanHost           string
	InfinispanUsername       string
	InfinispanPassword       string
	InfinispanStartupTimeout time.Duration

	// How long remembered source ids stay in the provenance cache.
	CacheTTL time.Duration

	// RunAsUser is the principal the store stamps as owner on newly created
	// content until the converter re-applies the source owner.
	RunAsUser string

	// MaxContentSize is the largest content body the store accepts for a version.
	MaxContentSize int64

	// Kinds lists which legacy record families to convert ("files", "notes").
	Kinds []string

	// Paging
	PageSize        int
	PageConcurrency int

	// Conversion behavior.
	DeleteUponConversion   bool
	SharePrivateWithParent bool
	SkipConverted          bool
	DryRun                 bool

	// ScopeParentIDs is a comma-separated list of parent ids. It only restricts
	// the scope when ScopeParentIDsSet is true; an empty list then converts nothing.
	ScopeParentIDs    string
	ScopeParentIDsSet bool

	// ScopeNone restricts the scope to an empty parent list.
	ScopeNone bool

	// Link defaults
	LinkAccessLevel string
	LinkVisibility  string

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// MetricsPushURL is an optional Prometheus Pushgateway URL. Metrics are
	// pushed once when the run finishes.
	MetricsPushURL string

	// SummaryFormat selects how the end-of-run summary is printed ("text" or "json").
	SummaryFormat string

	// ManagementPort serves /health and /metrics during the run when > 0.
	ManagementPort int

	LogLevel string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DatastoreType:            "postgres",
		DatastoreMigrateAtStart:  true,
		MongoDatabase:            "content_migrator",
		DBMaxOpenConns:           25,
		DBMaxIdleConns:           5,
		CacheType:                "none",
		CacheTTL:                 24 * time.Hour,
		InfinispanStartupTimeout: 30 * time.Second,
		RunAsUser:                "content-migrator",
		MaxContentSize:           10 * 1024 * 1024, // 10 MiB
		Kinds:                    []string{KindFiles, KindNotes},
		PageSize:                 200,
		PageConcurrency:          1,
		LinkAccessLevel:          "reader",
		LinkVisibility:           "all-users",
		MetricsLabels:            "service=content-migrator",
		SummaryFormat:            "text",
		LogLevel:                 "info",
	}
}
