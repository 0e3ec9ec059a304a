package convert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/content-migrator/internal/config"
	engine "github.com/chirino/content-migrator/internal/convert"
	"github.com/chirino/content-migrator/internal/model"
	"github.com/chirino/content-migrator/internal/monitoring"
	storemetrics "github.com/chirino/content-migrator/internal/plugin/store/metrics"
	registrycache "github.com/chirino/content-migrator/internal/registry/cache"
	registrymigrate "github.com/chirino/content-migrator/internal/registry/migrate"
	registrystore "github.com/chirino/content-migrator/internal/registry/store"
	"github.com/chirino/content-migrator/internal/scope"
	"github.com/chirino/content-migrator/internal/service"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/chirino/content-migrator/internal/plugin/cache/infinispan"
	_ "github.com/chirino/content-migrator/internal/plugin/cache/noop"
	_ "github.com/chirino/content-migrator/internal/plugin/cache/redis"
	_ "github.com/chirino/content-migrator/internal/plugin/store/mongo"
	_ "github.com/chirino/content-migrator/internal/plugin/store/postgres"
	_ "github.com/chirino/content-migrator/internal/plugin/store/sqlite"
)

// Command returns the convert sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var maxContentSize string
	var accessLog bool
	return &cli.Command{
		Name:  "convert",
		Usage: "Convert legacy attachments and notes into content documents",
		Flags: flags(&cfg, &maxContentSize, &accessLog),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if maxContentSize != "" {
				size, err := config.ParseSize(maxContentSize)
				if err != nil {
					return fmt.Errorf("invalid --max-content-size: %w", err)
				}
				cfg.MaxContentSize = size
			}
			cfg.Kinds = cmd.StringSlice("kind")
			cfg.ScopeParentIDsSet = cmd.IsSet("scope-parent-ids")
			if err := applyLogLevel(cfg.LogLevel); err != nil {
				return err
			}
			return run(config.WithContext(ctx, &cfg), cfg, accessLog, cmd.Root().Writer)
		},
	}
}

func flags(cfg *config.Config, maxContentSize *string, accessLog *bool) []cli.Flag {
	return []cli.Flag{

		// ── Database ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Record store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Database connection URL",
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "mongo-database",
			Category:    "Database:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_MONGO_DATABASE"),
			Destination: &cfg.MongoDatabase,
			Value:       cfg.MongoDatabase,
			Usage:       "Database name used by the mongo store",
		},
		&cli.BoolFlag{
			Name:        "db-migrate-at-start",
			Category:    "Database:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_DB_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Create the store schema before converting",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},
		&cli.StringFlag{
			Name:        "run-as-user",
			Category:    "Database:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_RUN_AS_USER"),
			Destination: &cfg.RunAsUser,
			Value:       cfg.RunAsUser,
			Usage:       "Principal the store records as creator of converted content",
		},
		&cli.StringFlag{
			Name:        "max-content-size",
			Category:    "Database:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_MAX_CONTENT_SIZE"),
			Destination: maxContentSize,
			Usage:       "Largest content body accepted per version (e.g. 10MiB, 512KB)",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Provenance cache backend (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL",
		},
		&cli.StringFlag{
			Name:        "infinispan-host",
			Category:    "Cache:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_INFINISPAN_HOST"),
			Destination: &cfg.InfinispanHost,
			Usage:       "Infinispan RESP endpoint (host:port)",
		},
		&cli.StringFlag{
			Name:        "infinispan-username",
			Category:    "Cache:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_INFINISPAN_USERNAME"),
			Destination: &cfg.InfinispanUsername,
			Usage:       "Infinispan username",
		},
		&cli.StringFlag{
			Name:        "infinispan-password",
			Category:    "Cache:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_INFINISPAN_PASSWORD"),
			Destination: &cfg.InfinispanPassword,
			Usage:       "Infinispan password",
		},
		&cli.DurationFlag{
			Name:        "infinispan-startup-timeout",
			Category:    "Cache:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_INFINISPAN_STARTUP_TIMEOUT"),
			Destination: &cfg.InfinispanStartupTimeout,
			Value:       cfg.InfinispanStartupTimeout,
			Usage:       "How long to wait for the Infinispan RESP endpoint",
		},
		&cli.DurationFlag{
			Name:        "cache-ttl",
			Category:    "Cache:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_CACHE_TTL"),
			Destination: &cfg.CacheTTL,
			Value:       cfg.CacheTTL,
			Usage:       "How long converted source ids are remembered",
		},

		// ── Conversion ────────────────────────────────────────────
		&cli.StringSliceFlag{
			Name:     "kind",
			Category: "Conversion:",
			Sources:  cli.EnvVars("CONTENT_MIGRATOR_KINDS"),
			Value:    cfg.Kinds,
			Usage:    "Record families to convert (" + config.KindFiles + "|" + config.KindNotes + ")",
		},
		&cli.IntFlag{
			Name:        "page-size",
			Category:    "Conversion:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_PAGE_SIZE"),
			Destination: &cfg.PageSize,
			Value:       cfg.PageSize,
			Usage:       "Source records per page",
		},
		&cli.IntFlag{
			Name:        "page-concurrency",
			Category:    "Conversion:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_PAGE_CONCURRENCY"),
			Destination: &cfg.PageConcurrency,
			Value:       cfg.PageConcurrency,
			Usage:       "Pages converted in parallel",
		},
		&cli.BoolFlag{
			Name:        "delete-upon-conversion",
			Category:    "Conversion:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_DELETE_UPON_CONVERSION"),
			Destination: &cfg.DeleteUponConversion,
			Usage:       "Delete each source record once its conversion committed",
		},
		&cli.BoolFlag{
			Name:        "share-private-with-parent",
			Category:    "Conversion:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_SHARE_PRIVATE_WITH_PARENT"),
			Destination: &cfg.SharePrivateWithParent,
			Usage:       "Link documents converted from private records to their parent",
		},
		&cli.BoolFlag{
			Name:        "skip-converted",
			Category:    "Conversion:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_SKIP_CONVERTED"),
			Destination: &cfg.SkipConverted,
			Usage:       "Skip source records that already have a converted version",
		},
		&cli.BoolFlag{
			Name:        "dry-run",
			Category:    "Conversion:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_DRY_RUN"),
			Destination: &cfg.DryRun,
			Usage:       "Count eligible records without converting them",
		},
		&cli.StringFlag{
			Name:        "scope-parent-ids",
			Category:    "Conversion:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_SCOPE_PARENT_IDS"),
			Destination: &cfg.ScopeParentIDs,
			Usage:       "Comma-separated parent ids to restrict the conversion to",
		},
		&cli.BoolFlag{
			Name:        "scope-none",
			Category:    "Conversion:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_SCOPE_NONE"),
			Destination: &cfg.ScopeNone,
			Usage:       "Restrict the conversion to an empty parent list, so nothing is converted",
		},
		&cli.StringFlag{
			Name:        "link-access-level",
			Category:    "Conversion:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_LINK_ACCESS_LEVEL"),
			Destination: &cfg.LinkAccessLevel,
			Value:       cfg.LinkAccessLevel,
			Usage:       "Access granted to the parent through a link (reader|writer|manager)",
		},
		&cli.StringFlag{
			Name:        "link-visibility",
			Category:    "Conversion:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_LINK_VISIBILITY"),
			Destination: &cfg.LinkVisibility,
			Value:       cfg.LinkVisibility,
			Usage:       "Visibility of created links (all-users|internal-users)",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       cfg.MetricsLabels,
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
		&cli.StringFlag{
			Name:        "metrics-push-url",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_METRICS_PUSH_URL"),
			Destination: &cfg.MetricsPushURL,
			Usage:       "Prometheus Pushgateway URL to push metrics to when the run ends",
		},
		&cli.IntFlag{
			Name:        "management-port",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_MANAGEMENT_PORT"),
			Destination: &cfg.ManagementPort,
			Usage:       "Serve /health, /status and /metrics on this port while converting (0 = disabled)",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_MANAGEMENT_ACCESS_LOG"),
			Destination: accessLog,
			Usage:       "Enable HTTP access logging for management endpoints",
		},
		&cli.StringFlag{
			Name:        "summary-format",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_SUMMARY_FORMAT"),
			Destination: &cfg.SummaryFormat,
			Value:       cfg.SummaryFormat,
			Usage:       "How the end-of-run summary is printed (text|json)",
		},
		&cli.StringFlag{
			Name:        "log-level",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("CONTENT_MIGRATOR_LOG_LEVEL"),
			Destination: &cfg.LogLevel,
			Value:       cfg.LogLevel,
			Usage:       "Log level (debug|info|warn|error)",
		},
	}
}

func applyLogLevel(level string) error {
	if level == "" {
		return nil
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	log.SetLevel(parsed)
	return nil
}

// BuildRequest turns configuration into a run request. Scope errors are
// reported here, before anything touches the store.
func BuildRequest(cfg config.Config) (service.RunRequest, error) {
	filter, err := scope.ParseParentFilter(cfg.ScopeParentIDs, cfg.ScopeParentIDsSet)
	if err != nil {
		return service.RunRequest{}, err
	}
	if cfg.ScopeNone {
		if len(filter.IDs()) > 0 {
			return service.RunRequest{}, &scope.SelectionError{Value: cfg.ScopeParentIDs, Err: errors.New("--scope-none cannot be combined with parent ids")}
		}
		filter = scope.Restrict()
	}
	kinds, err := sourceKinds(cfg.Kinds)
	if err != nil {
		return service.RunRequest{}, err
	}
	opts := engine.DefaultOptions()
	opts.DeleteUponConversion = cfg.DeleteUponConversion
	opts.SharePrivateWithParent = cfg.SharePrivateWithParent
	opts.SkipConverted = cfg.SkipConverted
	opts.LinkAccessLevel = model.AccessLevel(cfg.LinkAccessLevel)
	opts.LinkVisibility = model.Visibility(cfg.LinkVisibility)
	if err := opts.Validate(); err != nil {
		return service.RunRequest{}, err
	}
	if cfg.PageSize <= 0 {
		return service.RunRequest{}, fmt.Errorf("--page-size must be positive, got %d", cfg.PageSize)
	}
	return service.RunRequest{
		Kinds:       kinds,
		Filter:      filter,
		PageSize:    cfg.PageSize,
		Concurrency: cfg.PageConcurrency,
		Options:     opts,
		DryRun:      cfg.DryRun,
	}, nil
}

func sourceKinds(raw []string) ([]model.SourceKind, error) {
	var kinds []model.SourceKind
	for _, entry := range raw {
		for _, k := range strings.Split(entry, ",") {
			switch strings.ToLower(strings.TrimSpace(k)) {
			case "":
			case config.KindFiles, string(model.SourceKindFile):
				kinds = append(kinds, model.SourceKindFile)
			case config.KindNotes, string(model.SourceKindNote):
				kinds = append(kinds, model.SourceKindNote)
			default:
				return nil, &scope.SelectionError{Value: k, Err: fmt.Errorf("unknown kind; valid: %s, %s", config.KindFiles, config.KindNotes)}
			}
		}
	}
	if len(kinds) == 0 {
		return nil, &scope.SelectionError{Value: strings.Join(raw, ","), Err: fmt.Errorf("no kinds selected")}
	}
	return kinds, nil
}

func run(ctx context.Context, cfg config.Config, accessLog bool, out io.Writer) error {
	log.Info("Starting content migrator",
		"db", cfg.DatastoreType,
		"cache", cfg.CacheType,
		"kinds", cfg.Kinds,
		"pageSize", cfg.PageSize,
		"concurrency", cfg.PageConcurrency,
		"dryRun", cfg.DryRun,
	)

	req, err := BuildRequest(cfg)
	if err != nil {
		return err
	}
	if cfg.SummaryFormat != "text" && cfg.SummaryFormat != "json" {
		return fmt.Errorf("invalid --summary-format %q: expected text or json", cfg.SummaryFormat)
	}

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := monitoring.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	monitoring.InitMetrics(metricsLabels)

	var current atomic.Pointer[service.RunSummary]
	if cfg.ManagementPort > 0 {
		_, closeManagement, err := startManagementServer(cfg.ManagementPort, managementRouter(accessLog, current.Load))
		if err != nil {
			return fmt.Errorf("failed to start management server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = closeManagement(shutdownCtx)
		}()
	}

	// Run migrations
	if err := registrymigrate.RunAll(ctx); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	// Initialize cache; conversion works without one.
	var cache registrycache.ProvenanceCache
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if cache, err = cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
		cache = nil
	}

	// Initialize store
	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("Failed to close store", "err", err)
		}
	}()

	runner := service.NewRunner(store, cache)
	summary, runErr := runner.RunWithProgress(ctx, req, current.Store)
	if summary != nil {
		if err := printSummary(out, cfg.SummaryFormat, summary); err != nil {
			log.Warn("Failed to print summary", "err", err)
		}
	}

	if err := monitoring.Push(cfg.MetricsPushURL, "content-migrator"); err != nil {
		log.Warn("Failed to push metrics", "err", err)
	}
	if runErr != nil {
		return fmt.Errorf("conversion finished with errors: %w", runErr)
	}
	log.Info("Conversion complete")
	return nil
}

func printSummary(out io.Writer, format string, summary *service.RunSummary) error {
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"dryRun": summary.DryRun, "kinds": summary.Kinds()})
	}
	for _, k := range summary.Kinds() {
		if _, err := fmt.Fprintf(out, "%s: pages=%d selected=%d converted=%d linked=%d deleted=%d skipped=%d failed=%d failedPages=%d\n",
			k.Kind, k.Pages, k.Selected, k.Converted, k.Linked, k.Deleted, k.Skipped, k.Failed, k.FailedPages); err != nil {
			return err
		}
	}
	return nil
}
