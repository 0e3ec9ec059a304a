package migrate

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/content-migrator/internal/config"
	registrymigrate "github.com/chirino/content-migrator/internal/registry/migrate"
	registrystore "github.com/chirino/content-migrator/internal/registry/store"
	"github.com/urfave/cli/v3"

	// Import plugins to trigger init() registration of their migrators.
	// Store plugins register their own migrators alongside their primary interface.
	_ "github.com/chirino/content-migrator/internal/plugin/store/mongo"
	_ "github.com/chirino/content-migrator/internal/plugin/store/postgres"
	_ "github.com/chirino/content-migrator/internal/plugin/store/sqlite"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the record store schema",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "db-url",
				Sources:  cli.EnvVars("CONTENT_MIGRATOR_DB_URL"),
				Usage:    "Database connection URL",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "db-kind",
				Sources: cli.EnvVars("CONTENT_MIGRATOR_DB_KIND"),
				Usage:   "Record store (" + strings.Join(registrystore.Names(), "|") + ")",
				Value:   "postgres",
			},
			&cli.StringFlag{
				Name:    "mongo-database",
				Sources: cli.EnvVars("CONTENT_MIGRATOR_MONGO_DATABASE"),
				Usage:   "Database name used by the mongo store",
				Value:   config.DefaultConfig().MongoDatabase,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.DBURL = cmd.String("db-url")
			cfg.DatastoreType = cmd.String("db-kind")
			cfg.MongoDatabase = cmd.String("mongo-database")
			cfg.DatastoreMigrateAtStart = true
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...", "migrators", registrymigrate.Names())
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
