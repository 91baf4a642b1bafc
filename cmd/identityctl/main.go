// Command identityctl is the operator entrypoint for the identity engine:
// resolving an observation, merging or splitting persons, running the
// strength/circle ranking pass, and applying database migrations. Grounded
// on the cobra root-command-plus-subcommands pattern (each subcommand wires
// its own dependencies and calls a package-level Run), since this spec
// places the HTTP/API surface out of scope and a CLI is the ambient
// entrypoint a complete repo still needs.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/personcrm/identity-engine/pkg/config"
	"github.com/personcrm/identity-engine/pkg/database"
	"github.com/personcrm/identity-engine/pkg/interaction"
	"github.com/personcrm/identity-engine/pkg/linkoverride"
	"github.com/personcrm/identity-engine/pkg/logging"
	"github.com/personcrm/identity-engine/pkg/merge"
	"github.com/personcrm/identity-engine/pkg/nameparser"
	"github.com/personcrm/identity-engine/pkg/nickname"
	"github.com/personcrm/identity-engine/pkg/personstore"
	"github.com/personcrm/identity-engine/pkg/relationship"
	"github.com/personcrm/identity-engine/pkg/resolver"
	"github.com/personcrm/identity-engine/pkg/reviewqueue"
	"github.com/personcrm/identity-engine/pkg/sourceentity"
	"github.com/personcrm/identity-engine/pkg/strength"
)

var (
	version = "dev"

	flagConfigPath string
	flagDatabaseURL string
	flagJSON        bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "identityctl",
		Short: "Operate the personal-CRM identity engine",
		Long: `identityctl resolves observations against the canonical person
graph, merges and splits duplicate records, recomputes relationship
strength and Dunbar circles, and applies database migrations.`,
	}

	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "config/config.yaml", "path to config.yaml")
	rootCmd.PersistentFlags().StringVar(&flagDatabaseURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres connection string")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newResolveCmd(),
		newMergeCmd(),
		newSplitCmd(),
		newRankCmd(),
		newRematchCmd(),
		newMigrateCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("identityctl", version)
		},
	}
}

// handles bundles every store, service, and ambient dependency a subcommand
// needs. Built once per invocation and torn down via the close function
// newHandles returns alongside it.
type handles struct {
	logger  *zap.Logger
	cfg     *config.Registry
	db      *database.DB
	persons *personstore.Store

	sources       sourceentity.Store
	interactions  interaction.Store
	relationships relationship.Store
	overrides     linkoverride.Store
	reviews       reviewqueue.Store

	resolver *resolver.Resolver
	strength *strength.Engine
	merge    *merge.Engine
}

func newLogger() (*zap.Logger, error) {
	return logging.NewLogger(os.Getenv("APP_ENV"))
}

// newHandles wires every dependency identityctl's subcommands share. The
// caller must call the returned close function before exiting.
func newHandles(ctx context.Context) (*handles, func(), error) {
	logger, err := newLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("identityctl: init logger: %w", err)
	}

	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		logger.Sync() //nolint:errcheck
		return nil, nil, fmt.Errorf("identityctl: load config: %w", err)
	}

	if flagDatabaseURL == "" {
		logger.Sync() //nolint:errcheck
		return nil, nil, fmt.Errorf("identityctl: --database-url (or DATABASE_URL) is required")
	}
	db, err := database.NewConnection(ctx, &database.Config{URL: flagDatabaseURL})
	if err != nil {
		logger.Sync() //nolint:errcheck
		return nil, nil, fmt.Errorf("identityctl: connect to database: %w", err)
	}

	snapshotPath := resolveConfigRelativePath(flagConfigPath, cfg.PersonSnapshotPath())
	persons := personstore.New(snapshotPath, logger)
	if err := persons.Load(); err != nil {
		db.Close()
		logger.Sync() //nolint:errcheck
		return nil, nil, fmt.Errorf("identityctl: load person snapshot: %w", err)
	}

	nicknameCSVPath := resolveConfigRelativePath(flagConfigPath, cfg.NicknameCSVPath())
	nicknames, err := nickname.Load(nicknameCSVPath)
	if err != nil {
		logger.Warn("nickname dictionary not loaded, continuing without it",
			zap.String("path", nicknameCSVPath), zap.Error(err))
		nicknames = nickname.New()
	}

	sources := sourceentity.New()
	interactions := interaction.New()
	relationships := relationship.New()
	overrides := linkoverride.New()
	reviews := reviewqueue.New()

	strengthEngine := strength.New(persons, relationships, interactions, cfg, logger)
	resolverEngine := resolver.New(persons, sources, overrides, nameparser.New(), nicknames, cfg, logger)
	mergeEngine := merge.New(db, persons, sources, interactions, relationships, overrides, reviews, strengthEngine, logger)

	h := &handles{
		logger: logger, cfg: cfg, db: db, persons: persons,
		sources: sources, interactions: interactions, relationships: relationships,
		overrides: overrides, reviews: reviews,
		resolver: resolverEngine, strength: strengthEngine, merge: mergeEngine,
	}

	closeFn := func() {
		db.Close()
		_ = logger.Sync()
	}
	return h, closeFn, nil
}

func (h *handles) withConn(ctx context.Context) context.Context {
	return database.WithConn(ctx, h.db.Pool)
}

func selfID(h *handles) *uuid.UUID {
	id, ok := h.cfg.OwnerPersonID()
	if !ok {
		return nil
	}
	return &id
}

// resolveConfigRelativePath joins base paths that are given relative to the
// config file's directory, matching the teacher's convention of resolving
// auxiliary paths (nickname CSV, snapshot file) relative to config.yaml
// rather than the process's working directory.
func resolveConfigRelativePath(configPath, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}
