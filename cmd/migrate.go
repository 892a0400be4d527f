package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratedatabase "github.com/golang-migrate/migrate/v4/database"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
	"github.com/spf13/cobra"
)

const (
	defaultMigrationsTable = "openauth.schema_migrations"
	defaultMigrationsPath  = "pkg/storage/postgres/migrations"
	schemaBootstrapTimeout = 10 * time.Second

	pqUndefinedSchema pq.ErrorCode = "3F000"
)

type migrateConfig struct {
	Driver          string
	DatabaseURL     string
	MigrationsTable string
	MigrationsPath  string
}

func init() {
	rootCmd.AddCommand(newMigrateCommand())
}

func newMigrateCommand() *cobra.Command {
	cfg := migrateConfig{
		Driver:          "postgres",
		MigrationsTable: defaultMigrationsTable,
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the token store schema used for revocation lookups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := migrateCmd.PersistentFlags()
	flags.StringVar(&cfg.Driver, "driver", cfg.Driver, "Token store driver. Supported: postgres.")
	flags.StringVar(&cfg.DatabaseURL, "database-url", "", "Database connection URL. Can also be set via OPENAUTH_MIGRATE_DATABASE_URL or OPENAUTH_DATABASE_URL.")
	flags.StringVar(&cfg.MigrationsTable, "migrations-table", cfg.MigrationsTable, "Migrations version table name. Supports table or schema.table format. Can also be set via OPENAUTH_MIGRATE_MIGRATIONS_TABLE.")
	flags.StringVar(&cfg.MigrationsPath, "migrations-path", "", "Path or source URL for migration files. Defaults to "+defaultMigrationsPath+".")

	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up [steps]",
			Short: "Apply pending token store migrations",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps, hasSteps, err := parseMigrationStepsArg(args)
				if err != nil {
					return err
				}
				return withMigrationRunner(cmd, cfg, func(runner *migrate.Migrate, sourceURL string) error {
					return migrateUp(cmd, runner, sourceURL, steps, hasSteps)
				})
			},
		},
		&cobra.Command{
			Use:   "down <steps>",
			Short: "Roll back token store migrations by step count",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps, _, err := parseMigrationStepsArg(args)
				if err != nil {
					return err
				}
				return withMigrationRunner(cmd, cfg, func(runner *migrate.Migrate, sourceURL string) error {
					return migrateDown(cmd, runner, sourceURL, steps, resolveMigrationsTable(cfg.MigrationsTable))
				})
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Force-set migration version (-1 for nil version)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				version, err := parseForceVersionArg(args[0])
				if err != nil {
					return err
				}
				return withMigrationRunner(cmd, cfg, func(runner *migrate.Migrate, _ string) error {
					if err := runner.Force(version); err != nil {
						return fmt.Errorf("force migration version: %w", err)
					}
					if version == -1 {
						cmd.Println("Forced migration version to -1 (no version).")
						return nil
					}
					cmd.Printf("Forced migration version to %d.\n", version)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied token store schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrationRunner(cmd, cfg, func(runner *migrate.Migrate, _ string) error {
					version, dirty, err := runner.Version()
					if errors.Is(err, migrate.ErrNilVersion) {
						cmd.Println("No migrations applied.")
						return nil
					}
					if err != nil {
						return fmt.Errorf("read migration version: %w", err)
					}
					cmd.Println(formatSchemaVersion(version, dirty))
					return nil
				})
			},
		},
	)

	return migrateCmd
}

func withMigrationRunner(cmd *cobra.Command, cfg migrateConfig, fn func(runner *migrate.Migrate, sourceURL string) error) error {
	runner, sourceURL, err := newMigrationRunner(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeMigrationRunner(runner); closeErr != nil {
			cmd.PrintErrf("warning: failed to close migration runner cleanly: %v\n", closeErr)
		}
	}()

	return fn(runner, sourceURL)
}

func migrateUp(cmd *cobra.Command, runner *migrate.Migrate, sourceURL string, steps int, hasSteps bool) error {
	var err error
	if hasSteps {
		err = runner.Steps(steps)
	} else {
		err = runner.Up()
	}

	switch {
	case err == nil && hasSteps:
		cmd.Printf("Applied %d migration step(s) from %s\n", steps, sourceURL)
	case err == nil:
		cmd.Printf("Applied all pending migrations from %s\n", sourceURL)
	case isNoChangeBoundaryError(err):
		cmd.Println("No schema changes to apply.")
	default:
		var shortLimit migrate.ErrShortLimit
		if !hasSteps || !errors.As(err, &shortLimit) {
			return fmt.Errorf("apply migrations: %w", err)
		}
		cmd.Println(describePartialSteps("Applied", "apply", steps, int(shortLimit.Short), sourceURL))
	}
	return nil
}

func migrateDown(cmd *cobra.Command, runner *migrate.Migrate, sourceURL string, steps int, migrationsTable string) error {
	err := runner.Steps(-steps)

	switch {
	case err == nil:
		cmd.Printf("Rolled back %d migration step(s) from %s\n", steps, sourceURL)
	case isNoChangeBoundaryError(err):
		cmd.Println("No schema changes to rollback.")
	case isDroppedMigrationsTableError(err, migrationsTable):
		cmd.Printf("Rolled back %d migration step(s) from %s\n", steps, sourceURL)
		cmd.Println("Migration tracking table was removed by rollback and will be recreated on the next run.")
	default:
		var shortLimit migrate.ErrShortLimit
		if !errors.As(err, &shortLimit) {
			return fmt.Errorf("rollback migrations: %w", err)
		}
		cmd.Println(describePartialSteps("Rolled back", "rollback", steps, int(shortLimit.Short), sourceURL))
	}
	return nil
}

// describePartialSteps reports a step run that stopped at the first or last
// migration before completing.
func describePartialSteps(done string, verb string, requested int, short int, sourceURL string) string {
	completed := requested - short
	if completed <= 0 {
		return fmt.Sprintf("No schema changes to %s.", verb)
	}
	return fmt.Sprintf(
		"%s %d migration step(s) from %s (requested %d step(s), reached migration boundary)",
		done,
		completed,
		sourceURL,
		requested,
	)
}

func formatSchemaVersion(version uint, dirty bool) string {
	if dirty {
		return fmt.Sprintf("Schema version %d (dirty: fix the failed migration, then run migrate force %d)", version, version)
	}
	return fmt.Sprintf("Schema version %d", version)
}

func resolveDatabaseURL(databaseURLFlag string) (string, error) {
	databaseURL := firstNonEmpty(databaseURLFlag, "OPENAUTH_MIGRATE_DATABASE_URL", "OPENAUTH_DATABASE_URL")
	if databaseURL == "" {
		return "", errors.New("missing database URL: set --database-url or OPENAUTH_MIGRATE_DATABASE_URL")
	}
	return databaseURL, nil
}

func parseMigrationStepsArg(args []string) (int, bool, error) {
	if len(args) == 0 {
		return 0, false, nil
	}

	steps, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil || steps <= 0 {
		return 0, false, fmt.Errorf("invalid migration steps %q: expected a positive integer", args[0])
	}

	return steps, true, nil
}

func parseForceVersionArg(arg string) (int, error) {
	version, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || version < -1 {
		return 0, fmt.Errorf("invalid force version %q: expected an integer >= -1", arg)
	}
	return version, nil
}

func newMigrationRunner(cfg migrateConfig) (*migrate.Migrate, string, error) {
	driver, err := normalizeDriver(cfg.Driver)
	if err != nil {
		return nil, "", err
	}
	databaseURL, err := resolveDatabaseURL(cfg.DatabaseURL)
	if err != nil {
		return nil, "", err
	}

	table, err := parseMigrationsTableSpec(resolveMigrationsTable(cfg.MigrationsTable))
	if err != nil {
		return nil, "", err
	}
	if err := ensureSchemaExists(databaseURL, table.Schema); err != nil {
		return nil, "", err
	}
	databaseURL, err = withMigrationsTable(databaseURL, table)
	if err != nil {
		return nil, "", err
	}

	sourceURL, err := resolveMigrationsSourceURL(driver, cfg.MigrationsPath)
	if err != nil {
		return nil, "", err
	}

	runner, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("create migrate runner: %w", err)
	}
	return runner, sourceURL, nil
}

func normalizeDriver(driver string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(driver))
	if normalized == "" {
		normalized = "postgres"
	}
	if normalized != "postgres" {
		return "", fmt.Errorf("unsupported --driver %q: only postgres is currently supported by CLI runner", normalized)
	}
	return normalized, nil
}

func resolveMigrationsTable(flagValue string) string {
	value := firstNonEmpty(flagValue, "OPENAUTH_MIGRATE_MIGRATIONS_TABLE")
	if value == "" {
		value = defaultMigrationsTable
	}
	return value
}

type migrationsTableSpec struct {
	Schema string
	Table  string
}

// quoted renders the spec the way golang-migrate expects with
// x-migrations-table-quoted.
func (s migrationsTableSpec) quoted() string {
	if s.Schema == "" {
		return pq.QuoteIdentifier(s.Table)
	}
	return pq.QuoteIdentifier(s.Schema) + "." + pq.QuoteIdentifier(s.Table)
}

func withMigrationsTable(databaseURL string, table migrationsTableSpec) (string, error) {
	if table.Table == "" {
		return databaseURL, nil
	}

	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse --database-url: %w", err)
	}

	query := parsed.Query()
	if strings.TrimSpace(query.Get("x-migrations-table")) != "" {
		return databaseURL, nil
	}

	if table.Schema != "" {
		query.Set("x-migrations-table", table.quoted())
		query.Set("x-migrations-table-quoted", "true")
	} else {
		query.Set("x-migrations-table", table.Table)
	}

	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

var quotedIdentifierRegexp = regexp.MustCompile(`"(.*?)"`)

// parseMigrationsTableSpec accepts table, schema.table, or the same with
// double-quoted identifiers, which may themselves contain dots.
func parseMigrationsTableSpec(value string) (migrationsTableSpec, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return migrationsTableSpec{}, nil
	}

	var parts []string
	if strings.Contains(raw, `"`) {
		for _, match := range quotedIdentifierRegexp.FindAllStringSubmatch(raw, -1) {
			parts = append(parts, match[1])
		}
	} else {
		parts = strings.Split(raw, ".")
	}

	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			return migrationsTableSpec{}, fmt.Errorf("invalid migrations table %q", value)
		}
	}

	switch len(parts) {
	case 1:
		return migrationsTableSpec{Table: parts[0]}, nil
	case 2:
		return migrationsTableSpec{Schema: parts[0], Table: parts[1]}, nil
	default:
		return migrationsTableSpec{}, fmt.Errorf("invalid migrations table %q: expected table or schema.table", value)
	}
}

// ensureSchemaExists creates the schema holding the migrations table, which
// golang-migrate will not do itself.
func ensureSchemaExists(databaseURL string, schema string) error {
	if schema == "" {
		return nil
	}

	parsedURL, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("parse --database-url: %w", err)
	}

	db, err := sql.Open("postgres", migrate.FilterCustomQuery(parsedURL).String())
	if err != nil {
		return fmt.Errorf("open database for schema bootstrap: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), schemaBootstrapTimeout)
	defer cancel()

	if _, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(schema)); err != nil {
		return fmt.Errorf("ensure migrations schema %q exists: %w", schema, err)
	}
	return nil
}

func resolveMigrationsSourceURL(driver string, migrationsPath string) (string, error) {
	normalizedDriver, err := normalizeDriver(driver)
	if err != nil {
		return "", err
	}

	pathOrURL := strings.TrimSpace(migrationsPath)
	if pathOrURL == "" {
		pathOrURL = strings.Replace(defaultMigrationsPath, "postgres", normalizedDriver, 1)
	}
	if strings.Contains(pathOrURL, "://") {
		return pathOrURL, nil
	}

	absPath, err := filepath.Abs(pathOrURL)
	if err != nil {
		return "", fmt.Errorf("resolve migrations path %q: %w", pathOrURL, err)
	}
	return "file://" + filepath.ToSlash(absPath), nil
}

func closeMigrationRunner(runner *migrate.Migrate) error {
	if runner == nil {
		return nil
	}

	sourceErr, databaseErr := runner.Close()
	return errors.Join(sourceErr, databaseErr)
}

func isNoChangeBoundaryError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return true
	}

	// Steps reports the first or last migration as a bare os.ErrNotExist.
	return err == os.ErrNotExist
}

// isDroppedMigrationsTableError recognizes a rollback of the migration that
// created the openauth schema: golang-migrate then fails to truncate its own
// version table.
func isDroppedMigrationsTableError(err error, migrationsTable string) bool {
	var dbErr *migratedatabase.Error
	if !errors.As(err, &dbErr) || dbErr == nil {
		return false
	}

	query := strings.TrimSpace(string(dbErr.Query))
	if !strings.HasPrefix(strings.ToUpper(query), "TRUNCATE ") {
		return false
	}

	table, parseErr := parseMigrationsTableSpec(migrationsTable)
	if parseErr != nil || table.Table == "" || !strings.Contains(query, table.quoted()) {
		return false
	}

	var pqErr *pq.Error
	if errors.As(dbErr.OrigErr, &pqErr) {
		return pqErr.Code == pqUndefinedSchema
	}

	message := strings.ToLower(dbErr.Error())
	return strings.Contains(message, "schema") && strings.Contains(message, "does not exist")
}
