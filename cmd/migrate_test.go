package cmd

import (
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMigrationsTableSpec(t *testing.T) {
	cases := []struct {
		input string
		want  migrationsTableSpec
	}{
		{input: "schema_migrations", want: migrationsTableSpec{Table: "schema_migrations"}},
		{input: "openauth.schema_migrations", want: migrationsTableSpec{Schema: "openauth", Table: "schema_migrations"}},
		{input: `"open.auth"."schema_migrations"`, want: migrationsTableSpec{Schema: "open.auth", Table: "schema_migrations"}},
		{input: "", want: migrationsTableSpec{}},
	}
	for _, tc := range cases {
		got, err := parseMigrationsTableSpec(tc.input)
		require.NoError(t, err, tc.input)
		assert.Equal(t, tc.want, got, tc.input)
	}

	for _, input := range []string{"a.b.c", ".table", `""`} {
		_, err := parseMigrationsTableSpec(input)
		assert.Error(t, err, input)
	}
}

func TestWithMigrationsTable(t *testing.T) {
	table, err := parseMigrationsTableSpec(defaultMigrationsTable)
	require.NoError(t, err)
	databaseURL, err := withMigrationsTable("postgres://localhost/openauth?sslmode=disable", table)
	require.NoError(t, err)

	parsed, err := url.Parse(databaseURL)
	require.NoError(t, err)
	assert.Equal(t, `"openauth"."schema_migrations"`, parsed.Query().Get("x-migrations-table"))
	assert.Equal(t, "true", parsed.Query().Get("x-migrations-table-quoted"))
	assert.Equal(t, "disable", parsed.Query().Get("sslmode"))

	unchanged, err := withMigrationsTable("postgres://localhost/openauth?x-migrations-table=custom", table)
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/openauth?x-migrations-table=custom", unchanged)

	plain, err := withMigrationsTable("postgres://localhost/openauth", migrationsTableSpec{Table: "versions"})
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/openauth?x-migrations-table=versions", plain)
}

func TestMigrationArgs(t *testing.T) {
	steps, ok, err := parseMigrationStepsArg([]string{"2"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, steps)

	_, ok, err = parseMigrationStepsArg(nil)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = parseMigrationStepsArg([]string{"0"})
	assert.Error(t, err)

	version, err := parseForceVersionArg("-1")
	require.NoError(t, err)
	assert.Equal(t, -1, version)

	_, err = parseForceVersionArg("-2")
	assert.Error(t, err)
}

func TestResolveMigrationsSourceURL(t *testing.T) {
	sourceURL, err := resolveMigrationsSourceURL("", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sourceURL, "file://"))
	assert.True(t, strings.HasSuffix(sourceURL, filepath.ToSlash(defaultMigrationsPath)))

	sourceURL, err = resolveMigrationsSourceURL("postgres", "github://porthorian/openauth/migrations")
	require.NoError(t, err)
	assert.Equal(t, "github://porthorian/openauth/migrations", sourceURL)

	_, err = resolveMigrationsSourceURL("mysql", "")
	assert.Error(t, err)
}

func TestResolveDatabaseURL(t *testing.T) {
	t.Setenv("OPENAUTH_MIGRATE_DATABASE_URL", "")
	t.Setenv("OPENAUTH_DATABASE_URL", "postgres://env/openauth")

	databaseURL, err := resolveDatabaseURL("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/openauth", databaseURL)

	databaseURL, err = resolveDatabaseURL("postgres://flag/openauth")
	require.NoError(t, err)
	assert.Equal(t, "postgres://flag/openauth", databaseURL)

	t.Setenv("OPENAUTH_DATABASE_URL", "")
	_, err = resolveDatabaseURL("")
	assert.Error(t, err)
}

func TestFormatSchemaVersion(t *testing.T) {
	assert.Equal(t, "Schema version 1", formatSchemaVersion(1, false))
	assert.Contains(t, formatSchemaVersion(3, true), "migrate force 3")
}

func TestDescribePartialSteps(t *testing.T) {
	assert.Equal(t, "No schema changes to apply.", describePartialSteps("Applied", "apply", 2, 2, "file:///m"))
	assert.Equal(t,
		"Rolled back 1 migration step(s) from file:///m (requested 3 step(s), reached migration boundary)",
		describePartialSteps("Rolled back", "rollback", 3, 2, "file:///m"),
	)
}
