package migrate_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdmvenezuela/mdm-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	require.NoError(t, err)
	require.NotEmpty(t, matches, "no %s migration found", suffix)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	return string(data)
}

func TestMigrationDirIsValid(t *testing.T) {
	require.NoError(t, migrate.ValidateDir("migrations"))
}

func TestEmbeddedMigrationsMatchDisk(t *testing.T) {
	require.NoError(t, migrate.Validate(migrate.Embedded()))

	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	require.NoError(t, err)
	embedded, err := fs.Glob(migrate.Embedded(), "*.sql")
	require.NoError(t, err)
	require.Len(t, embedded, len(onDisk))
	for _, name := range embedded {
		assert.FileExists(t, filepath.Join("migrations", name))
	}
}

func TestLicenseMigrationEncodesImeiInvariant(t *testing.T) {
	content := readMigration(t, "create_licenses_and_devices")

	for _, sub := range []string{
		"CREATE TABLE IF NOT EXISTS licenses",
		"license_key text NOT NULL UNIQUE",
		"CONSTRAINT licenses_imei_matches_status CHECK",
		"(status = 'AVAILABLE' AND device_imei IS NULL)",
		"imei text NOT NULL UNIQUE",
		"DROP TABLE IF EXISTS licenses",
	} {
		assert.Contains(t, content, sub)
	}
}

func TestEnumMigrationMatchesStatusValues(t *testing.T) {
	content := readMigration(t, "create_enum_types")

	for _, sub := range []string{
		"CREATE TYPE license_status AS ENUM ('AVAILABLE', 'IN_USE', 'BOUND')",
		"CREATE TYPE device_status AS ENUM ('ACTIVE', 'LOCKED', 'RELEASED')",
		"CREATE TYPE command_status AS ENUM ('PENDING', 'SENT')",
		"'device_reenrolled'",
	} {
		assert.Contains(t, content, sub)
	}
}

func TestPendingCommandIndexCoversMailboxOrder(t *testing.T) {
	content := readMigration(t, "create_commands_and_locations")
	assert.Contains(t, content, "ON pending_commands (device_id, created_at, id)")
	assert.Contains(t, content, "WHERE status = 'PENDING'")
}

func TestValidateDirRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad-name.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o600))
	err := migrate.ValidateDir(dir)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "invalid migration filename"))
}

func TestValidateRejectsMissingOrMisorderedDown(t *testing.T) {
	fsys := fstest.MapFS{
		"20250101000000_no_down.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n")},
	}
	assert.ErrorContains(t, migrate.Validate(fsys), "missing")

	fsys = fstest.MapFS{
		"20250101000000_backwards.sql": {Data: []byte("-- +goose Down\nSELECT 1;\n-- +goose Up\nSELECT 1;\n")},
	}
	assert.ErrorContains(t, migrate.Validate(fsys), "must come before")

	fsys = fstest.MapFS{
		"20250101000000_a.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"20250101000000_b.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
	}
	assert.ErrorContains(t, migrate.Validate(fsys), "duplicate migration version")
}

func TestParseVersion(t *testing.T) {
	v, err := migrate.ParseVersion("20250101000300")
	require.NoError(t, err)
	assert.EqualValues(t, 20250101000300, v)

	for _, bad := range []string{"", "2025", "2025010100030x", "202501010003000"} {
		_, err := migrate.ParseVersion(bad)
		assert.Error(t, err, bad)
	}
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Device Notes!")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "_add_device_notes.sql"))
	require.NoError(t, migrate.ValidateDir(dir))

	_, err = migrate.CreateSQLMigration(dir, "!!!")
	assert.Error(t, err)
}
