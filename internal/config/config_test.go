package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadDefaults expects the defaults when neither environment nor config file say anything.
func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, DriverMySQL, cfg.DBDriver)
	assert.True(t, cfg.GinLogging)
	assert.Equal(t, defaultBackends, cfg.Backends)
	assert.Equal(t, ":@tcp(localhost)/test?parseTime=true&clientFoundRows=true", cfg.DSN())
}

// TestLoadEnvironment expects the teacher style environment variables to be honored.
func TestLoadEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("DBUSER", "dirk")
	t.Setenv("DBPWD", "secret")
	t.Setenv("DBHOST", "db:3306")
	t.Setenv("GIN_LOGGING", "OFF")
	t.Setenv("DEFAULT_USER", "dirk")
	t.Setenv("BACKENDS", "local:sql, shared:memory:readonly")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.False(t, cfg.GinLogging)
	assert.Equal(t, "dirk", cfg.DefaultUser)
	assert.Equal(t, "dirk:secret@tcp(db:3306)/test?parseTime=true&clientFoundRows=true", cfg.DSN())
	assert.Equal(t, []Backend{
		{Name: "local", Type: TypeSQL},
		{Name: "shared", Type: TypeMemory, ReadOnly: true},
	}, cfg.Backends)
}

// TestLoadFile reads the backends from a YAML file.
func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	yaml := `
dbdriver: sqlite
dbfile: contacts.db
backends:
  - name: local
    type: sql
  - name: archive
    type: memory
    readonly: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "addressbooks.yaml"), []byte(yaml), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "contacts.db", cfg.DSN())
	assert.Equal(t, []Backend{
		{Name: "local", Type: TypeSQL},
		{Name: "archive", Type: TypeMemory, ReadOnly: true},
	}, cfg.Backends)
}

// TestLoadMissingExplicitFile expects an error if an explicitly named file does not exist.
func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// TestInvalidBackends checks the validation of the backend list.
func TestInvalidBackends(t *testing.T) {
	invalid := []string{
		"local",
		"local:ldap",
		"local:sql,local:memory",
		"local:sql,other:sql",
		"local:memory:writable",
	}
	for _, backends := range invalid {
		t.Run(backends, func(t *testing.T) {
			chdir(t, t.TempDir())
			t.Setenv("BACKENDS", backends)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

// TestInvalidPort expects a port outside the valid range to be rejected.
func TestInvalidPort(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PORT", "70000")
	_, err := Load("")
	assert.Error(t, err)
}

// chdir changes the working directory for the duration of the test (stand-in for testing.T.Chdir, Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { require.NoError(t, os.Chdir(old)) })
}
