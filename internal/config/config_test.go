package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/hashindex/internal/config"
)

func Test_Load_Applies_Defaults_When_No_File_Or_Overrides(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("", config.Config{DBPath: "/tmp/x.db"}, map[string]bool{"db_path": true})
	require.NoError(t, err)

	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Equal(t, config.Default().PoolSize, cfg.PoolSize)
	assert.Equal(t, config.Default().InitialBuckets, cfg.InitialBuckets)
}

func Test_Load_File_Overrides_Defaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "hashindex.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// a jsonc comment, since config files are standardized before parsing
		"db_path": "/data/idx.db",
		"pool_size": 128,
	}`), 0o644))

	cfg, err := config.Load(path, config.Config{}, nil)
	require.NoError(t, err)

	assert.Equal(t, "/data/idx.db", cfg.DBPath)
	assert.Equal(t, 128, cfg.PoolSize)
}

func Test_Load_Flag_Overrides_Beat_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "hashindex.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{"db_path": "/data/idx.db", "pool_size": 128}`), 0o644))

	cfg, err := config.Load(path, config.Config{PoolSize: 256}, map[string]bool{"pool_size": true})
	require.NoError(t, err)

	assert.Equal(t, 256, cfg.PoolSize)
	assert.Equal(t, "/data/idx.db", cfg.DBPath, "db_path was not overridden, so the file's value stands")
}

func Test_Load_Requires_DBPath(t *testing.T) {
	t.Parallel()

	_, err := config.Load("", config.Config{}, nil)
	assert.ErrorIs(t, err, config.ErrDBPathRequired)
}

func Test_Load_Rejects_Unknown_LogLevel(t *testing.T) {
	t.Parallel()

	_, err := config.Load("", config.Config{DBPath: "x.db", LogLevel: "verbose"}, map[string]bool{
		"db_path": true, "log_level": true,
	})
	assert.ErrorIs(t, err, config.ErrInvalidLogLevel)
}

func Test_Load_Missing_File_Path_Errors(t *testing.T) {
	t.Parallel()

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.jsonc"), config.Config{DBPath: "x.db"}, nil)
	assert.ErrorIs(t, err, config.ErrConfigFileRead)
}

func Test_Save_Then_Load_Roundtrips(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "hashindex.json")

	want := config.Config{DBPath: "/data/idx.db", PoolSize: 99, InitialBuckets: 123, LogLevel: "warn"}
	require.NoError(t, config.Save(path, want))

	got, err := config.Load(path, config.Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
