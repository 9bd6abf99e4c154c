package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MODEL", "gpt-oss:20b")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "gpt-oss:20b", cfg.Completion.Model)
	assert.Equal(t, "https://ollama.com/api/chat", cfg.Completion.URL)
	assert.Equal(t, 120*time.Second, cfg.Completion.Timeout)
	assert.Equal(t, DefaultReplies(), cfg.Completion.Replies)
	assert.True(t, cfg.Memory.Enabled)
	assert.Equal(t, 10, cfg.Memory.Window)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.NotEmpty(t, cfg.Persona.Prompt)
}

func TestLoadRequiresModel(t *testing.T) {
	t.Setenv("MODEL", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":           "80 80",
		"MEMORY_ENABLED": "maybe",
		"MEMORY_WINDOW":  "ten",
		"STORE_DRIVER":   "cassandra",
		"LOG_FORMAT":     "xml",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv("MODEL", "m")
			t.Setenv(key, value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadPersonaFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.txt")
	require.NoError(t, os.WriteFile(path, []byte("  You are Ada.\n"), 0o600))

	t.Setenv("MODEL", "m")
	t.Setenv("PERSONA_FILE", path)
	t.Setenv("PERSONA_NAME", "Ada")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "You are Ada.", cfg.Persona.Prompt)
	assert.Equal(t, "Ada", cfg.Persona.Name)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "companion.yaml")
	content := "model: llama3\nstore_driver: sqlite\nmemory_window: 0\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "llama3", cfg.Completion.Model)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "companion.db", cfg.Store.DSN)
	assert.Equal(t, 1, cfg.Memory.Window)
}

func TestLoadPostgresNeedsDSN(t *testing.T) {
	t.Setenv("MODEL", "m")
	t.Setenv("STORE_DRIVER", "postgres")

	_, err := Load()
	require.Error(t, err)
}
