package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearPoesyEnv unsets POESY_* for the test; t.Setenv restores them after.
func clearPoesyEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, Prefix+"_") {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearPoesyEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultEnvironment, cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, 60*time.Second, cfg.RefreshWindow)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 5*time.Second, cfg.LogoutTimeout)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, 32, cfg.DraftCapacity)
	assert.Equal(t, ":8787", cfg.DevServerAddr)
	assert.Equal(t, 5, cfg.DevRateLimitRPS)
	assert.Equal(t, 10, cfg.DevRateLimitBurst)
	assert.NotEmpty(t, cfg.StorePath)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoad_Env(t *testing.T) {
	clearPoesyEnv(t)
	t.Setenv("POESY_BASE_URL", "https://poesy.example.com/")
	t.Setenv("POESY_ENVIRONMENT", "development")
	t.Setenv("POESY_LOG_LEVEL", "debug")
	t.Setenv("POESY_REFRESH_WINDOW", "2m")
	t.Setenv("POESY_DRAFT_CAPACITY", "8")
	t.Setenv("POESY_EPHEMERAL", "true")
	t.Setenv("POESY_DEVSERVER_RATE_LIMIT_RPS", "-1")
	t.Setenv("POESY_DEVSERVER_CORS_ORIGINS", "http://localhost:5173")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://poesy.example.com", cfg.BaseURL)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
	assert.Equal(t, 2*time.Minute, cfg.RefreshWindow)
	assert.Equal(t, 8, cfg.DraftCapacity)
	assert.True(t, cfg.Ephemeral)
	assert.Empty(t, cfg.StorePath)
	assert.Equal(t, -1, cfg.DevRateLimitRPS)
	assert.Equal(t, "http://localhost:5173", cfg.DevCORSOrigins)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearPoesyEnv(t)
	t.Setenv("POESY_TEST_SECRET", "from-env")
	t.Setenv("POESY_LOGOUT_TIMEOUT", "9s")

	path := filepath.Join(t.TempDir(), "poesy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url: https://file.example.com
store_path: /tmp/poesy-test.db
logout_timeout: 1s
retry_attempts: 5
devserver_jwt_secret: ${POESY_TEST_SECRET}
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://file.example.com", cfg.BaseURL)
	assert.Equal(t, "/tmp/poesy-test.db", cfg.StorePath)
	assert.Equal(t, 9*time.Second, cfg.LogoutTimeout)
	assert.Equal(t, 5, cfg.RetryAttempts)
	assert.Equal(t, "from-env", cfg.DevJWTSecret)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadBytes_Invalid(t *testing.T) {
	clearPoesyEnv(t)
	_, err := LoadBytes([]byte("base_url: [unclosed"))
	assert.Error(t, err)

	_, err = LoadBytes([]byte("base_url: ftp://poesy"))
	assert.ErrorContains(t, err, "base_url")

	_, err = LoadBytes([]byte("log_level: loud"))
	assert.ErrorContains(t, err, "log_level")

	_, err = LoadBytes([]byte("retry_attempts: -1"))
	assert.ErrorContains(t, err, "retry_attempts")
}

func TestLevel_Fallback(t *testing.T) {
	cfg := &Config{LogLevel: "nonsense"}
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("POESY_X", "1")
	assert.Equal(t, "a=1 b=1 c=", expandEnvVars("a=${POESY_X} b=$POESY_X c=${POESY_UNSET_X}"))
}

func TestFileFromEnv(t *testing.T) {
	t.Setenv("POESY_CONFIG", "/etc/poesy.yaml")
	assert.Equal(t, "/etc/poesy.yaml", FileFromEnv())
}
