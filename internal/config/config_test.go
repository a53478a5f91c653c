package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
middleware:
  - rate_limit:
      requests_per_second: 20
      burst: 40
  - compression: true
`)
	cfg, err := LoadAndValidate(path, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 65*time.Minute, cfg.Auth.SessionTTL)
	assert.Equal(t, 100*time.Minute, cfg.Auth.RenewalWindow)
	assert.Equal(t, 5, cfg.Auth.MaxLoginAttempts)
	assert.Equal(t, SessionStoreDatabase, cfg.Sessions.Store)
	assert.Equal(t, 5*time.Second, cfg.Directory.Timeout)
	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
	assert.Len(t, cfg.Middleware, 2)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: "x"
  jwt_secrte: "typo"
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateErrors(t *testing.T) {
	cases := map[string]string{
		"missing secret": `
server:
  port: 9000
`,
		"window shorter than ttl": `
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
  session_ttl: 2h
  renewal_window: 1h
`,
		"redis without url": `
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
sessions:
  store: redis
`,
		"directory without url": `
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
directory:
  enabled: true
`,
		"two middlewares in one entry": `
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
middleware:
  - compression: true
    rate_limit:
      burst: 1
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadAndValidate(writeConfig(t, body), zap.NewNop())
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
