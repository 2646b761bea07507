package postgres

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_ValidateDefaults(t *testing.T) {
	t.Parallel()
	cfg := Config{Database: "authn", User: "svc"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, SSLModeRequire, cfg.SSLMode)
	assert.Equal(t, DefaultMaxConns, cfg.MaxConns)
	assert.Equal(t, DefaultTablePrefix, cfg.TablePrefix)
}

func TestConfig_ValidateRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "missing database", cfg: Config{User: "svc"}, want: "database"},
		{name: "missing user", cfg: Config{Database: "authn"}, want: "user"},
		{name: "bad port", cfg: Config{Database: "authn", User: "svc", Port: 70000}, want: "port"},
		{name: "bad ssl mode", cfg: Config{Database: "authn", User: "svc", SSLMode: "sometimes"}, want: "ssl_mode"},
		{name: "missing root cert", cfg: Config{Database: "authn", User: "svc", SSLRootCert: "/nonexistent/ca.pem"}, want: "ssl_root_cert"},
		{name: "min above max", cfg: Config{Database: "authn", User: "svc", MaxConns: 2, MinConns: 3}, want: "max_conns"},
		{name: "unsafe table prefix", cfg: Config{URI: "postgres://db/authn", TablePrefix: "x; drop"}, want: "table_prefix"},
		{name: "bad uri scheme", cfg: Config{URI: "mysql://db/authn"}, want: "scheme"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_ConnectionString(t *testing.T) {
	t.Parallel()

	cfg := Config{URI: "postgres://a:b@c/d"}
	assert.Equal(t, "postgres://a:b@c/d", cfg.ConnectionString())

	cfg = *DefaultConfig()
	cfg.Password = "p@ss word"
	u, err := url.Parse(cfg.ConnectionString())
	require.NoError(t, err)
	assert.Equal(t, "localhost:5432", u.Host)
	assert.Equal(t, "/authn", u.Path)
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss word", pw)
	assert.Equal(t, "require", u.Query().Get("sslmode"))
	assert.Equal(t, "10", u.Query().Get("connect_timeout"))
}

func TestConfig_TLSConfig(t *testing.T) {
	t.Parallel()

	cfg := Config{SSLMode: SSLModeVerifyFull}
	tlsCfg, err := cfg.tlsConfig()
	require.NoError(t, err)
	assert.Nil(t, tlsCfg)

	bad := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0o600))
	cfg = Config{SSLMode: SSLModeVerifyFull, SSLRootCert: bad}
	_, err = cfg.tlsConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse CA certificate")
}

func TestTruncateSQL(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "SELECT 1", truncateSQL("SELECT 1"))
	got := truncateSQL(strings.Repeat("x", 150))
	assert.Len(t, got, maxSQLTruncateLen+3)
	assert.True(t, strings.HasSuffix(got, "..."))
}
