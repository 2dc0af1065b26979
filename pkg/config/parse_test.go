package config

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEmptyEnv(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	return path
}

// TestParseList tests CSV and JSON-array parsing
func TestParseList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"empty", "", []string{}},
		{"csv", "http://a, http://b", []string{"http://a", "http://b"}},
		{"csv with blanks", "http://a,, ,http://b,", []string{"http://a", "http://b"}},
		{"json", `["http://a","http://b"]`, []string{"http://a", "http://b"}},
		{"json with blanks", `["http://a", "", " "]`, []string{"http://a"}},
		{"bracketed without quotes", "[http://a, http://b]", []string{"http://a", "http://b"}},
		{"single quoted", "'http://a','http://b'", []string{"http://a", "http://b"}},
		{"order preserved", "c,a,b", []string{"c", "a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseList(tt.raw))
		})
	}
}

// TestParseProxies tests proxy entry validation
func TestParseProxies(t *testing.T) {
	nets, err := ParseProxies([]string{"192.168.0.0/16", "127.0.0.1"})
	require.NoError(t, err)
	require.Len(t, nets, 2)
	assert.True(t, nets[0].Contains(net.ParseIP("192.168.4.20")))
	assert.True(t, nets[1].Contains(net.ParseIP("127.0.0.1")))
	assert.False(t, nets[1].Contains(net.ParseIP("127.0.0.2")))

	for _, bad := range []string{"localhost", "10.0.0.0/40", "1.2.3"} {
		_, err := ParseProxies([]string{bad})
		assert.Error(t, err, bad)
	}
}

// TestDetectTestRun tests CI and test-runner detection
func TestDetectTestRun(t *testing.T) {
	env := func(vars map[string]string) func(string) (string, bool) {
		return func(key string) (string, bool) {
			v, ok := vars[key]
			return v, ok
		}
	}

	tests := []struct {
		name string
		args []string
		vars map[string]string
		want bool
	}{
		{"plain", []string{"/usr/bin/sms"}, nil, false},
		{"github actions", []string{"sms"}, map[string]string{"GITHUB_ACTIONS": "true"}, true},
		{"ci present even empty", []string{"sms"}, map[string]string{"CI": ""}, true},
		{"gitlab", []string{"sms"}, map[string]string{"GITLAB_CI": "true"}, true},
		{"pytest env", []string{"sms"}, map[string]string{"PYTEST_RUNNING": "1"}, true},
		{"pytest argv", []string{"python", "-m", "pytest"}, nil, true},
		{"go test binary", []string{"/tmp/go-build1/config.test", "-test.v"}, nil, true},
		{"explicit allow", []string{"sms"}, map[string]string{"CI_ALLOW_INSECURE_SECRET": "true"}, true},
		{"explicit allow off", []string{"sms"}, map[string]string{"CI_ALLOW_INSECURE_SECRET": "false"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectTestRun(tt.args, env(tt.vars)))
		})
	}
}

// TestBuildPostgresURL tests URL assembly and encoding
func TestBuildPostgresURL(t *testing.T) {
	t.Run("options merged", func(t *testing.T) {
		u, err := BuildPostgresURL(PostgresSettings{
			Host:    "localhost",
			Port:    6543,
			User:    "sms",
			DB:      "sms",
			Options: "connect_timeout=10&application_name=sms",
		})
		require.NoError(t, err)
		assert.Equal(t, "postgresql://sms@localhost:6543/sms?application_name=sms&connect_timeout=10", u)
	})

	t.Run("missing user", func(t *testing.T) {
		_, err := BuildPostgresURL(PostgresSettings{Host: "localhost", DB: "sms"})
		assert.Error(t, err)
	})

	t.Run("bad options", func(t *testing.T) {
		_, err := BuildPostgresURL(PostgresSettings{Host: "localhost", DB: "sms", User: "u", Options: "%zz"})
		assert.Error(t, err)
	})
}

// TestSQLitePathFromURL tests sqlite URL forms
func TestSQLitePathFromURL(t *testing.T) {
	assert.Equal(t, "data/app.db", sqlitePathFromURL("sqlite:///data/app.db"))
	assert.Equal(t, "/abs/app.db", sqlitePathFromURL("sqlite:////abs/app.db"))
}
