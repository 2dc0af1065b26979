package i18n

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogIsComplete(t *testing.T) {
	c := Default()
	require.NotEmpty(t, c.Keys())
	for _, key := range c.Keys() {
		assert.NotEqual(t, key, c.Message(key, LangEL), "missing greek text for %s", key)
	}
}

func TestMessageFallbacks(t *testing.T) {
	c, err := Parse([]byte("greeting:\n  en: Hello\n  el: Γεια\nonly_en:\n  en: English only\n"))
	require.NoError(t, err)

	assert.Equal(t, "Γεια", c.Message("greeting", LangEL))
	assert.Equal(t, "Hello", c.Message("greeting", LangEN))
	assert.Equal(t, "English only", c.Message("only_en", LangEL))
	assert.Equal(t, "unknown.key", c.Message("unknown.key", LangEN))
	assert.True(t, c.Has("greeting"))
}

func TestParseRequiresEnglish(t *testing.T) {
	_, err := Parse([]byte("greeting:\n  el: Γεια\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("not: [valid"))
	assert.Error(t, err)
}

func TestResolveLanguage(t *testing.T) {
	tests := []struct {
		name   string
		target string
		accept string
		want   string
	}{
		{"default", "/", "", LangEN},
		{"query el", "/?lang=el", "en", LangEL},
		{"query EN wins over header", "/?lang=EN", "el", LangEN},
		{"unsupported query ignored", "/?lang=fr", "el-GR", LangEL},
		{"greek header", "/", "el-GR,el;q=0.9", LangEL},
		{"greek preferred when both present", "/", "en-US,en;q=0.9,el;q=0.5", LangEL},
		{"greek with q=0 excluded", "/", "en,el;q=0", LangEN},
		{"english only", "/", "en-GB", LangEN},
		{"malformed quality", "/", "el;q=abc", LangEN},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.target, nil)
			if tt.accept != "" {
				r.Header.Set("Accept-Language", tt.accept)
			}
			assert.Equal(t, tt.want, ResolveLanguage(r))
		})
	}
}
