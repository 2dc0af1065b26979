// Package i18n resolves user-facing messages in English and Greek.
package i18n

import (
	_ "embed"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Supported languages
const (
	LangEN = "en"
	LangEL = "el"
)

//go:embed messages.yaml
var catalogYAML []byte

// Catalog maps message keys to per-language text
type Catalog struct {
	messages map[string]map[string]string
}

// Parse builds a catalog from YAML of the form key: {en: ..., el: ...}.
// Every key must carry an English text.
func Parse(data []byte) (*Catalog, error) {
	var messages map[string]map[string]string
	if err := yaml.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("failed to parse message catalog: %w", err)
	}
	for key, texts := range messages {
		if texts[LangEN] == "" {
			return nil, fmt.Errorf("message %q has no English text", key)
		}
	}
	return &Catalog{messages: messages}, nil
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the embedded catalog
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(catalogYAML)
		if err != nil {
			panic(err)
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Message returns the text for key in lang, falling back to English and
// then to the key itself.
func (c *Catalog) Message(key, lang string) string {
	texts, ok := c.messages[key]
	if !ok {
		return key
	}
	if text := texts[lang]; text != "" {
		return text
	}
	return texts[LangEN]
}

// Has reports whether key is in the catalog
func (c *Catalog) Has(key string) bool {
	_, ok := c.messages[key]
	return ok
}

// Keys returns all message keys, sorted
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.messages))
	for k := range c.messages {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Message resolves key against the default catalog
func Message(key, lang string) string {
	return Default().Message(key, lang)
}

// ResolveLanguage picks the response language: the lang query parameter
// when it names a supported language, otherwise Greek when Accept-Language
// lists it with a non-zero quality, otherwise English.
func ResolveLanguage(r *http.Request) string {
	if lang := normalize(r.URL.Query().Get("lang")); lang != "" {
		return lang
	}
	return FromAcceptLanguage(r.Header.Get("Accept-Language"))
}

// FromAcceptLanguage resolves an Accept-Language header value
func FromAcceptLanguage(header string) string {
	for _, part := range strings.Split(header, ",") {
		tag, q := parseLanguageRange(part)
		if q <= 0 {
			continue
		}
		if normalize(tag) == LangEL {
			return LangEL
		}
	}
	return LangEN
}

func parseLanguageRange(part string) (string, float64) {
	fields := strings.Split(strings.TrimSpace(part), ";")
	tag := strings.TrimSpace(fields[0])
	q := 1.0
	for _, param := range fields[1:] {
		param = strings.TrimSpace(param)
		if !strings.HasPrefix(param, "q=") {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimPrefix(param, "q="), 64)
		if err != nil {
			return tag, 0
		}
		q = v
	}
	return tag, q
}

func normalize(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		tag = tag[:i]
	}
	switch tag {
	case LangEN, LangEL:
		return tag
	default:
		return ""
	}
}
