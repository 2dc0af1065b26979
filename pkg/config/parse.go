package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// reader wraps viper with strict parsing. Malformed values are collected
// instead of silently falling back to zero values.
type reader struct {
	v    *viper.Viper
	errs []error
}

func (r *reader) fail(err error) {
	r.errs = append(r.errs, err)
}

func (r *reader) err() error {
	return errors.Join(r.errs...)
}

func (r *reader) isSet(key string) bool {
	return r.v.IsSet(key)
}

func (r *reader) str(key string) string {
	return strings.TrimSpace(r.v.GetString(key))
}

func (r *reader) boolean(key string) bool {
	raw := strings.ToLower(r.str(key))
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "", "0", "false", "no", "off":
		return false
	}
	r.fail(fmt.Errorf("invalid boolean for %s: %q", strings.ToUpper(key), raw))
	return false
}

func (r *reader) integer(key string) int {
	raw := r.str(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		r.fail(fmt.Errorf("invalid integer for %s: %q", strings.ToUpper(key), raw))
		return 0
	}
	return n
}

func (r *reader) duration(key string) time.Duration {
	raw := r.str(key)
	if raw == "" {
		return 0
	}
	// Bare numbers are seconds
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		r.fail(fmt.Errorf("invalid duration for %s: %q", strings.ToUpper(key), raw))
		return 0
	}
	return d
}

// oneOf returns the lowercased value when it is one of allowed
func (r *reader) oneOf(key string, allowed ...string) string {
	raw := strings.ToLower(r.str(key))
	for _, a := range allowed {
		if raw == a {
			return raw
		}
	}
	r.fail(fmt.Errorf("invalid value for %s: %q (must be one of %s)", strings.ToUpper(key), raw, strings.Join(allowed, ", ")))
	if len(allowed) > 0 {
		return allowed[0]
	}
	return raw
}

// ParseList parses either a comma-separated string or a JSON-array-looking
// string into an ordered list. Empty entries are dropped.
func ParseList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{}
	}

	if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		var items []string
		if err := json.Unmarshal([]byte(raw), &items); err == nil {
			return compact(items)
		}
		// Not valid JSON, e.g. [a, b] without quotes
		raw = strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]")
	}

	parts := strings.Split(raw, ",")
	for i, p := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(p), `"'`)
	}
	return compact(parts)
}

// ParseProxies parses trusted proxy addresses. Each item is an IP or a CIDR
// range; bare IPs become single-host ranges.
func ParseProxies(items []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(items))
	for _, item := range items {
		if strings.Contains(item, "/") {
			_, n, err := net.ParseCIDR(item)
			if err != nil {
				return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q", item)
			}
			nets = append(nets, n)
			continue
		}
		ip := net.ParseIP(item)
		if ip == nil {
			return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q", item)
		}
		bits := 8 * net.IPv6len
		if v4 := ip.To4(); v4 != nil {
			ip, bits = v4, 8*net.IPv4len
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets, nil
}

func compact(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ciMarkers are environment variables whose presence marks a CI or test run
var ciMarkers = []string{"GITHUB_ACTIONS", "CI", "GITLAB_CI", "PYTEST_CURRENT_TEST", "PYTEST_RUNNING"}

// DetectTestRun reports whether the process runs under CI or a test runner.
func DetectTestRun(args []string, lookup func(string) (string, bool)) bool {
	for _, key := range ciMarkers {
		if _, ok := lookup(key); ok {
			return true
		}
	}
	if v, ok := lookup("CI_ALLOW_INSECURE_SECRET"); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			return true
		}
	}
	for i, arg := range args {
		if strings.Contains(arg, "pytest") {
			return true
		}
		// go test binaries are named <pkg>.test
		if i == 0 && strings.HasSuffix(arg, ".test") {
			return true
		}
	}
	return false
}
