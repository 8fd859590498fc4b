package actions

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Param helpers. Resolved templates arrive as strings, so numeric and
// duration params accept their string forms too.

func stringParam(m map[string]any, key, defaultVal string) string {
	switch v := m[key].(type) {
	case nil:
		return defaultVal
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
		return defaultVal
	default:
		return fmt.Sprint(v)
	}
}

// firstString returns the first non-empty string param among keys.
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringParam(m, k, ""); s != "" {
			return s
		}
	}
	return ""
}

func intParam(m map[string]any, key string, defaultVal int) int {
	switch n := m[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return defaultVal
		}
		return int(i)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return defaultVal
		}
		return i
	default:
		return defaultVal
	}
}

// durationParam accepts a Go duration string or a number of milliseconds.
func durationParam(m map[string]any, key string, defaultVal time.Duration) time.Duration {
	switch v := m[key].(type) {
	case int:
		return time.Duration(v) * time.Millisecond
	case int64:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v * float64(time.Millisecond))
	case string:
		s := strings.TrimSpace(v)
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
		if ms, err := strconv.ParseFloat(s, 64); err == nil {
			return time.Duration(ms * float64(time.Millisecond))
		}
		return defaultVal
	default:
		return defaultVal
	}
}
