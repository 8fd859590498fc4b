package expressions

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Resolve rewrites every {{path}} placeholder found in string leaves of
// value, walking maps and slices structurally. Non-string scalars pass
// through unchanged. A path that cannot be followed resolves to "".
func Resolve(value any, data map[string]any) any {
	switch v := value.(type) {
	case string:
		return ResolveString(v, data)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = Resolve(item, data)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Resolve(item, data)
		}
		return out
	case []string:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = ResolveString(item, data)
		}
		return out
	default:
		return value
	}
}

// ResolveMap is Resolve for a config map. A nil map stays nil.
func ResolveMap(config map[string]any, data map[string]any) map[string]any {
	if config == nil {
		return nil
	}
	out, _ := Resolve(config, data).(map[string]any)
	return out
}

// ResolveString substitutes each placeholder in s independently. An
// unclosed "{{" is left as literal text.
func ResolveString(s string, data map[string]any) string {
	if !strings.Contains(s, "{{") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], "{{")
		if idx == -1 {
			b.WriteString(s[i:])
			break
		}
		b.WriteString(s[i : i+idx])
		start := i + idx + 2

		end := strings.Index(s[start:], "}}")
		if end == -1 {
			b.WriteString(s[i+idx:])
			break
		}
		end += start

		path := strings.TrimSpace(s[start:end])
		if val, ok := Lookup(data, path); ok {
			b.WriteString(stringify(val))
		}
		i = end + 2
	}

	return b.String()
}

// Lookup walks a dot-separated path through nested maps. Numeric segments
// index into slices. It reports false when any segment is missing.
func Lookup(data map[string]any, path string) (any, bool) {
	if path == "" || data == nil {
		return nil, false
	}

	var current any = data
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, false
		}
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			n, err := strconv.Atoi(seg)
			if err != nil || n < 0 || n >= len(v) {
				return nil, false
			}
			current = v[n]
		default:
			return nil, false
		}
	}
	return current, true
}

// stringify renders a resolved value for inline substitution.
func stringify(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
