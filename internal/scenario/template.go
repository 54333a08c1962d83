package scenario

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/wondertwin-ai/contractkit/internal/fixture"
)

// Scope resolves template expressions for one scenario run:
//   - {{env.VARIABLE}} from the environment (empty when unset)
//   - {{fixture.<name>}} and {{fixture.<name>.<path>}} from generated fixtures
//   - {{credential.<session>}} to the session's current token
//   - {{targets.<name>.base_url}} to a target's base URL
//   - {{name}} and {{name.path}} from variables and captures
type Scope struct {
	Vars        map[string]any
	Fixtures    map[string]fixture.Fixture
	BaseURLs    map[string]string
	Credentials func(session string) (string, error)
	LookupEnv   func(key string) (string, bool)
}

// ExpandString replaces every placeholder in s with the string form of its value.
func (sc *Scope) ExpandString(s string) (string, error) {
	result := s
	offset := 0
	for {
		start := strings.Index(result[offset:], "{{")
		if start == -1 {
			break
		}
		start += offset
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			return "", fmt.Errorf("unterminated template expression at position %d", start)
		}
		end += start + 2

		value, err := sc.Resolve(result[start+2 : end-2])
		if err != nil {
			return "", err
		}
		text := Stringify(value)
		result = result[:start] + text + result[end:]
		offset = start + len(text)
	}
	return result, nil
}

// Expand walks v and expands templates in every string. A string that is
// exactly one placeholder is replaced by the typed value, so numbers stay
// numbers and fixtures stay objects.
func (sc *Scope) Expand(v any) (any, error) {
	switch t := v.(type) {
	case string:
		if expr, ok := wholePlaceholder(t); ok {
			return sc.Resolve(expr)
		}
		return sc.ExpandString(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			expanded, err := sc.Expand(val)
			if err != nil {
				return nil, err
			}
			out[k] = expanded
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			expanded, err := sc.Expand(val)
			if err != nil {
				return nil, err
			}
			out[i] = expanded
		}
		return out, nil
	default:
		return v, nil
	}
}

// ExpandMap expands every value of a string map.
func (sc *Scope) ExpandMap(m map[string]string) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		expanded, err := sc.ExpandString(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = expanded
	}
	return out, nil
}

// Resolve evaluates a single expression without the surrounding braces.
func (sc *Scope) Resolve(expr string) (any, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty template expression")
	}

	head, rest, _ := strings.Cut(expr, ".")
	switch head {
	case "env":
		lookup := sc.LookupEnv
		if lookup == nil {
			lookup = os.LookupEnv
		}
		val, _ := lookup(rest)
		return val, nil

	case "fixture":
		name, path, _ := strings.Cut(rest, ".")
		f, ok := sc.Fixtures[name]
		if !ok {
			return nil, fmt.Errorf("template %q: no fixture named %q", expr, name)
		}
		val, ok := f.Get(path)
		if !ok {
			return nil, fmt.Errorf("template %q: fixture %q has no field %q", expr, name, path)
		}
		return val, nil

	case "credential":
		if sc.Credentials == nil {
			return nil, fmt.Errorf("template %q: no sessions configured", expr)
		}
		return sc.Credentials(rest)

	case "targets":
		name, field, _ := strings.Cut(rest, ".")
		if field != "base_url" {
			return nil, fmt.Errorf("template %q: unknown field %q (expected base_url)", expr, field)
		}
		base, ok := sc.BaseURLs[name]
		if !ok {
			return nil, fmt.Errorf("template %q: %w %q", expr, ErrUnknownTarget, name)
		}
		return base, nil
	}

	val, ok := sc.Vars[head]
	if !ok {
		return nil, fmt.Errorf("unresolved template expression: %q", expr)
	}
	if rest == "" {
		return val, nil
	}
	for _, key := range strings.Split(rest, ".") {
		m, ok := val.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("template %q: %q is not an object", expr, head)
		}
		if val, ok = m[key]; !ok {
			return nil, fmt.Errorf("template %q: no field %q", expr, key)
		}
	}
	return val, nil
}

// Stringify renders a value for interpolation into a larger string.
// Integral numbers never use exponent notation.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any, []any:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func wholePlaceholder(s string) (string, bool) {
	if !strings.HasPrefix(s, "{{") || !strings.HasSuffix(s, "}}") {
		return "", false
	}
	inner := s[2 : len(s)-2]
	if strings.Contains(inner, "{{") || strings.Contains(inner, "}}") {
		return "", false
	}
	return inner, true
}
