// Package jsonpath evaluates the small JSONPath subset used by scenario captures
// and expectations: $, $.field, $.field.nested, $.array[0], $.array[*].field.
package jsonpath

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Get evaluates path against an already decoded JSON document.
// It returns every matching value; an empty slice means no match.
func Get(doc any, path string) ([]any, error) {
	if !strings.HasPrefix(path, "$") {
		return nil, fmt.Errorf("JSONPath must start with $: %q", path)
	}

	rest := strings.TrimPrefix(path[1:], ".")
	current := []any{doc}
	if rest == "" {
		return current, nil
	}

	for _, seg := range splitSegments(rest) {
		if seg == "" {
			continue
		}

		field, indexes, err := parseSegment(seg)
		if err != nil {
			return nil, err
		}

		if field != "" {
			current = stepField(current, field)
		}
		for _, idx := range indexes {
			current = stepIndex(current, idx)
		}
		if len(current) == 0 {
			return nil, nil
		}
	}

	return current, nil
}

// First returns the first match of path, and false when nothing matched.
func First(doc any, path string) (any, bool, error) {
	results, err := Get(doc, path)
	if err != nil {
		return nil, false, err
	}
	if len(results) == 0 {
		return nil, false, nil
	}
	return results[0], true, nil
}

// Extract parses body as JSON and returns the first match of path.
func Extract(body []byte, path string) (any, error) {
	doc, err := Parse(body)
	if err != nil {
		return nil, err
	}
	v, ok, err := First(doc, path)
	if err != nil {
		return nil, fmt.Errorf("invalid JSONPath %q: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("JSONPath %q: no match found", path)
	}
	return v, nil
}

// Parse decodes a JSON byte slice into a generic structure.
func Parse(body []byte) (any, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("response body is not valid JSON: %w", err)
	}
	return doc, nil
}

const wildcard = -1

// parseSegment splits "field[0][*]" into its field name and index list.
func parseSegment(seg string) (string, []int, error) {
	open := strings.Index(seg, "[")
	if open < 0 {
		return seg, nil, nil
	}

	field := seg[:open]
	var indexes []int
	rest := seg[open:]
	for rest != "" {
		if !strings.HasPrefix(rest, "[") {
			return "", nil, fmt.Errorf("unexpected %q in segment %q", rest, seg)
		}
		end := strings.Index(rest, "]")
		if end < 0 {
			return "", nil, fmt.Errorf("unterminated index in segment %q", seg)
		}
		raw := rest[1:end]
		if raw == "*" {
			indexes = append(indexes, wildcard)
		} else {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return "", nil, fmt.Errorf("invalid array index in %q: %w", seg, err)
			}
			if n < 0 {
				return "", nil, fmt.Errorf("negative array index in %q", seg)
			}
			indexes = append(indexes, n)
		}
		rest = rest[end+1:]
	}
	return field, indexes, nil
}

func stepField(nodes []any, field string) []any {
	var out []any
	for _, n := range nodes {
		m, ok := n.(map[string]any)
		if !ok {
			continue
		}
		if v, ok := m[field]; ok {
			out = append(out, v)
		}
	}
	return out
}

func stepIndex(nodes []any, idx int) []any {
	var out []any
	for _, n := range nodes {
		arr, ok := n.([]any)
		if !ok {
			continue
		}
		if idx == wildcard {
			out = append(out, arr...)
			continue
		}
		if idx < len(arr) {
			out = append(out, arr[idx])
		}
	}
	return out
}

// splitSegments splits a path like "field.nested[0].name" on dots outside brackets.
func splitSegments(path string) []string {
	var segments []string
	var current strings.Builder
	depth := 0

	for _, ch := range path {
		switch ch {
		case '[':
			depth++
			current.WriteRune(ch)
		case ']':
			depth--
			current.WriteRune(ch)
		case '.':
			if depth == 0 {
				segments = append(segments, current.String())
				current.Reset()
			} else {
				current.WriteRune(ch)
			}
		default:
			current.WriteRune(ch)
		}
	}

	if current.Len() > 0 {
		segments = append(segments, current.String())
	}

	return segments
}
