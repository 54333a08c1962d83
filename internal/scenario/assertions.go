package scenario

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"

	"github.com/wondertwin-ai/contractkit/internal/httpclient"
	"github.com/wondertwin-ai/contractkit/internal/jsonpath"
)

// Evaluate checks resp against exp and returns the first violation as an
// *ExpectationError. Checks run in a fixed order: status, status text,
// success, headers, body text, fields, body values, subsets, membership.
func Evaluate(exp *Expect, resp *httpclient.Response) error {
	if exp == nil {
		return nil
	}

	if exp.Status != 0 && resp.StatusCode != exp.Status {
		return &ExpectationError{Check: "status", Expected: exp.Status, Actual: resp.StatusCode}
	}
	if exp.StatusText != "" && resp.StatusText != exp.StatusText {
		return &ExpectationError{Check: "status_text", Expected: exp.StatusText, Actual: resp.StatusText}
	}
	if exp.Success != nil && resp.OK() != *exp.Success {
		want, got := "non-2xx status", fmt.Sprintf("%d", resp.StatusCode)
		if *exp.Success {
			want = "2xx status"
		}
		return &ExpectationError{Check: "success", Expected: want, Actual: got}
	}

	for _, key := range sortedKeys(exp.Headers) {
		expected := exp.Headers[key]
		if actual := resp.Headers.Get(key); actual != expected {
			return &ExpectationError{Check: "header", Path: key, Expected: expected, Actual: actual}
		}
	}

	if exp.BodyContains != "" && !strings.Contains(resp.Text(), exp.BodyContains) {
		return &ExpectationError{Check: "body_contains", Expected: exp.BodyContains, Actual: truncate(resp.Text(), 200)}
	}

	needsJSON := len(exp.Fields) > 0 || len(exp.Body) > 0 || len(exp.Subset) > 0 || len(exp.Contains) > 0
	if !needsJSON {
		return nil
	}
	doc := resp.JSON
	if doc == nil {
		return &ExpectationError{Check: "body", Expected: "a JSON body", Actual: truncate(resp.Text(), 200)}
	}

	for _, path := range exp.Fields {
		results, err := jsonpath.Get(doc, path)
		if err != nil {
			return &ExpectationError{Check: "field", Path: path, Detail: err.Error()}
		}
		if len(results) == 0 {
			return &ExpectationError{Check: "field", Path: path, Expected: "field present"}
		}
	}

	for _, path := range sortedKeys(exp.Body) {
		if err := evaluateOne(doc, path, exp.Body[path]); err != nil {
			return err
		}
	}

	for _, path := range sortedKeys(exp.Subset) {
		expected := normalize(exp.Subset[path])
		actual, ok, err := jsonpath.First(doc, path)
		if err != nil {
			return &ExpectationError{Check: "subset", Path: path, Detail: err.Error()}
		}
		if !ok {
			return &ExpectationError{Check: "subset", Path: path, Expected: expected}
		}
		if !matches(expected, actual) {
			return &ExpectationError{
				Check:    "subset",
				Path:     path,
				Expected: expected,
				Actual:   actual,
				Detail:   "(-expected +actual)\n" + cmp.Diff(expected, pick(expected, actual)),
			}
		}
	}

	for _, m := range exp.Contains {
		item := normalize(m.Item)
		results, err := jsonpath.Get(doc, m.Path)
		if err != nil {
			return &ExpectationError{Check: "contains", Path: m.Path, Detail: err.Error()}
		}
		if len(results) == 0 {
			return &ExpectationError{Check: "contains", Path: m.Path, Expected: item, Detail: "no collection at path"}
		}
		arr, ok := results[0].([]any)
		if !ok {
			return &ExpectationError{Check: "contains", Path: m.Path, Expected: "an array", Actual: results[0]}
		}
		if !containsMatch(arr, item) {
			return &ExpectationError{
				Check:    "contains",
				Path:     m.Path,
				Expected: item,
				Actual:   fmt.Sprintf("%d elements without a match", len(arr)),
			}
		}
	}

	return nil
}

// evaluateOne evaluates a single JSONPath assertion.
func evaluateOne(doc any, path string, expected any) error {
	results, err := jsonpath.Get(doc, path)
	if err != nil {
		return &ExpectationError{Check: "body", Path: path, Detail: fmt.Sprintf("invalid JSONPath: %v", err)}
	}

	// Operator form: {"gte": 1}, {"exists": true}, ...
	if ops, ok := expected.(map[string]any); ok && isOperatorMap(ops) {
		return evaluateOperators(path, results, ops)
	}

	if len(results) == 0 {
		return &ExpectationError{Check: "body", Path: path, Expected: expected, Detail: "no match found"}
	}
	actual := results[0]
	if !matchesExact(normalize(expected), actual) {
		return &ExpectationError{Check: "body", Path: path, Expected: expected, Actual: actual}
	}
	return nil
}

var operators = map[string]bool{
	"eq": true, "ne": true, "gt": true, "gte": true, "lt": true, "lte": true,
	"len": true, "contains": true, "regex": true, "exists": true,
}

func isOperatorMap(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !operators[k] {
			return false
		}
	}
	return true
}

// evaluateOperators processes operator assertions in a fixed order.
func evaluateOperators(path string, results []any, ops map[string]any) error {
	for _, op := range sortedKeys(ops) {
		expected := ops[op]
		fail := func(actual any, detail string) error {
			return &ExpectationError{Check: "body", Path: path, Expected: fmt.Sprintf("%s %s", op, Stringify(expected)), Actual: actual, Detail: detail}
		}

		if op == "exists" {
			want, ok := expected.(bool)
			if !ok {
				return fail(nil, "'exists' operator requires a boolean value")
			}
			if want && len(results) == 0 {
				return fail(nil, "")
			}
			if !want && len(results) > 0 {
				return fail(results[0], "")
			}
			continue
		}

		if len(results) == 0 {
			return fail(nil, "no match found")
		}
		actual := results[0]

		switch op {
		case "eq":
			if !matchesExact(normalize(expected), actual) {
				return fail(actual, "")
			}
		case "ne":
			if matchesExact(normalize(expected), actual) {
				return fail(actual, "")
			}
		case "gt", "gte", "lt", "lte":
			a, err := toFloat64(actual)
			if err != nil {
				return fail(actual, "requires a numeric actual value")
			}
			e, err := toFloat64(expected)
			if err != nil {
				return fail(actual, "requires a numeric expected value")
			}
			if !compare(op, a, e) {
				return fail(actual, "")
			}
		case "len":
			n, ok := length(actual)
			if !ok {
				return fail(actual, "value has no length")
			}
			e, err := toFloat64(expected)
			if err != nil {
				return fail(actual, "'len' requires a numeric expected value")
			}
			if float64(n) != e {
				return fail(n, "")
			}
		case "contains":
			if arr, ok := actual.([]any); ok {
				if !containsMatch(arr, normalize(expected)) {
					return fail(actual, "")
				}
				continue
			}
			if !strings.Contains(Stringify(actual), Stringify(expected)) {
				return fail(actual, "")
			}
		case "regex":
			pattern, ok := expected.(string)
			if !ok {
				return fail(actual, "'regex' operator requires a string pattern")
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return fail(actual, fmt.Sprintf("invalid regex pattern: %v", err))
			}
			if !re.MatchString(Stringify(actual)) {
				return fail(actual, "")
			}
		}
	}
	return nil
}

func compare(op string, a, e float64) bool {
	switch op {
	case "gt":
		return a > e
	case "gte":
		return a >= e
	case "lt":
		return a < e
	default:
		return a <= e
	}
}

func length(v any) (int, bool) {
	switch t := v.(type) {
	case string:
		return len(t), true
	case []any:
		return len(t), true
	case map[string]any:
		return len(t), true
	default:
		return 0, false
	}
}

// matches reports whether actual contains expected: objects may carry extra
// keys, arrays must match element by element, scalars compare by value.
func matches(expected, actual any) bool {
	switch e := expected.(type) {
	case map[string]any:
		a, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, ev := range e {
			av, ok := a[k]
			if !ok || !matches(ev, av) {
				return false
			}
		}
		return true
	case []any:
		a, ok := actual.([]any)
		if !ok || len(a) != len(e) {
			return false
		}
		for i := range e {
			if !matches(e[i], a[i]) {
				return false
			}
		}
		return true
	default:
		return valuesEqual(actual, expected)
	}
}

// matchesExact is full structural equality with numeric coercion.
func matchesExact(expected, actual any) bool {
	switch e := expected.(type) {
	case map[string]any:
		a, ok := actual.(map[string]any)
		if !ok || len(a) != len(e) {
			return false
		}
		for k, ev := range e {
			av, ok := a[k]
			if !ok || !matchesExact(ev, av) {
				return false
			}
		}
		return true
	case []any:
		a, ok := actual.([]any)
		if !ok || len(a) != len(e) {
			return false
		}
		for i := range e {
			if !matchesExact(e[i], a[i]) {
				return false
			}
		}
		return true
	default:
		return valuesEqual(actual, expected)
	}
}

func containsMatch(arr []any, item any) bool {
	for _, el := range arr {
		if matches(item, el) {
			return true
		}
	}
	return false
}

// pick trims actual down to the keys present in expected so diffs stay readable.
func pick(expected, actual any) any {
	e, ok := expected.(map[string]any)
	if !ok {
		return actual
	}
	a, ok := actual.(map[string]any)
	if !ok {
		return actual
	}
	out := make(map[string]any, len(e))
	for k, ev := range e {
		if av, ok := a[k]; ok {
			out[k] = pick(ev, av)
		}
	}
	return out
}

// normalize converts Go values (ints, typed maps, fixtures) into the shapes
// encoding/json produces, so they compare cleanly with decoded responses.
func normalize(v any) any {
	switch v.(type) {
	case nil, string, bool, float64:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// valuesEqual compares two values for equality, handling numeric type coercion.
// Values must be the same kind (both numeric or both non-numeric) to be equal.
func valuesEqual(actual, expected any) bool {
	actualNum, aErr := toFloat64(actual)
	expectedNum, eErr := toFloat64(expected)

	if aErr == nil && eErr == nil {
		return actualNum == expectedNum
	}
	if (aErr == nil) != (eErr == nil) {
		return false
	}
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}
	if reflect.TypeOf(actual) != reflect.TypeOf(expected) {
		return false
	}
	return fmt.Sprintf("%v", actual) == fmt.Sprintf("%v", expected)
}

// toFloat64 converts a numeric value to float64.
func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("value %v (%T) is not numeric", v, v)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
