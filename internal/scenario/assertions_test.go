package scenario

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/wondertwin-ai/contractkit/internal/httpclient"
	"github.com/wondertwin-ai/contractkit/internal/jsonpath"
)

func jsonResponse(t *testing.T, status int, body string) *httpclient.Response {
	t.Helper()
	resp := &httpclient.Response{
		StatusCode: status,
		StatusText: http.StatusText(status),
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
		Body:       []byte(body),
	}
	if doc, err := jsonpath.Parse([]byte(body)); err == nil {
		resp.JSON = doc
	}
	return resp
}

func TestEvaluate_BodyExactValue(t *testing.T) {
	resp := jsonResponse(t, 200, `{"status": "ok", "count": 42, "name": "test", "booking": {"firstname": "Sally", "depositpaid": true}}`)

	tests := []struct {
		name       string
		assertions map[string]any
		wantErr    bool
	}{
		{name: "string match", assertions: map[string]any{"$.status": "ok"}},
		{name: "numeric match", assertions: map[string]any{"$.count": float64(42)}},
		{name: "int against float", assertions: map[string]any{"$.count": 42}},
		{name: "bool match", assertions: map[string]any{"$.booking.depositpaid": true}},
		{name: "string mismatch", assertions: map[string]any{"$.status": "error"}, wantErr: true},
		{name: "number vs string", assertions: map[string]any{"$.count": "42"}, wantErr: true},
		{name: "bool vs string", assertions: map[string]any{"$.booking.depositpaid": "true"}, wantErr: true},
		{name: "missing field", assertions: map[string]any{"$.missing": "value"}, wantErr: true},
		{name: "whole object", assertions: map[string]any{"$.booking": map[string]any{"firstname": "Sally", "depositpaid": true}}},
		{name: "object missing key", assertions: map[string]any{"$.booking": map[string]any{"firstname": "Sally"}}, wantErr: true},
		{name: "whole document", assertions: map[string]any{"$": map[string]any{"status": "ok", "count": 42, "name": "test", "booking": map[string]any{"firstname": "Sally", "depositpaid": true}}}},
		{name: "nested extra key", assertions: map[string]any{"$": map[string]any{"status": "ok", "count": 42, "name": "test", "booking": map[string]any{"firstname": "Sally"}}}, wantErr: true},
		{name: "multiple assertions pass", assertions: map[string]any{"$.status": "ok", "$.name": "test"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Evaluate(&Expect{Body: tt.assertions}, resp)
			if (err != nil) != tt.wantErr {
				t.Errorf("Evaluate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEvaluate_BodyOperators(t *testing.T) {
	resp := jsonResponse(t, 200, `{"bookingid": 12, "token": "abcdefghijklmno", "items": [1, 2, 3], "name": "Jim Brown", "reason": null}`)

	tests := []struct {
		name    string
		ops     map[string]any
		path    string
		wantErr bool
	}{
		{name: "eq", path: "$.bookingid", ops: map[string]any{"eq": float64(12)}},
		{name: "eq mismatch", path: "$.bookingid", ops: map[string]any{"eq": 13}, wantErr: true},
		{name: "ne", path: "$.bookingid", ops: map[string]any{"ne": 0}},
		{name: "ne equal", path: "$.bookingid", ops: map[string]any{"ne": 12}, wantErr: true},
		{name: "gt", path: "$.bookingid", ops: map[string]any{"gt": 0}},
		{name: "gt boundary", path: "$.bookingid", ops: map[string]any{"gt": 12}, wantErr: true},
		{name: "gte boundary", path: "$.bookingid", ops: map[string]any{"gte": 12}},
		{name: "lt", path: "$.bookingid", ops: map[string]any{"lt": 13}},
		{name: "lte fail", path: "$.bookingid", ops: map[string]any{"lte": 11}, wantErr: true},
		{name: "range", path: "$.bookingid", ops: map[string]any{"gte": 0, "lte": 999}},
		{name: "gt non-numeric", path: "$.token", ops: map[string]any{"gt": 1}, wantErr: true},
		{name: "len string", path: "$.token", ops: map[string]any{"len": 15}},
		{name: "len wrong", path: "$.token", ops: map[string]any{"len": 14}, wantErr: true},
		{name: "len array", path: "$.items", ops: map[string]any{"len": 3}},
		{name: "len number", path: "$.bookingid", ops: map[string]any{"len": 2}, wantErr: true},
		{name: "contains substring", path: "$.name", ops: map[string]any{"contains": "Brown"}},
		{name: "contains missing substring", path: "$.name", ops: map[string]any{"contains": "Smith"}, wantErr: true},
		{name: "contains element", path: "$.items", ops: map[string]any{"contains": 2}},
		{name: "contains no element", path: "$.items", ops: map[string]any{"contains": 9}, wantErr: true},
		{name: "regex", path: "$.token", ops: map[string]any{"regex": "^[a-z]{15}$"}},
		{name: "regex mismatch", path: "$.token", ops: map[string]any{"regex": "^[0-9]+$"}, wantErr: true},
		{name: "regex invalid", path: "$.token", ops: map[string]any{"regex": "("}, wantErr: true},
		{name: "exists true", path: "$.token", ops: map[string]any{"exists": true}},
		{name: "exists null value", path: "$.reason", ops: map[string]any{"exists": true}},
		{name: "exists false", path: "$.missing", ops: map[string]any{"exists": false}},
		{name: "exists false but present", path: "$.token", ops: map[string]any{"exists": false}, wantErr: true},
		{name: "exists non-bool", path: "$.token", ops: map[string]any{"exists": "yes"}, wantErr: true},
		{name: "operator on missing", path: "$.missing", ops: map[string]any{"gt": 0}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Evaluate(&Expect{Body: map[string]any{tt.path: tt.ops}}, resp)
			if (err != nil) != tt.wantErr {
				t.Errorf("Evaluate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEvaluate_BodyNotJSON(t *testing.T) {
	err := Evaluate(&Expect{Body: map[string]any{"$.x": 1}}, jsonResponse(t, 201, "Created"))
	var ee *ExpectationError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExpectationError, got %v", err)
	}
	if ee.Check != "body" || ee.Actual != "Created" {
		t.Errorf("unexpected error: %+v", ee)
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc..."},
		{"héllo", 2, "h..."},
		{"日本語", 4, "日..."},
		{"日本語", 6, "日本..."},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8 %q", tt.in, tt.n, got)
		}
	}
}

func TestEvaluate_StatusChecks(t *testing.T) {
	created := &httpclient.Response{StatusCode: 201, StatusText: "Created", Body: []byte("Created")}
	notFound := &httpclient.Response{StatusCode: 404, StatusText: "Not Found", Body: []byte("Not Found")}

	tests := []struct {
		name      string
		exp       *Expect
		resp      *httpclient.Response
		wantCheck string
	}{
		{name: "nil expect", exp: nil, resp: notFound},
		{name: "status ok", exp: &Expect{Status: 201, StatusText: "Created"}, resp: created},
		{name: "status mismatch", exp: &Expect{Status: 200}, resp: created, wantCheck: "status"},
		{name: "status text mismatch", exp: &Expect{StatusText: "OK"}, resp: created, wantCheck: "status_text"},
		{name: "success", exp: &Expect{Success: Bool(true)}, resp: created},
		{name: "expected failure", exp: &Expect{Success: Bool(false)}, resp: notFound},
		{name: "unexpected failure", exp: &Expect{Success: Bool(true)}, resp: notFound, wantCheck: "success"},
		{name: "unexpected success", exp: &Expect{Success: Bool(false)}, resp: created, wantCheck: "success"},
		{name: "body contains", exp: &Expect{BodyContains: "Not Found"}, resp: notFound},
		{name: "body missing text", exp: &Expect{BodyContains: "Gone"}, resp: notFound, wantCheck: "body_contains"},
		{name: "json needed", exp: &Expect{Fields: []string{"$.id"}}, resp: created, wantCheck: "body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Evaluate(tt.exp, tt.resp)
			if tt.wantCheck == "" {
				if err != nil {
					t.Fatalf("Evaluate() unexpected error: %v", err)
				}
				return
			}
			var ee *ExpectationError
			if !errors.As(err, &ee) {
				t.Fatalf("expected ExpectationError, got %v", err)
			}
			if ee.Check != tt.wantCheck {
				t.Errorf("check = %q, want %q (%v)", ee.Check, tt.wantCheck, err)
			}
		})
	}
}

func TestEvaluate_HeadersAndFields(t *testing.T) {
	resp := jsonResponse(t, 200, `{"bookingid": 1, "booking": {"firstname": "Jim"}}`)

	if err := Evaluate(&Expect{Headers: map[string]string{"Content-Type": "application/json"}}, resp); err != nil {
		t.Errorf("header check failed: %v", err)
	}
	err := Evaluate(&Expect{Headers: map[string]string{"Content-Type": "text/plain"}}, resp)
	var ee *ExpectationError
	if !errors.As(err, &ee) || ee.Check != "header" || ee.Path != "Content-Type" {
		t.Errorf("expected header failure, got %v", err)
	}

	if err := Evaluate(&Expect{Fields: []string{"$.bookingid", "$.booking.firstname"}}, resp); err != nil {
		t.Errorf("fields check failed: %v", err)
	}
	err = Evaluate(&Expect{Fields: []string{"$.bookingid", "$.booking.lastname"}}, resp)
	if !errors.As(err, &ee) || ee.Check != "field" || ee.Path != "$.booking.lastname" {
		t.Errorf("expected field failure for lastname, got %v", err)
	}
}

func TestEvaluate_Subset(t *testing.T) {
	resp := jsonResponse(t, 200, `{"bookingid": 7, "booking": {"firstname": "Jim", "lastname": "Brown", "totalprice": 111,
		"depositpaid": true, "bookingdates": {"checkin": "2018-01-01", "checkout": "2019-01-01"}, "additionalneeds": "Breakfast"}}`)

	// Fixtures carry Go ints; the subset check must coerce them.
	expected := map[string]any{
		"firstname":    "Jim",
		"totalprice":   111,
		"bookingdates": map[string]any{"checkin": "2018-01-01"},
	}
	if err := Evaluate(&Expect{Subset: map[string]any{"$.booking": expected}}, resp); err != nil {
		t.Fatalf("subset should match: %v", err)
	}

	wrong := map[string]any{"firstname": "Jim", "bookingdates": map[string]any{"checkin": "2020-01-01"}}
	err := Evaluate(&Expect{Subset: map[string]any{"$.booking": wrong}}, resp)
	var ee *ExpectationError
	if !errors.As(err, &ee) || ee.Check != "subset" {
		t.Fatalf("expected subset failure, got %v", err)
	}
	if !strings.Contains(ee.Detail, "2020-01-01") || !strings.Contains(ee.Detail, "2018-01-01") {
		t.Errorf("diff should show both dates, got:\n%s", ee.Detail)
	}
	if strings.Contains(ee.Detail, "Breakfast") {
		t.Errorf("diff should be limited to expected keys, got:\n%s", ee.Detail)
	}

	err = Evaluate(&Expect{Subset: map[string]any{"$.missing": map[string]any{}}}, resp)
	if !errors.As(err, &ee) || ee.Check != "subset" {
		t.Errorf("expected subset failure for missing path, got %v", err)
	}
}

func TestEvaluate_Contains(t *testing.T) {
	resp := jsonResponse(t, 200, `[{"bookingid": 1}, {"bookingid": 5}, {"bookingid": 9}]`)

	if err := Evaluate(&Expect{Contains: []Membership{{Path: "$", Item: map[string]any{"bookingid": 5}}}}, resp); err != nil {
		t.Errorf("membership should hold: %v", err)
	}

	err := Evaluate(&Expect{Contains: []Membership{{Path: "$", Item: map[string]any{"bookingid": 6}}}}, resp)
	var ee *ExpectationError
	if !errors.As(err, &ee) || ee.Check != "contains" {
		t.Errorf("expected contains failure, got %v", err)
	}

	obj := jsonResponse(t, 200, `{"bookingid": 1}`)
	err = Evaluate(&Expect{Contains: []Membership{{Path: "$.bookingid", Item: 1}}}, obj)
	if !errors.As(err, &ee) || ee.Check != "contains" {
		t.Errorf("expected contains failure on non-array, got %v", err)
	}
}

func TestEvaluate_FirstFailureOrder(t *testing.T) {
	resp := jsonResponse(t, 404, `{"message": "Not Found"}`)
	err := Evaluate(&Expect{
		Status: 201,
		Body:   map[string]any{"$.message": "nope"},
	}, resp)
	var ee *ExpectationError
	if !errors.As(err, &ee) || ee.Check != "status" {
		t.Fatalf("status must be checked first, got %v", err)
	}
	if ee.Expected != 201 || ee.Actual != 404 {
		t.Errorf("expected/actual = %v/%v", ee.Expected, ee.Actual)
	}
	if !strings.Contains(err.Error(), "expected 201, got 404") {
		t.Errorf("error text = %q", err.Error())
	}
}

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		a, b any
		want bool
	}{
		{float64(1), 1, true},
		{int64(3), float64(3), true},
		{"a", "a", true},
		{"1", 1, false},
		{true, true, true},
		{true, "true", false},
		{nil, nil, true},
		{nil, "x", false},
	}
	for _, tt := range tests {
		if got := valuesEqual(tt.a, tt.b); got != tt.want {
			t.Errorf("valuesEqual(%#v, %#v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
