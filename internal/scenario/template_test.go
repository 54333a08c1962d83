package scenario

import (
	"reflect"
	"testing"

	"github.com/wondertwin-ai/contractkit/internal/fixture"
)

func testScope(t *testing.T) *Scope {
	t.Helper()
	f, err := fixture.NewSeeded(7).Generate(fixture.Schema{Name: "booking", Fields: []fixture.Field{
		{Name: "firstname", Kind: fixture.KindConst, Value: "Sally"},
		{Name: "totalprice", Kind: fixture.KindInt, Min: 111, Max: 111},
		{Name: "bookingdates", Kind: fixture.KindObject, Fields: []fixture.Field{
			{Name: "checkin", Kind: fixture.KindConst, Value: "2024-01-01"},
		}},
	}})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	return &Scope{
		Vars: map[string]any{
			"bookingid": float64(1000000),
			"owner":     "octocat",
			"created":   map[string]any{"number": float64(42)},
		},
		Fixtures: map[string]fixture.Fixture{"booking": f},
		BaseURLs: map[string]string{"booking": "http://localhost:4111"},
		Credentials: func(name string) (string, error) {
			return "tok-" + name, nil
		},
		LookupEnv: func(key string) (string, bool) {
			if key == "API_TOKEN" {
				return "ghp_secret", true
			}
			return "", false
		},
	}
}

func TestExpandString(t *testing.T) {
	sc := testScope(t)

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "captured number", input: "/booking/{{bookingid}}", want: "/booking/1000000"},
		{name: "nested capture", input: "/repos/{{owner}}/x/issues/{{created.number}}", want: "/repos/octocat/x/issues/42"},
		{name: "env", input: "token {{env.API_TOKEN}}", want: "token ghp_secret"},
		{name: "unset env", input: "[{{env.NOT_SET}}]", want: "[]"},
		{name: "fixture field", input: "{{fixture.booking.firstname}} in {{fixture.booking.bookingdates.checkin}}", want: "Sally in 2024-01-01"},
		{name: "credential", input: "token={{credential.booking}}", want: "token=tok-booking"},
		{name: "target base url", input: "{{targets.booking.base_url}}/ping", want: "http://localhost:4111/ping"},
		{name: "spaces", input: "{{ owner }}", want: "octocat"},
		{name: "no templates", input: "/booking", want: "/booking"},
		{name: "unresolved", input: "{{missing}}", wantErr: true},
		{name: "unterminated", input: "{{owner", wantErr: true},
		{name: "unknown fixture", input: "{{fixture.nope}}", wantErr: true},
		{name: "unknown fixture field", input: "{{fixture.booking.nope}}", wantErr: true},
		{name: "unknown target", input: "{{targets.nope.base_url}}", wantErr: true},
		{name: "bad target field", input: "{{targets.booking.port}}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sc.ExpandString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExpandString() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ExpandString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExpand_TypedPlaceholders(t *testing.T) {
	sc := testScope(t)

	body := map[string]any{
		"id":      "{{bookingid}}",
		"label":   "booking {{bookingid}}",
		"booking": "{{fixture.booking}}",
		"price":   "{{fixture.booking.totalprice}}",
		"list":    []any{"{{owner}}", float64(1), true},
	}

	got, err := sc.Expand(body)
	if err != nil {
		t.Fatalf("Expand() error: %v", err)
	}
	m := got.(map[string]any)

	if m["id"] != float64(1000000) {
		t.Errorf("id = %#v, want float64 1000000", m["id"])
	}
	if m["label"] != "booking 1000000" {
		t.Errorf("label = %q", m["label"])
	}
	if m["price"] != 111 {
		t.Errorf("price = %#v, want int 111", m["price"])
	}
	booking, ok := m["booking"].(map[string]any)
	if !ok || booking["firstname"] != "Sally" {
		t.Errorf("booking = %#v, want the fixture object", m["booking"])
	}
	if !reflect.DeepEqual(m["list"], []any{"octocat", float64(1), true}) {
		t.Errorf("list = %#v", m["list"])
	}

	// The source body must not be modified.
	if body["id"] != "{{bookingid}}" {
		t.Errorf("Expand mutated its input: %v", body["id"])
	}
}

func TestStringify(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{float64(1e6), "1000000"},
		{float64(12.5), "12.5"},
		{7, "7"},
		{true, "true"},
		{nil, ""},
		{map[string]any{"a": float64(1)}, `{"a":1}`},
		{[]any{"x"}, `["x"]`},
	}
	for _, tt := range tests {
		if got := Stringify(tt.in); got != tt.want {
			t.Errorf("Stringify(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
