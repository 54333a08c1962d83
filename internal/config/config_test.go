package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	t.Setenv("BOOKING_BASE_URL", "")
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error: %v", err)
	}

	booking, ok := cfg.Targets["booking"]
	if !ok {
		t.Fatal("expected a booking target")
	}
	if booking.BaseURL != "https://restful-booker.herokuapp.com" {
		t.Errorf("unexpected booking base url: %q", booking.BaseURL)
	}
	if booking.Timeout != 10*time.Second {
		t.Errorf("expected 10s timeout, got %v", booking.Timeout)
	}
	if booking.Auth == nil || booking.Auth.TokenLength != 15 || booking.Auth.Style != "cookie" {
		t.Errorf("unexpected booking auth: %+v", booking.Auth)
	}

	issues := cfg.Targets["issues"]
	if issues.Headers["Accept"] != "application/vnd.github.v3+json" {
		t.Errorf("unexpected issues headers: %v", issues.Headers)
	}
	if issues.Auth == nil || issues.Auth.Scheme != "token" {
		t.Errorf("unexpected issues auth: %+v", issues.Auth)
	}
	if !cfg.Suite.Catalog || cfg.Suite.Parallel != 1 {
		t.Errorf("unexpected suite defaults: %+v", cfg.Suite)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestDefaultUsesEnvironment(t *testing.T) {
	t.Setenv("API_TOKEN", "ghp_example")
	t.Setenv("BOOKING_BASE_URL", "http://localhost:9001")

	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error: %v", err)
	}
	if got := cfg.Targets["issues"].Auth.Token; got != "ghp_example" {
		t.Errorf("expected token from env, got %q", got)
	}
	if got := cfg.Targets["booking"].BaseURL; got != "http://localhost:9001" {
		t.Errorf("expected base url from env, got %q", got)
	}
}

func TestEnvValuesAreNotYAML(t *testing.T) {
	tests := map[string]string{
		"comment marker": "s3cret #42",
		"mapping marker": "p@ss: word",
		"flow sequence":  "[not, a, list]",
		"quote":          `say "hi"`,
	}
	for name, password := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv("BOOKING_PASSWORD", password)
			t.Setenv("LOCAL_SECRET", password)

			cfg, err := Parse([]byte("targets:\n  local:\n    base_url: http://h\n    vars:\n      secret: ${LOCAL_SECRET}\n"))
			if err != nil {
				t.Fatalf("Parse() error: %v", err)
			}
			if got := cfg.Targets["booking"].Auth.Payload["password"]; got != password {
				t.Errorf("default payload password = %#v, want %q", got, password)
			}
			if got := cfg.Targets["local"].Vars["secret"]; got != password {
				t.Errorf("file var = %#v, want %q", got, password)
			}
		})
	}
}

func TestExpandedScalarsKeepTheirType(t *testing.T) {
	t.Setenv("CK_TEST_TIMEOUT", "3s")
	t.Setenv("CK_TEST_RATE", "5")
	cfg, err := Parse([]byte(`
targets:
  local:
    base_url: http://h
    timeout: ${CK_TEST_TIMEOUT}
    rate_limit: ${CK_TEST_RATE}
    vars:
      quoted: "${CK_TEST_RATE}"
`))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	local := cfg.Targets["local"]
	if local.Timeout != 3*time.Second || local.RateLimit != 5 {
		t.Errorf("unexpected timeout/rate: %v %v", local.Timeout, local.RateLimit)
	}
	if got := local.Vars["quoted"]; got != "5" {
		t.Errorf("quoted reference should stay a string, got %#v", got)
	}
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) error: %v", err)
	}
	if len(cfg.Targets) != 2 {
		t.Errorf("expected the default targets, got %d", len(cfg.Targets))
	}
}

func TestParseMergesOverDefaults(t *testing.T) {
	t.Setenv("LOCAL_TOKEN", "abc")
	cfg, err := Parse([]byte(`
targets:
  local:
    base_url: http://localhost:8080
    rate_limit: 5
    auth:
      kind: static
      token: ${LOCAL_TOKEN}
suite:
  parallel: 4
  enable: [repository lifecycle]
report:
  format: junit
  output: report.xml
`))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(cfg.Targets) != 3 {
		t.Errorf("expected default targets plus local, got %d", len(cfg.Targets))
	}
	if cfg.Targets["local"].Auth.Token != "abc" {
		t.Errorf("expected expanded token, got %q", cfg.Targets["local"].Auth.Token)
	}
	if cfg.Suite.Parallel != 4 || !cfg.Suite.Catalog {
		t.Errorf("expected parallel 4 with catalog kept, got %+v", cfg.Suite)
	}
	if cfg.Report.Format != "junit" || cfg.Logging.Level != "info" {
		t.Errorf("unexpected report/logging: %+v %+v", cfg.Report, cfg.Logging)
	}
}

func TestParseReplacesNamedTarget(t *testing.T) {
	cfg, err := Parse([]byte(`
targets:
  booking:
    base_url: http://127.0.0.1:9001
`))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if cfg.Targets["booking"].Auth != nil {
		t.Error("a target named in the file should replace the default entirely")
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"relative base url": "targets:\n  x:\n    base_url: /api\n",
		"unknown auth kind": "targets:\n  x:\n    base_url: http://h\n    auth:\n      kind: oauth\n",
		"unknown style":     "targets:\n  x:\n    base_url: http://h\n    auth:\n      kind: static\n      style: query\n",
		"login no endpoint": "targets:\n  x:\n    base_url: http://h\n    auth:\n      kind: login\n",
		"negative parallel": "suite:\n  parallel: -1\n",
		"bad format":        "report:\n  format: html\n",
		"bad level":         "logging:\n  level: loud\n",
		"bad sampling":      "telemetry:\n  sampling_ratio: 2\n",
		"bad yaml":          "targets: [",
	}
	for name, content := range tests {
		if _, err := Parse([]byte(content)); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestExpandEnv(t *testing.T) {
	lookup := func(k string) (string, bool) {
		v, ok := map[string]string{"HOST": "example.com", "EMPTY": ""}[k]
		return v, ok
	}
	tests := []struct{ in, want string }{
		{"https://${HOST}/api", "https://example.com/api"},
		{"${MISSING}", ""},
		{"${MISSING:-fallback}", "fallback"},
		{"${EMPTY:-fallback}", "fallback"},
		{"$.token", "$.token"},
		{"$HOST", "$HOST"},
	}
	for _, tt := range tests {
		if got := ExpandEnv(tt.in, lookup); got != tt.want {
			t.Errorf("ExpandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ck.yaml")
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("CK_TEST_BASE=http://from-dotenv:1234\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("targets:\n  local:\n    base_url: ${CK_TEST_BASE}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("CK_TEST_BASE") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := cfg.Targets["local"].BaseURL; got != "http://from-dotenv:1234" {
		t.Errorf("expected base url from .env, got %q", got)
	}
}

func TestLoadMissing(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "nope.yaml")); err == nil {
		t.Error("expected an error for a missing explicit config")
	}

	t.Chdir(dir)
	t.Setenv(EnvConfig, "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if _, ok := cfg.Targets["booking"]; !ok {
		t.Error("expected built-in defaults when no ck.yaml exists")
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfig, "/etc/ck.yaml")
	if p, explicit := ResolvePath(""); p != "/etc/ck.yaml" || !explicit {
		t.Errorf("expected env path, got %q %v", p, explicit)
	}
	if p, _ := ResolvePath("mine.yaml"); p != "mine.yaml" {
		t.Errorf("expected explicit path, got %q", p)
	}
	t.Setenv(EnvConfig, "")
	if p, explicit := ResolvePath(""); p != DefaultConfigFile || explicit {
		t.Errorf("expected default path, got %q %v", p, explicit)
	}
}

func TestSessionConfig(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error: %v", err)
	}

	sc, ok := cfg.Targets["booking"].SessionConfig("booking")
	if !ok {
		t.Fatal("expected a session for booking")
	}
	if sc.Name != "booking" || sc.Endpoint != "/auth" || sc.Payload["username"] == nil {
		t.Errorf("unexpected session config: %+v", sc)
	}
	if _, ok := (TargetConfig{BaseURL: "http://h"}).SessionConfig("x"); ok {
		t.Error("expected no session without auth")
	}

	if got := cfg.SetupSessions(); len(got) != 1 || got[0] != "booking" {
		t.Errorf("expected booking as the only setup session, got %v", got)
	}

	opts := cfg.Targets["issues"].ClientOptions()
	if opts.Headers["Accept"] == "" || opts.Timeout != 10*time.Second {
		t.Errorf("unexpected client options: %+v", opts)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ck.yaml")
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error: %v", err)
	}
	cfg.Suite.Parallel = 3
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "parallel: 3") {
		t.Errorf("expected saved parallel, got:\n%s", data)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error on saved file: %v", err)
	}
	if loaded.Suite.Parallel != 3 {
		t.Errorf("expected parallel 3, got %d", loaded.Suite.Parallel)
	}
}

func TestTemplateKeepsReferences(t *testing.T) {
	t.Setenv("API_TOKEN", "ghp_secret")
	data := string(Template())
	if strings.Contains(data, "ghp_secret") {
		t.Error("template must not expand environment references")
	}
	if !strings.Contains(data, "${API_TOKEN}") {
		t.Errorf("expected the API_TOKEN reference, got:\n%s", data)
	}
	cfg, err := Parse(Template())
	if err != nil {
		t.Fatalf("Parse(Template()) error: %v", err)
	}
	if cfg.Targets["issues"].Auth.Token != "ghp_secret" {
		t.Errorf("expected the token to expand on load, got %q", cfg.Targets["issues"].Auth.Token)
	}
}
