// Package config loads the ck configuration file, ck.yaml by default.
//
// Built-in defaults describe the public booking and issues services. A file
// merges over them: a target it names replaces the default target of the
// same name, sections it omits keep their defaults. ${VAR} and
// ${VAR:-fallback} references in scalar values are expanded from the
// environment after parsing, so an expanded value is never read as YAML. An
// optional .env file next to the config is loaded first.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/wondertwin-ai/contractkit/internal/httpclient"
	"github.com/wondertwin-ai/contractkit/internal/logging"
	"github.com/wondertwin-ai/contractkit/internal/metrics"
	"github.com/wondertwin-ai/contractkit/internal/session"
	"github.com/wondertwin-ai/contractkit/internal/telemetry"
)

// DefaultConfigFile is looked up in the working directory when no path is given.
const DefaultConfigFile = "ck.yaml"

// EnvConfig names the environment variable that overrides the config path.
const EnvConfig = "CK_CONFIG"

// Config is the contents of ck.yaml.
type Config struct {
	Targets   map[string]TargetConfig `yaml:"targets"`
	Suite     SuiteConfig             `yaml:"suite"`
	Logging   logging.Config          `yaml:"logging"`
	Metrics   metrics.Config          `yaml:"metrics"`
	Telemetry telemetry.Config        `yaml:"telemetry"`
	Report    ReportConfig            `yaml:"report"`
}

// TargetConfig describes one service under test.
type TargetConfig struct {
	BaseURL   string            `yaml:"base_url"`
	Timeout   time.Duration     `yaml:"timeout"`
	RateLimit float64           `yaml:"rate_limit"` // requests per second, unlimited when 0
	Burst     int               `yaml:"burst"`
	Headers   map[string]string `yaml:"headers"`
	Vars      map[string]any    `yaml:"vars"`
	Auth      *AuthConfig       `yaml:"auth"`
}

// AuthConfig describes how the target's session obtains and attaches a credential.
type AuthConfig struct {
	Kind            string         `yaml:"kind"` // login or static
	Endpoint        string         `yaml:"endpoint"`
	Payload         map[string]any `yaml:"payload"`
	Token           string         `yaml:"token"`
	TokenPath       string         `yaml:"token_path"`
	TokenLength     int            `yaml:"token_length"`
	Style           string         `yaml:"style"` // cookie, bearer or header
	CookieName      string         `yaml:"cookie_name"`
	Header          string         `yaml:"header"`
	Scheme          string         `yaml:"scheme"`
	FailureStatuses []int          `yaml:"failure_statuses"`
	Setup           bool           `yaml:"setup"` // acquire before any scenario runs
}

// SuiteConfig selects and schedules scenarios.
type SuiteConfig struct {
	Parallel     int      `yaml:"parallel"`
	Catalog      bool     `yaml:"catalog"`       // include the built-in catalogs
	ScenarioDirs []string `yaml:"scenario_dirs"` // extra YAML/JSON scenario directories
	Only         []string `yaml:"only"`          // run just these scenarios, by name
	Enable       []string `yaml:"enable"`        // force disabled scenarios on
	Disable      []string `yaml:"disable"`       // force scenarios off
	Tags         []string `yaml:"tags"`          // run scenarios carrying any of these tags
}

// ReportConfig selects the report format and destination.
type ReportConfig struct {
	Format string `yaml:"format"` // text, json or junit
	Output string `yaml:"output"` // file path, stdout when empty
}

const defaultYAML = `
targets:
  booking:
    base_url: ${BOOKING_BASE_URL:-https://restful-booker.herokuapp.com}
    timeout: 10s
    vars:
      username: "${BOOKING_USERNAME:-admin}"
      password: "${BOOKING_PASSWORD:-password123}"
    auth:
      kind: login
      endpoint: /auth
      payload:
        username: "${BOOKING_USERNAME:-admin}"
        password: "${BOOKING_PASSWORD:-password123}"
      token_length: 15
      style: cookie
      cookie_name: token
      setup: true
  issues:
    base_url: ${ISSUES_BASE_URL:-https://api.github.com}
    timeout: 10s
    headers:
      Accept: application/vnd.github.v3+json
    vars:
      owner: "${GITHUB_OWNER:-octocat}"
      repo: "${GITHUB_REPO:-hello-world}"
    auth:
      kind: static
      token: "${API_TOKEN}"
      style: header
      header: Authorization
      scheme: token
suite:
  parallel: 1
  catalog: true
logging:
  level: info
  format: console
  output: stderr
telemetry:
  enabled: false
  endpoint: localhost:4318
  insecure: true
  sampling_ratio: 1.0
  service_name: contractkit
report:
  format: text
`

// Template returns the built-in configuration as YAML with its ${VAR}
// references unexpanded, so a written file never captures secrets.
func Template() []byte {
	return []byte(defaultYAML[1:])
}

// Default returns the built-in configuration with the environment applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := decode([]byte(defaultYAML), cfg); err != nil {
		return nil, fmt.Errorf("config: built-in defaults: %w", err)
	}
	return cfg, nil
}

// ResolvePath picks the config path: the explicit path, then $CK_CONFIG,
// then ck.yaml. The second result reports whether the path was asked for.
func ResolvePath(path string) (string, bool) {
	if path != "" {
		return path, true
	}
	if env := os.Getenv(EnvConfig); env != "" {
		return env, true
	}
	return DefaultConfigFile, false
}

// Load reads the config at path (see ResolvePath). A missing default file
// yields the built-in configuration; a missing explicit file is an error.
func Load(path string) (*Config, error) {
	path, explicit := ResolvePath(path)

	if err := LoadEnvFile(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			cfg, err := Default()
			if err != nil {
				return nil, err
			}
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse merges data over the defaults, then validates.
func Parse(data []byte) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if err := decode(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile loads path into the environment if it exists. Variables
// already set win over the file.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("checking env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// decode parses data, expands environment references in its scalars and
// decodes the result over cfg.
func decode(data []byte, cfg *Config) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Kind == 0 {
		return nil
	}
	expandNode(&doc, os.LookupEnv)
	return doc.Decode(cfg)
}

// expandNode rewrites scalar values in place. An unquoted scalar that
// changed loses its resolved tag so "10s" or "5" still decode as durations
// and numbers; quoted scalars stay strings.
func expandNode(n *yaml.Node, lookup func(string) (string, bool)) {
	switch n.Kind {
	case yaml.ScalarNode:
		v := ExpandEnv(n.Value, lookup)
		if v == n.Value {
			return
		}
		n.Value = v
		if n.Style&(yaml.TaggedStyle|yaml.SingleQuotedStyle|yaml.DoubleQuotedStyle) == 0 {
			n.Tag = ""
		}
	case yaml.AliasNode:
		// the anchor is expanded where it is defined
	default:
		for _, c := range n.Content {
			expandNode(c, lookup)
		}
	}
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-fallback}. Unset variables without a
// fallback expand to the empty string; other $ sequences are left alone.
func ExpandEnv(s string, lookup func(string) (string, bool)) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v, ok := lookup(m[1]); ok && v != "" {
			return v
		}
		return m[2]
	})
}

// Validate checks every section.
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return errors.New("config: at least one target is required")
	}
	for name, t := range c.Targets {
		if err := t.validate(); err != nil {
			return fmt.Errorf("config: target %q: %w", name, err)
		}
	}
	if c.Suite.Parallel < 0 {
		return fmt.Errorf("config: suite.parallel must be >= 0, got %d", c.Suite.Parallel)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("config: logging: %w", err)
	}
	switch c.Report.Format {
	case "", "text", "json", "junit":
	default:
		return fmt.Errorf("config: report.format %q (expected text, json, or junit)", c.Report.Format)
	}
	if c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1 {
		return fmt.Errorf("config: telemetry.sampling_ratio must be within [0, 1], got %g", c.Telemetry.SamplingRatio)
	}
	return nil
}

func (t TargetConfig) validate() error {
	if t.BaseURL == "" {
		return errors.New("base_url is required")
	}
	u, err := url.Parse(t.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url %q is not an absolute URL", t.BaseURL)
	}
	if t.Timeout < 0 || t.RateLimit < 0 {
		return errors.New("timeout and rate_limit must not be negative")
	}
	if t.Auth == nil {
		return nil
	}
	switch session.Kind(t.Auth.Kind) {
	case session.KindLogin:
		if t.Auth.Endpoint == "" {
			return errors.New("auth.endpoint is required for login sessions")
		}
	case session.KindStatic:
	default:
		return fmt.Errorf("unknown auth.kind %q (expected login or static)", t.Auth.Kind)
	}
	switch session.Style(t.Auth.Style) {
	case "", session.StyleCookie, session.StyleBearer, session.StyleHeader:
	default:
		return fmt.Errorf("unknown auth.style %q (expected cookie, bearer, or header)", t.Auth.Style)
	}
	return nil
}

// ClientOptions converts t into HTTP client options.
func (t TargetConfig) ClientOptions() httpclient.Options {
	return httpclient.Options{
		BaseURL:   t.BaseURL,
		Timeout:   t.Timeout,
		Headers:   t.Headers,
		RateLimit: t.RateLimit,
		Burst:     t.Burst,
	}
}

// SessionConfig converts the target's auth section into a session config
// named after the target. ok is false when the target has no auth.
func (t TargetConfig) SessionConfig(name string) (cfg session.Config, ok bool) {
	if t.Auth == nil {
		return session.Config{}, false
	}
	a := t.Auth
	return session.Config{
		Name:            name,
		Kind:            session.Kind(a.Kind),
		Endpoint:        a.Endpoint,
		Payload:         a.Payload,
		Token:           a.Token,
		TokenPath:       a.TokenPath,
		TokenLength:     a.TokenLength,
		Style:           session.Style(a.Style),
		CookieName:      a.CookieName,
		Header:          a.Header,
		Scheme:          a.Scheme,
		FailureStatuses: a.FailureStatuses,
	}, true
}

// SetupSessions lists, sorted, the targets whose sessions must be acquired
// before the suite starts.
func (c *Config) SetupSessions() []string {
	var names []string
	for name, t := range c.Targets {
		if t.Auth != nil && t.Auth.Setup {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
