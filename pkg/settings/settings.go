// Package settings loads and persists the run settings file: send limits,
// pacing bounds, browser behaviour, notifications, and telemetry. A run never
// reads the file directly; it takes an immutable RunConfiguration snapshot via
// Settings.RunConfig when it starts.
package settings

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the top-level settings document.
type Settings struct {
	MaxSends        int               `yaml:"max_sends"`
	MinDelaySeconds float64           `yaml:"min_delay_seconds"`
	MaxDelaySeconds float64           `yaml:"max_delay_seconds"`
	TargetURL       string            `yaml:"target_url"`  // Optional page loaded before sending.
	TargetHint      string            `yaml:"target_hint"` // Substring that identifies the platform tab.
	Browser         BrowserSettings   `yaml:"browser"`
	Notify          NotifySettings    `yaml:"notify"`
	Telemetry       TelemetrySettings `yaml:"telemetry"`
}

// BrowserSettings controls the chromedp session and the send sequence.
type BrowserSettings struct {
	RemoteURL          string   `yaml:"remote_url"` // DevTools endpoint of an already running Chrome.
	Headless           bool     `yaml:"headless"`
	NavigateTimeout    string   `yaml:"navigate_timeout"` // Duration string, e.g. "30s".
	ActionTimeout      string   `yaml:"action_timeout"`
	ModalWait          string   `yaml:"modal_wait"`
	MaxScrolls         int      `yaml:"max_scrolls"`
	TemplateTerm       string   `yaml:"template_term"`
	ScreenshotOnError  bool     `yaml:"screenshot_on_error"`
	ScreenshotFullPage bool     `yaml:"screenshot_full_page"`
	RejectionPatterns  []string `yaml:"rejection_patterns"`
}

// NotifySettings configures the run-finished webhook.
type NotifySettings struct {
	WebhookURL string `yaml:"webhook_url"`
	Format     string `yaml:"format"` // "json" (default) or "slack".
}

// TelemetrySettings configures metric export.
type TelemetrySettings struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Default returns the settings used when no file exists. Values loaded from
// a file are layered on top of these.
func Default() Settings {
	return Settings{
		MaxSends:        10,
		MinDelaySeconds: 2,
		MaxDelaySeconds: 6,
		TargetHint:      "impact",
		Browser: BrowserSettings{
			NavigateTimeout:   "30s",
			ActionTimeout:     "15s",
			ModalWait:         "20s",
			MaxScrolls:        5,
			TemplateTerm:      "Commission Tier Terms",
			ScreenshotOnError: true,
			RejectionPatterns: []string{"already sent", "too many", "rate limit", "not allowed"},
		},
		Notify: NotifySettings{Format: "json"},
	}
}

// Parse decodes a YAML settings document on top of Default. Environment
// variables referenced as ${VAR} or $VAR are expanded before parsing so that
// webhook URLs can live in the environment (or a .env file).
func Parse(data []byte) (Settings, error) {
	return parse([]byte(os.ExpandEnv(string(data))))
}

func parse(data []byte) (Settings, error) {
	s := Default()

	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("settings: parse: %w", err)
	}

	return s, nil
}

// Validate checks that the settings are internally consistent.
func (s Settings) Validate() error {
	if s.MaxSends <= 0 {
		return fmt.Errorf("settings: max_sends must be positive, got %d", s.MaxSends)
	}
	if s.MinDelaySeconds < 0 || s.MaxDelaySeconds < 0 {
		return fmt.Errorf("settings: delays must not be negative")
	}
	if s.MinDelaySeconds > s.MaxDelaySeconds {
		return fmt.Errorf("settings: min_delay_seconds (%g) exceeds max_delay_seconds (%g)", s.MinDelaySeconds, s.MaxDelaySeconds)
	}

	if s.TargetURL != "" {
		if err := validateURL(s.TargetURL, "http", "https"); err != nil {
			return fmt.Errorf("settings: target_url: %w", err)
		}
	}

	b := s.Browser
	if b.RemoteURL != "" {
		if err := validateURL(b.RemoteURL, "http", "https", "ws", "wss"); err != nil {
			return fmt.Errorf("settings: browser.remote_url: %w", err)
		}
	}
	for name, v := range map[string]string{
		"navigate_timeout": b.NavigateTimeout,
		"action_timeout":   b.ActionTimeout,
		"modal_wait":       b.ModalWait,
	} {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			return fmt.Errorf("settings: browser.%s: invalid duration %q", name, v)
		}
	}
	if b.MaxScrolls < 0 {
		return fmt.Errorf("settings: browser.max_scrolls must not be negative")
	}

	switch s.Notify.Format {
	case "", "json", "slack":
	default:
		return fmt.Errorf("settings: notify.format: unknown format %q", s.Notify.Format)
	}

	return nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, sc := range schemes {
		if u.Scheme == sc && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("unsupported URL %q", raw)
}

// Store reads and writes one settings file. It is safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a Store for the file at path. No I/O is performed.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load reads the settings file. A missing file yields Default.
func (s *Store) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load()
}

func (s *Store) load() (Settings, error) {
	data, err := os.ReadFile(s.path) //nolint:gosec // path is caller-provided configuration
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Settings{}, fmt.Errorf("settings: load: %w", err)
	}

	return Parse(data)
}

// Save validates and writes the settings atomically.
func (s *Store) Save(st Settings) error {
	if err := st.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.save(st)
}

// Raw returns the settings as written in the file, with environment
// references unexpanded. Editors start from this form.
func (s *Store) Raw() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readRaw()
}

// Update loads the current settings, applies fn, and saves the result.
// Environment references such as ${PROPOSER_WEBHOOK_URL} are kept verbatim in
// the file; validation runs against the expanded form.
func (s *Store) Update(fn func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.readRaw()
	if err != nil {
		return Settings{}, err
	}

	fn(&raw)

	data, err := yaml.Marshal(raw)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: marshal: %w", err)
	}

	expanded, err := Parse(data)
	if err != nil {
		return Settings{}, err
	}
	if err := expanded.Validate(); err != nil {
		return Settings{}, err
	}

	if err := s.save(raw); err != nil {
		return Settings{}, err
	}

	return expanded, nil
}

// readRaw loads the file without environment expansion.
func (s *Store) readRaw() (Settings, error) {
	data, err := os.ReadFile(s.path) //nolint:gosec // path is caller-provided configuration
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Settings{}, fmt.Errorf("settings: load: %w", err)
	}

	return parse(data)
}

func (s *Store) save(st Settings) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("settings: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("settings: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.tmp")
	if err != nil {
		return fmt.Errorf("settings: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("settings: write temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("settings: close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("settings: rename temp file: %w", err)
	}

	return nil
}
