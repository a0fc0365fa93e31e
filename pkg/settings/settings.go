// Package settings manages persistent user settings for the nbseed CLI and
// the NetBox API token.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// TokenEnv is the environment variable consulted for the API token.
const TokenEnv = "NETBOX_TOKEN"

// DefaultTokenFile is the token file name under the user's home directory.
const DefaultTokenFile = "nb_api_token"

// DefaultURL is the NetBox instance of the built-in lab.
const DefaultURL = "http://localhost:8000"

// Settings holds persistent user preferences. Command-line flags override
// every field.
type Settings struct {
	// NetBoxURL is the NetBox base URL used when --url is not given
	NetBoxURL string `json:"netbox_url,omitempty"`

	// TokenFile overrides ~/nb_api_token
	TokenFile string `json:"token_file,omitempty"`

	// Config is the topology document used when --config is not given
	Config string `json:"config,omitempty"`

	// Timeout is the per-request timeout, in time.ParseDuration syntax
	Timeout string `json:"timeout,omitempty"`

	AuditLog        string `json:"audit_log,omitempty"`
	MetricsTextfile string `json:"metrics_textfile,omitempty"`

	// LockRedis is the Redis address used for the run lock
	LockRedis string `json:"lock_redis,omitempty"`

	// SSHHost is user@host[:port] of the lab host NetBox runs on
	SSHHost string `json:"ssh_host,omitempty"`
}

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "nbseed_settings.json"
	}
	return filepath.Join(home, ".nbseed", "settings.json")
}

// Load reads settings from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path. A missing file yields
// empty settings.
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return s, nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path
func (s *Settings) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// GetURL returns the NetBox URL (with fallback)
func (s *Settings) GetURL() string {
	if s.NetBoxURL != "" {
		return s.NetBoxURL
	}
	return DefaultURL
}

// GetTimeout returns the request timeout, falling back to def when unset
// or unparsable.
func (s *Settings) GetTimeout(def time.Duration) time.Duration {
	if s.Timeout == "" {
		return def
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// field binds a settings key to its struct field.
func (s *Settings) field(key string) (*string, bool) {
	m := map[string]*string{
		"netbox_url":       &s.NetBoxURL,
		"token_file":       &s.TokenFile,
		"config":           &s.Config,
		"timeout":          &s.Timeout,
		"audit_log":        &s.AuditLog,
		"metrics_textfile": &s.MetricsTextfile,
		"lock_redis":       &s.LockRedis,
		"ssh_host":         &s.SSHHost,
	}
	p, ok := m[key]
	return p, ok
}

// Keys lists the settable keys in sorted order.
func Keys() []string {
	keys := []string{
		"netbox_url", "token_file", "config", "timeout",
		"audit_log", "metrics_textfile", "lock_redis", "ssh_host",
	}
	sort.Strings(keys)
	return keys
}

// Get returns the value of a setting.
func (s *Settings) Get(key string) (string, error) {
	p, ok := s.field(key)
	if !ok {
		return "", unknownKey(key)
	}
	return *p, nil
}

// Set assigns a setting. Timeouts are checked here so a bad value never
// reaches the file.
func (s *Settings) Set(key, value string) error {
	p, ok := s.field(key)
	if !ok {
		return unknownKey(key)
	}
	if key == "timeout" && value != "" {
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			return fmt.Errorf("invalid timeout %q: want a positive duration such as 30s", value)
		}
	}
	*p = value
	return nil
}

func unknownKey(key string) error {
	return fmt.Errorf("unknown setting: %s (valid: %s)", key, strings.Join(Keys(), ", "))
}

// Clear resets all settings to defaults
func (s *Settings) Clear() {
	*s = Settings{}
}

// TokenPath returns the token file to read: the configured one, else
// ~/nb_api_token.
func (s *Settings) TokenPath() string {
	if s.TokenFile != "" {
		return s.TokenFile
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultTokenFile
	}
	return filepath.Join(home, DefaultTokenFile)
}

// LoadToken resolves the API token: flag first, then NETBOX_TOKEN, then the
// token file with surrounding whitespace trimmed. A missing token file leaves
// the token empty; any other read error is returned.
func (s *Settings) LoadToken(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if env := strings.TrimSpace(os.Getenv(TokenEnv)); env != "" {
		return env, nil
	}
	data, err := os.ReadFile(s.TokenPath())
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
