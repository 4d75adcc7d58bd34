package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MimeLyc/image-translator/internal/remote"
	"github.com/MimeLyc/image-translator/pkg/langs"
)

const DefaultRuntimeSettingsFile = "/app/config/settings.json"

// RuntimeSettings are the values an operator may change while the service runs.
type RuntimeSettings struct {
	APIKey            string `json:"api_key"`
	Model             string `json:"model"`
	DefaultTargetLang string `json:"default_target_lang"`
}

func RuntimeSettingsFilePath() string {
	return getEnvString("SETTINGS_FILE", DefaultRuntimeSettingsFile)
}

func (s RuntimeSettings) Validate() error {
	if strings.TrimSpace(s.APIKey) == "" {
		return fmt.Errorf("api_key is required")
	}
	if strings.TrimSpace(s.Model) == "" {
		return fmt.Errorf("model is required")
	}
	if _, ok := langs.LookupTarget(s.DefaultTargetLang); !ok {
		return fmt.Errorf("invalid default_target_lang %q", s.DefaultTargetLang)
	}
	return nil
}

// Masked hides all but the last four characters of the api key.
func (s RuntimeSettings) Masked() RuntimeSettings {
	key := s.APIKey
	if len(key) > 4 {
		key = strings.Repeat("*", len(key)-4) + key[len(key)-4:]
	} else {
		key = strings.Repeat("*", len(key))
	}
	s.APIKey = key
	return s
}

func (c *Config) RuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		APIKey:            c.JobService.APIKey,
		Model:             c.JobService.Model,
		DefaultTargetLang: c.Translate.DefaultTargetLang,
	}
}

func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		if strings.TrimSpace(settings.APIKey) != "" {
			c.JobService.APIKey = settings.APIKey
		}
		if strings.TrimSpace(settings.Model) != "" {
			c.JobService.Model = settings.Model
		}
		if t, ok := langs.LookupTarget(settings.DefaultTargetLang); ok {
			c.Translate.DefaultTargetLang = t.Code
		}
	}
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}

// WriteRuntimeSettingsFile replaces path atomically.
func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// RuntimeSettingsStore is the live credentials source for the job service
// client. Updates are persisted before they become visible.
type RuntimeSettingsStore struct {
	path string

	mu      sync.RWMutex
	current RuntimeSettings
}

var _ remote.Credentials = (*RuntimeSettingsStore)(nil)

func NewRuntimeSettingsStore(path string, initial RuntimeSettings) (*RuntimeSettingsStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings file path is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &RuntimeSettingsStore{
		path:    path,
		current: initial,
	}, nil
}

func (s *RuntimeSettingsStore) GetRuntimeSettings() (RuntimeSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

func (s *RuntimeSettingsStore) UpdateRuntimeSettings(next RuntimeSettings) (RuntimeSettings, error) {
	if err := next.Validate(); err != nil {
		return RuntimeSettings{}, err
	}
	if t, ok := langs.LookupTarget(next.DefaultTargetLang); ok {
		next.DefaultTargetLang = t.Code
	}
	if err := WriteRuntimeSettingsFile(s.path, next); err != nil {
		return RuntimeSettings{}, err
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return next, nil
}

func (s *RuntimeSettingsStore) APIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.APIKey
}

func (s *RuntimeSettingsStore) ModelName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Model
}

func (s *RuntimeSettingsStore) DefaultTargetLang() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.DefaultTargetLang
}
