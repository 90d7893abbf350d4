package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// SettingsStore persists Settings as a JSON file and is the single source
// of truth for them. Readers always see the latest saved value.
type SettingsStore struct {
	mu        sync.RWMutex
	path      string
	current   Settings
	listeners []func(Settings)
}

// NewSettingsStore loads settings from path. A missing file yields
// defaults; an unreadable or invalid file is an error.
func NewSettingsStore(path string, defaults Settings) (*SettingsStore, error) {
	store := &SettingsStore{path: path, current: defaults}
	if path == "" {
		return store, nil
	}

	settings, err := ReadSettings(path, defaults)
	if err != nil {
		return nil, err
	}
	store.current = settings
	return store, nil
}

// ReadSettings reads a settings file, overlaying its fields onto defaults
func ReadSettings(path string, defaults Settings) (Settings, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return defaults, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return defaults, fmt.Errorf("failed to read settings file: %w", err)
	}

	settings := defaults
	if err := json.Unmarshal(data, &settings); err != nil {
		return defaults, fmt.Errorf("failed to parse settings file: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return defaults, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}

// Current returns the latest settings
func (s *SettingsStore) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update validates, persists and publishes new settings
func (s *SettingsStore) Update(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.path != "" {
		if err := writeSettings(s.path, settings); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.current = settings
	listeners := append([]func(Settings){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(settings)
	}
	return nil
}

// OnChange registers fn to be called after every successful Update
func (s *SettingsStore) OnChange(fn func(Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func writeSettings(path string, settings Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	// write then rename so a crash never leaves a truncated file
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}
