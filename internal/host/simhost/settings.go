package simhost

import (
	"fmt"
	"sync"

	"github.com/nerrad567/inputemu-core/internal/host"
)

// Settings is an in-memory settings store keyed by section and key.
type Settings struct {
	mu     sync.RWMutex
	values map[string]map[string]any
}

var _ host.Settings = (*Settings)(nil)

// NewSettings creates an empty store.
func NewSettings() *Settings {
	return &Settings{values: make(map[string]map[string]any)}
}

// SetString stores a string value.
func (s *Settings) SetString(section, key, value string) *Settings {
	s.set(section, key, value)
	return s
}

// SetBool stores a boolean value.
func (s *Settings) SetBool(section, key string, value bool) *Settings {
	s.set(section, key, value)
	return s
}

func (s *Settings) set(section, key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.values[section]
	if !ok {
		sec = make(map[string]any)
		s.values[section] = sec
	}
	sec[key] = value
}

func (s *Settings) get(section, key string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[section][key]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", host.ErrSettingNotFound, section, key)
	}
	return v, nil
}

// GetString implements host.Settings.
func (s *Settings) GetString(section, key string) (string, error) {
	v, err := s.get(section, key)
	if err != nil {
		return "", err
	}
	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s.%s is not a string", host.ErrSettingType, section, key)
	}
	return str, nil
}

// GetBool implements host.Settings.
func (s *Settings) GetBool(section, key string) (bool, error) {
	v, err := s.get(section, key)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s.%s is not a bool", host.ErrSettingType, section, key)
	}
	return b, nil
}
