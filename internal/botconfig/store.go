// Package botconfig reads and writes the per-account bot
// configuration variants the external executable consumes.
package botconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store accesses account config files under
// <accountsDir>/<account>/<name>. Documents are validated against the
// embedded schema before they are written.
type Store struct {
	accountsDir string
	validator   *Validator
	cache       sync.Map // "<account>/<name>" -> map[string]any
}

func NewStore(accountsDir string) (*Store, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}
	return &Store{
		accountsDir: accountsDir,
		validator:   validator,
	}, nil
}

// Read loads one account config variant.
func (s *Store) Read(account, name string) (map[string]any, error) {
	if name == "" {
		name = "config.yml"
	}
	key := account + "/" + name
	if cached, ok := s.cache.Load(key); ok {
		return cached.(map[string]any), nil
	}

	path := filepath.Join(s.accountsDir, account, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config not found for %s: %w", account, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	s.cache.Store(key, doc)
	return doc, nil
}

// Write validates and persists one account config variant, dropping
// any cached copy.
func (s *Store) Write(account, name string, doc map[string]any) error {
	if name == "" {
		name = "config.yml"
	}
	if err := s.validator.Validate(doc); err != nil {
		return fmt.Errorf("config for %s rejected: %w", account, err)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Join(s.accountsDir, account)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create account dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}

	s.cache.Delete(account + "/" + name)
	return nil
}
