// Package profile persists the local participant identity so it stays
// stable across sessions.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/meshchat/meshchat/internal/domain"
)

// FileStore keeps the profile as a JSON file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns the stored profile, or nil when none exists yet.
func (s *FileStore) Load() (*domain.Profile, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	var p domain.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	return &p, nil
}

func (s *FileStore) Save(p *domain.Profile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return nil
}

// LoadOrCreate returns the stored profile, minting and saving a fresh
// one with the given display name on first run.
func (s *FileStore) LoadOrCreate(displayName, colorTag string) (*domain.Profile, error) {
	p, err := s.Load()
	if err != nil {
		return nil, err
	}
	if p != nil {
		if displayName != "" {
			p.DisplayName = displayName
		}
		return p, nil
	}
	p = &domain.Profile{
		ID:          domain.ParticipantID(uuid.NewString()),
		DisplayName: displayName,
		ColorTag:    colorTag,
	}
	if err := s.Save(p); err != nil {
		return nil, err
	}
	return p, nil
}
