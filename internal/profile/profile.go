package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"gemserve/internal/config"
)

// Profile is what the assistant knows about its user.
type Profile struct {
	Name  string
	Notes string
}

// Store reads and writes the profile and notes JSON files. Other keys in the profile file
// (email, image, theme) are preserved on save.
type Store struct {
	path      string
	notesPath string
}

func NewStore(cfg config.ProfileConfig) *Store {
	return &Store{path: cfg.Path, notesPath: cfg.NotesPath}
}

// Load returns the stored profile. Missing files yield empty fields.
func (s *Store) Load() (Profile, error) {
	var p Profile

	data, err := readObject(s.path)
	if err != nil {
		return p, err
	}
	if name, ok := data["name"].(string); ok {
		p.Name = strings.TrimSpace(name)
	}

	notes, err := readObject(s.notesPath)
	if err != nil {
		return p, err
	}
	if n, ok := notes["notes"].(string); ok {
		p.Notes = n
	}
	return p, nil
}

// Save writes the name into the profile file and the notes into the notes file.
func (s *Store) Save(p Profile) error {
	data, err := readObject(s.path)
	if err != nil {
		return err
	}
	data["name"] = p.Name
	if err := writeObject(s.path, data); err != nil {
		return err
	}
	if err := writeObject(s.notesPath, map[string]any{"notes": p.Notes}); err != nil {
		return err
	}
	log.Info().Str("path", s.path).Msg("Profile saved")
	return nil
}

func readObject(path string) (map[string]any, error) {
	out := map[string]any{}
	if path == "" {
		return out, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return out, nil
}

func writeObject(path string, v map[string]any) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create folder for %s: %w", path, err)
	}
	raw, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
