package pattern

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// LuaPrefix namespaces script patterns in the registry.
const LuaPrefix = "lua:"

// ErrInvalidScriptName is returned for names that are not plain .lua file names.
var ErrInvalidScriptName = errors.New("invalid script name")

// ScriptStore manages the .lua files in one directory.
type ScriptStore struct {
	dir string
}

// NewScriptStore returns a store rooted at dir. The directory is created lazily.
func NewScriptStore(dir string) *ScriptStore {
	return &ScriptStore{dir: dir}
}

// sanitizeFilename checks for directory traversal and ensures a valid .lua
// extension. A registry name such as "lua:fire.lua" resolves to its file.
func sanitizeFilename(name string) (string, error) {
	name = strings.TrimPrefix(name, LuaPrefix)
	if !strings.HasSuffix(name, ".lua") {
		return "", fmt.Errorf("%w: %q must end with .lua", ErrInvalidScriptName, name)
	}
	clean := filepath.Base(name)
	if clean != name || clean == ".lua" || strings.Contains(clean, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidScriptName, name)
	}
	return clean, nil
}

// Path returns the location of a script inside the store.
func (s *ScriptStore) Path(name string) (string, error) {
	clean, err := sanitizeFilename(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, clean), nil
}

// Code reads a script's source.
func (s *ScriptStore) Code(name string) (string, error) {
	path, err := s.Path(name)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Save writes a script, creating the directory when needed.
func (s *ScriptStore) Save(name, code string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create patterns directory: %w", err)
	}
	return os.WriteFile(path, []byte(code), 0o644)
}

// Delete removes a script.
func (s *ScriptStore) Delete(name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// List returns the .lua files in the store. A missing directory is empty.
func (s *ScriptStore) List() ([]string, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	names := []string{}
	for _, f := range files {
		if !f.IsDir() && filepath.Ext(f.Name()) == ".lua" {
			names = append(names, f.Name())
		}
	}
	return names, nil
}

// RegisterAll registers every script in the store as "lua:<file>" and returns
// how many were registered.
func (s *ScriptStore) RegisterAll(r *Registry, log zerolog.Logger) (int, error) {
	names, err := s.List()
	if err != nil {
		return 0, err
	}
	for _, name := range names {
		s.register(r, name, log)
	}
	return len(names), nil
}

// Register registers one stored script and returns its pattern name.
func (s *ScriptStore) Register(r *Registry, name string, log zerolog.Logger) (string, error) {
	clean, err := sanitizeFilename(name)
	if err != nil {
		return "", err
	}
	return s.register(r, clean, log), nil
}

func (s *ScriptStore) register(r *Registry, file string, log zerolog.Logger) string {
	path := filepath.Join(s.dir, file)
	r.Register(Descriptor{
		Name:        LuaPrefix + file,
		Description: "Lua script " + file,
		Params:      []ParamSpec{},
		New:         func() Pattern { return NewLuaFile(path, log) },
	})
	return LuaPrefix + file
}
