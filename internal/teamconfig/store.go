// Package teamconfig stores team documents as <name>.json files and moves
// them between their stored form (sub-teams referenced by team_call) and
// their composed form (sub-teams inlined as team_cfg).
package teamconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/zhattention/agent-studio/internal/models"
)

const configExt = ".json"

var ErrConfigNotFound = errors.New("config not found")

// FileStore reads team documents from a list of directories, first match
// wins, and writes them to the first one.
type FileStore struct {
	dirs   []string
	schema *jsonschema.Schema
	logger *slog.Logger
}

func NewFileStore(logger *slog.Logger, dir string, fallback ...string) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	return &FileStore{
		dirs:   append([]string{dir}, fallback...),
		schema: schema,
		logger: logger,
	}, nil
}

// Dir is where documents are written.
func (s *FileStore) Dir() string {
	return s.dirs[0]
}

// ReadConfig loads and validates the stored document called name.
func (s *FileStore) ReadConfig(name string) (*models.TeamSpec, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	for _, dir := range s.dirs {
		path := filepath.Join(dir, name+configExt)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		spec, err := s.decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return spec, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, name)
}

func (s *FileStore) decode(data []byte) (*models.TeamSpec, error) {
	if err := checkDocument(s.schema, data); err != nil {
		return nil, err
	}
	var spec models.TeamSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// WriteConfig stores spec as name. The document must be in stored form: no
// agent may carry an inlined team_cfg.
func (s *FileStore) WriteConfig(name string, spec *models.TeamSpec) error {
	data, err := s.encode(name, spec)
	if err != nil {
		return err
	}

	dir := s.Dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name+configExt)); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	s.logger.Debug("config written", slog.String("name", name), slog.String("dir", dir))
	return nil
}

// encode renders spec in stored form and checks it against the schema.
func (s *FileStore) encode(name string, spec *models.TeamSpec) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if spec.Name != name {
		return nil, fmt.Errorf("%w: document %q stored as %q", models.ErrInvalidConfig, spec.Name, name)
	}
	if spec.HasInlinedTeams() {
		return nil, fmt.Errorf("%w: %q still inlines a sub-team", models.ErrInvalidConfig, name)
	}

	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := checkDocument(s.schema, data); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return append(data, '\n'), nil
}

// List returns the names of all stored documents, sorted. Directories that
// do not exist are skipped.
func (s *FileStore) List() ([]string, error) {
	seen := make(map[string]bool)
	for _, dir := range s.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, configExt) {
				continue
			}
			seen[strings.TrimSuffix(name, configExt)] = true
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func checkName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: config name is required", models.ErrInvalidConfig)
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: config name %q is not a plain file name", models.ErrInvalidConfig, name)
	}
	return nil
}
