package teamconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zhattention/agent-studio/internal/models"
)

// ParseYAML decodes a team written in YAML. Sub-teams may be inlined with
// team_cfg; SaveTree splits them out.
func ParseYAML(data []byte) (*models.TeamSpec, error) {
	spec, err := decodeYAML(data)
	if err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

func decodeYAML(data []byte) (*models.TeamSpec, error) {
	var spec models.TeamSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("%w: failed to parse team YAML: %v", models.ErrInvalidConfig, err)
	}
	return &spec, nil
}

func ParseFile(path string) (*models.TeamSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read team file: %w", err)
	}
	spec, err := ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return spec, nil
}

// ParseDir parses every .yaml and .yml file in dir. Teams without a name are
// named after their file.
func ParseDir(dir string) ([]*models.TeamSpec, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var specs []*models.TeamSpec
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}

		spec, err := decodeYAML(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if spec.Name == "" {
			spec.Name = strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
		}
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
