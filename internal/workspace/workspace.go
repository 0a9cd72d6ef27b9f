// Package workspace keeps versioned snapshots of canvas graphs, one
// directory per workspace name and one NNN.json file per saved version.
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zhattention/agent-studio/internal/models"
)

var ErrNotFound = errors.New("workspace not found")

// Snapshot is one saved version of a canvas.
type Snapshot struct {
	// Timestamp is milliseconds since the Unix epoch.
	Timestamp int64              `json:"timestamp"`
	Nodes     []models.GraphNode `json:"nodes"`
	Edges     []models.GraphEdge `json:"edges"`
}

func (s *Snapshot) Graph() *models.CanvasGraph {
	return &models.CanvasGraph{Nodes: s.Nodes, Edges: s.Edges}
}

type Version struct {
	Version   string
	Timestamp time.Time
	Nodes     int
	Edges     int
}

type Store struct {
	baseDir string
	now     func() time.Time
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir, now: time.Now}
}

// Save writes g as the next version of workspace name and returns the
// version, e.g. "003".
func (s *Store) Save(name string, g *models.CanvasGraph) (string, error) {
	dir, err := s.dir(name)
	if err != nil {
		return "", err
	}
	if g == nil {
		return "", fmt.Errorf("workspace %s: nothing to save", name)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create workspace directory: %w", err)
	}

	versions, err := versionNumbers(dir)
	if err != nil {
		return "", err
	}
	next := 1
	if len(versions) > 0 {
		next = versions[len(versions)-1] + 1
	}
	version := fmt.Sprintf("%03d", next)

	snapshot := Snapshot{
		Timestamp: s.now().UnixMilli(),
		Nodes:     g.Nodes,
		Edges:     g.Edges,
	}
	if snapshot.Nodes == nil {
		snapshot.Nodes = []models.GraphNode{}
	}
	if snapshot.Edges == nil {
		snapshot.Edges = []models.GraphEdge{}
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	path := filepath.Join(dir, version+".json")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}

	return version, nil
}

// Load reads one version of workspace name.
func (s *Store) Load(name, version string) (*Snapshot, error) {
	dir, err := s.dir(name)
	if err != nil {
		return nil, err
	}
	if err := checkSegment(version); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, version+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s version %s", ErrNotFound, name, version)
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s/%s: %w", name, version, err)
	}
	return &snapshot, nil
}

// LoadLatest reads the highest numbered version of workspace name.
func (s *Store) LoadLatest(name string) (*Snapshot, string, error) {
	dir, err := s.dir(name)
	if err != nil {
		return nil, "", err
	}
	versions, err := versionNumbers(dir)
	if err != nil {
		return nil, "", err
	}
	if len(versions) == 0 {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	version := fmt.Sprintf("%03d", versions[len(versions)-1])
	snapshot, err := s.Load(name, version)
	if err != nil {
		return nil, "", err
	}
	return snapshot, version, nil
}

// Versions lists the saved versions of workspace name, newest first.
func (s *Store) Versions(name string) ([]Version, error) {
	dir, err := s.dir(name)
	if err != nil {
		return nil, err
	}
	numbers, err := versionNumbers(dir)
	if err != nil {
		return nil, err
	}

	versions := make([]Version, 0, len(numbers))
	for _, n := range numbers {
		version := fmt.Sprintf("%03d", n)
		snapshot, err := s.Load(name, version)
		if err != nil {
			return nil, err
		}
		versions = append(versions, Version{
			Version:   version,
			Timestamp: time.UnixMilli(snapshot.Timestamp),
			Nodes:     len(snapshot.Nodes),
			Edges:     len(snapshot.Edges),
		})
	}

	sort.SliceStable(versions, func(i, j int) bool {
		if !versions[i].Timestamp.Equal(versions[j].Timestamp) {
			return versions[i].Timestamp.After(versions[j].Timestamp)
		}
		return versions[i].Version > versions[j].Version
	})
	return versions, nil
}

// List returns every workspace name, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes workspace name and all its versions.
func (s *Store) Delete(name string) error {
	dir, err := s.dir(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return os.RemoveAll(dir)
}

// DeleteVersion removes a single version.
func (s *Store) DeleteVersion(name, version string) error {
	dir, err := s.dir(name)
	if err != nil {
		return err
	}
	if err := checkSegment(version); err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(dir, version+".json")); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s version %s", ErrNotFound, name, version)
		}
		return err
	}
	return nil
}

func (s *Store) dir(name string) (string, error) {
	if err := checkSegment(name); err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, name), nil
}

func checkSegment(segment string) error {
	if strings.TrimSpace(segment) == "" {
		return fmt.Errorf("workspace name and version must not be empty")
	}
	if strings.ContainsAny(segment, `/\`) || segment == "." || segment == ".." {
		return fmt.Errorf("invalid workspace path segment %q", segment)
	}
	return nil
}

// versionNumbers returns the numeric versions found in dir, ascending. A
// missing directory has no versions.
func versionNumbers(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var numbers []int
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(name, ".json"))
		if err != nil || n <= 0 {
			continue
		}
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers, nil
}
