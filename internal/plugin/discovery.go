package plugin

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	supportedProtocol = 1
	manifestFilename  = "manifest.yaml"
)

// Catalog holds discovered workers indexed by name.
type Catalog struct {
	mu      sync.RWMutex
	workers map[string]*Plugin
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{workers: make(map[string]*Plugin)}
}

// Get retrieves a worker definition by name.
func (c *Catalog) Get(name string) (*Plugin, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.workers[name]
	return p, ok
}

// All returns the worker definitions sorted by name.
func (c *Catalog) All() []*Plugin {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Plugin, 0, len(c.workers))
	for _, p := range c.workers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Add registers a worker definition.
func (c *Catalog) Add(p *Plugin) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.workers[p.Name]; exists {
		return fmt.Errorf("worker %q already registered", p.Name)
	}
	c.workers[p.Name] = p
	return nil
}

// EventTypes returns every type named in any manifest's emits or handles,
// sorted and de-duplicated.
func (c *Catalog) EventTypes() []string {
	seen := make(map[string]struct{})
	for _, p := range c.All() {
		for _, t := range p.Emits {
			seen[t] = struct{}{}
		}
		for _, t := range p.Handles {
			seen[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Discover scans roots for manifest.yaml files and validates the workers they
// describe. Invalid manifests are logged and skipped. Roots are processed in
// order; the first worker with a given name wins.
func Discover(roots []string, logger func(level, msg string, args ...any)) (*Catalog, error) {
	if logger == nil {
		logger = func(level, msg string, args ...any) {}
	}

	absRoots := make([]string, 0, len(roots))
	seenRoots := make(map[string]struct{}, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve worker root %q: %w", root, err)
		}
		info, err := os.Stat(absRoot)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("worker root does not exist: %s", absRoot)
			}
			return nil, fmt.Errorf("failed to stat worker root %s: %w", absRoot, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("worker root is not a directory: %s", absRoot)
		}
		if _, ok := seenRoots[absRoot]; ok {
			continue
		}
		seenRoots[absRoot] = struct{}{}
		absRoots = append(absRoots, absRoot)
	}
	if len(absRoots) == 0 {
		return nil, fmt.Errorf("at least one worker root is required")
	}

	catalog := NewCatalog()
	for _, root := range absRoots {
		root := root
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || d.Name() != manifestFilename {
				return nil
			}

			workerPath := filepath.Dir(path)
			p, err := loadWorker(workerPath, root)
			if err != nil {
				logger("warn", "failed to load worker", "root", root, "path", workerPath, "error", err.Error())
				return nil
			}

			if existing, ok := catalog.Get(p.Name); ok {
				logger("warn", "duplicate worker ignored (keeping first discovered)",
					"worker", p.Name,
					"ignored_path", p.Path,
					"kept_path", existing.Path,
				)
				return nil
			}
			_ = catalog.Add(p)

			logger("info", "loaded worker", "worker", p.Name, "path", p.Path, "version", p.Version)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker root %s: %w", root, err)
		}
	}

	return catalog, nil
}

// loadWorker reads and validates a single worker directory.
func loadWorker(workerPath, root string) (*Plugin, error) {
	data, err := os.ReadFile(filepath.Join(workerPath, manifestFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	if err := validateManifest(&m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	entrypoint := filepath.Join(workerPath, m.Entrypoint)
	if err := validateTrust(entrypoint, workerPath, root); err != nil {
		return nil, fmt.Errorf("trust validation failed: %w", err)
	}

	return &Plugin{
		Name:        m.Name,
		Path:        workerPath,
		Entrypoint:  entrypoint,
		Args:        m.Args,
		Protocol:    m.Protocol,
		Version:     m.Version,
		Description: m.Description,
		Emits:       m.Emits,
		Handles:     m.Handles,
	}, nil
}

func validateManifest(m *Manifest) error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if m.Protocol == 0 {
		return fmt.Errorf("protocol version is required")
	}
	if m.Protocol != supportedProtocol {
		return fmt.Errorf("unsupported protocol version %d (supported: %d)", m.Protocol, supportedProtocol)
	}
	if m.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}
	if strings.Contains(m.Entrypoint, "..") {
		return fmt.Errorf("entrypoint contains path traversal: %s", m.Entrypoint)
	}
	for _, t := range m.Handles {
		if strings.HasPrefix(t, "stream.") || t == "worker.quit" {
			return fmt.Errorf("handles: %q is reserved for worker channels", t)
		}
	}
	return nil
}

// validateTrust requires the entrypoint to resolve inside both the worker
// directory and its discovery root, to be executable, and the worker
// directory not to be world-writable.
func validateTrust(entrypointPath, workerPath, root string) error {
	resolvedEntrypoint, err := filepath.EvalSymlinks(entrypointPath)
	if err != nil {
		return fmt.Errorf("failed to resolve entrypoint symlink: %w", err)
	}
	resolvedWorker, err := filepath.EvalSymlinks(workerPath)
	if err != nil {
		return fmt.Errorf("failed to resolve worker path symlink: %w", err)
	}
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return fmt.Errorf("failed to resolve worker root symlink %s: %w", root, err)
	}

	sep := string(os.PathSeparator)
	if !strings.HasPrefix(resolvedEntrypoint, resolvedRoot+sep) {
		return fmt.Errorf("entrypoint %s is not under worker root %s", resolvedEntrypoint, resolvedRoot)
	}
	if !strings.HasPrefix(resolvedEntrypoint, resolvedWorker+sep) {
		return fmt.Errorf("entrypoint %s is not under worker directory %s", resolvedEntrypoint, resolvedWorker)
	}

	info, err := os.Stat(resolvedEntrypoint)
	if err != nil {
		return fmt.Errorf("entrypoint not found: %w", err)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("entrypoint is not executable: %s", resolvedEntrypoint)
	}

	workerInfo, err := os.Stat(resolvedWorker)
	if err != nil {
		return fmt.Errorf("worker directory not found: %w", err)
	}
	if workerInfo.Mode().Perm()&0002 != 0 {
		return fmt.Errorf("worker directory is world-writable: %s", resolvedWorker)
	}
	return nil
}
