// Package assets loads converted containers through an explicit cache and
// checks the links between them.
package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Faultbox/midgard-assets/internal/convert"
	"github.com/Faultbox/midgard-assets/pkg/container"
	"github.com/Faultbox/midgard-assets/pkg/encoding"
	"github.com/Faultbox/midgard-assets/pkg/grf"
	"github.com/Faultbox/midgard-assets/pkg/pack"
)

// ErrNotFound is returned when no source holds a requested path.
var ErrNotFound = errors.New("asset not found")

// source is one place containers are read from.
type source interface {
	read(rel string) ([]byte, error)
	list() ([]string, error)
	close() error
}

// Manager loads containers from directories and GRF archives. Sources are
// searched in reverse order (last added = highest priority).
type Manager struct {
	sources []source
	cache   *Cache
	mu      sync.RWMutex
}

// NewManager creates a manager that stores decoded containers in cache.
func NewManager(cache *Cache) *Manager {
	if cache == nil {
		cache = NewCache()
	}
	return &Manager{cache: cache}
}

// Cache returns the cache the manager fills.
func (m *Manager) Cache() *Cache {
	return m.cache
}

// AddDir adds a directory of converted assets.
func (m *Manager) AddDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("adding %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("adding %s: not a directory", path)
	}
	m.add(dirSource(path))
	return nil
}

// AddArchive adds a GRF archive holding converted assets.
func (m *Manager) AddArchive(path string) error {
	archive, err := grf.Open(path)
	if err != nil {
		return fmt.Errorf("opening archive %s: %w", path, err)
	}
	m.add(archiveSource{archive})
	return nil
}

func (m *Manager) add(s source) {
	m.mu.Lock()
	m.sources = append(m.sources, s)
	m.mu.Unlock()
}

// Load returns the container at rel, decoding it on first use.
func (m *Manager) Load(rel string) (*container.Container, error) {
	key := encoding.FoldPath(rel)
	if c, ok := m.cache.Get(key); ok {
		return c, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.sources) - 1; i >= 0; i-- {
		data, err := m.sources[i].read(rel)
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, grf.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", container.ErrIO, rel, err)
		}
		c, err := container.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rel, err)
		}
		m.cache.Set(key, c)
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
}

// Texture loads and unpacks a texture.
func (m *Manager) Texture(rel string) (*pack.Texture, error) {
	c, err := m.Load(rel)
	if err != nil {
		return nil, err
	}
	return pack.UnpackTexture(c)
}

// Mesh loads and unpacks a mesh.
func (m *Manager) Mesh(rel string) (*pack.Mesh, error) {
	c, err := m.Load(rel)
	if err != nil {
		return nil, err
	}
	return pack.UnpackMesh(c)
}

// Material loads and unpacks a material.
func (m *Manager) Material(rel string) (*pack.Material, error) {
	c, err := m.Load(rel)
	if err != nil {
		return nil, err
	}
	return pack.UnpackMaterial(c)
}

// Model loads and unpacks a model.
func (m *Manager) Model(rel string) (*pack.Model, error) {
	c, err := m.Load(rel)
	if err != nil {
		return nil, err
	}
	return pack.UnpackModel(c)
}

// Files lists every container path across all sources, sorted and without
// duplicates.
func (m *Manager) Files() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var files []string
	for i := len(m.sources) - 1; i >= 0; i-- {
		names, err := m.sources[i].list()
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			key := encoding.FoldPath(name)
			if seen[key] || !convert.IsOutput(name) {
				continue
			}
			seen[key] = true
			files = append(files, name)
		}
	}
	sort.Strings(files)
	return files, nil
}

// Close closes all archives and clears the cache.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sources {
		s.close()
	}
	m.sources = nil
	m.cache.Clear()
}

type dirSource string

func (d dirSource) read(rel string) ([]byte, error) {
	local := filepath.FromSlash(encoding.NormalizePath(rel))
	if !filepath.IsLocal(local) {
		return nil, fs.ErrNotExist
	}
	return os.ReadFile(filepath.Join(string(d), local))
}

func (d dirSource) list() ([]string, error) {
	var files []string
	err := filepath.WalkDir(string(d), func(p string, e fs.DirEntry, err error) error {
		if err != nil || !e.Type().IsRegular() {
			return err
		}
		rel, err := filepath.Rel(string(d), p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	return files, err
}

func (d dirSource) close() error { return nil }

type archiveSource struct {
	archive *grf.Archive
}

func (a archiveSource) read(rel string) ([]byte, error) { return a.archive.Read(rel) }

func (a archiveSource) list() ([]string, error) { return a.archive.List(), nil }

func (a archiveSource) close() error { return a.archive.Close() }

// Cache is an in-memory store of decoded containers keyed by folded
// content path.
type Cache struct {
	data map[string]*container.Container
	mu   sync.RWMutex

	// Stats
	hits   int
	misses int
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		data: make(map[string]*container.Container),
	}
}

// Get retrieves an item from cache.
func (c *Cache) Get(key string) (*container.Container, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, ok := c.data[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return data, ok
}

// Set stores an item in cache.
func (c *Cache) Set(key string, data *container.Container) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = data
}

// Len returns the number of cached containers.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Clear clears the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]*container.Container)
	c.hits = 0
	c.misses = 0
}

// Stats returns cache statistics.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}
