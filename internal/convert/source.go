package convert

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Faultbox/midgard-assets/pkg/encoding"
	"github.com/Faultbox/midgard-assets/pkg/grf"
)

// Source is a tree of input files addressed by slash-separated paths
// relative to its root.
type Source interface {
	// Name identifies the source in logs.
	Name() string
	// Files lists every file, sorted.
	Files() ([]string, error)
	ReadFile(rel string) ([]byte, error)
	// LocalPath returns the filesystem path of rel when the file exists on
	// disk. Scene importers need it to resolve external buffers.
	LocalPath(rel string) (string, bool)
	Close() error
}

// OpenSource opens a directory, or a GRF archive when path names a file
// with the .grf extension.
func OpenSource(p string) (Source, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	if info.IsDir() {
		return &DirSource{Root: p}, nil
	}
	if strings.EqualFold(filepath.Ext(p), ".grf") {
		a, err := grf.Open(p)
		if err != nil {
			return nil, err
		}
		return &ArchiveSource{Path: p, Archive: a}, nil
	}
	return nil, fmt.Errorf("input %s is neither a directory nor a .grf archive", p)
}

// DirSource reads files below a directory.
type DirSource struct {
	Root string
}

func (s *DirSource) Name() string { return s.Root }

// Files walks the tree. Hidden files and directories are skipped.
func (s *DirSource) Files() ([]string, error) {
	var files []string
	err := filepath.WalkDir(s.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != s.Root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.Root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", s.Root, err)
	}
	sort.Strings(files)
	return files, nil
}

func (s *DirSource) ReadFile(rel string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.Root, filepath.FromSlash(rel)))
}

func (s *DirSource) LocalPath(rel string) (string, bool) {
	return filepath.Join(s.Root, filepath.FromSlash(rel)), true
}

// Rel converts a filesystem path below Root to a source path.
func (s *DirSource) Rel(p string) (string, bool) {
	rel, err := filepath.Rel(s.Root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (s *DirSource) Close() error { return nil }

// ArchiveSource reads the entries of a GRF archive.
type ArchiveSource struct {
	Path    string
	Archive *grf.Archive
}

func (s *ArchiveSource) Name() string { return s.Path }

func (s *ArchiveSource) Files() ([]string, error) {
	return s.Archive.List(), nil
}

func (s *ArchiveSource) ReadFile(rel string) ([]byte, error) {
	return s.Archive.Read(rel)
}

func (s *ArchiveSource) LocalPath(string) (string, bool) { return "", false }

func (s *ArchiveSource) Close() error { return s.Archive.Close() }

// outputPath mirrors a source path under a new extension.
func outputPath(rel, ext string) string {
	rel = encoding.NormalizePath(rel)
	return strings.TrimSuffix(rel, path.Ext(rel)) + ext
}
