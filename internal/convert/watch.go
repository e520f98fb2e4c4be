package convert

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-assets/internal/importer"
)

// watchDebounce groups the burst of events a single save produces.
const watchDebounce = 200 * time.Millisecond

// Watch converts the whole source once, then converts files again as they
// are created or written until ctx is done. Only directory sources can be
// watched.
func (c *Converter) Watch(ctx context.Context) error {
	dir, ok := c.src.(*DirSource)
	if !ok {
		return fmt.Errorf("only directories can be watched, not %s", c.src.Name())
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	// Watch before the first run so nothing written meanwhile is missed.
	if err := c.watchTree(w, dir.Root); err != nil {
		return err
	}
	if _, err := c.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	c.log.Info("watching for changes", zap.String("input", dir.Root))

	pending := make(map[string]struct{})
	tick := time.NewTicker(watchDebounce)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case e, ok := <-w.Events:
			if !ok {
				return nil
			}
			c.handleEvent(w, dir, e, pending)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.log.Warn("watch error", zap.Error(err))

		case <-tick.C:
			if len(pending) == 0 {
				continue
			}
			files := make([]string, 0, len(pending))
			for rel := range pending {
				files = append(files, rel)
			}
			clear(pending)
			sort.Strings(files)
			for _, rel := range files {
				c.ConvertFile(ctx, rel)
			}
		}
	}
}

func (c *Converter) handleEvent(w *fsnotify.Watcher, dir *DirSource, e fsnotify.Event, pending map[string]struct{}) {
	if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if e.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(e.Name); err == nil && info.IsDir() {
			// Files may land in a new directory before it is watched.
			if err := c.watchTree(w, e.Name); err != nil {
				c.log.Warn("watching new directory failed", zap.String("dir", e.Name), zap.Error(err))
			}
			_ = filepath.WalkDir(e.Name, func(p string, d fs.DirEntry, err error) error {
				if err == nil && d.Type().IsRegular() {
					c.queue(dir, p, pending)
				}
				return nil
			})
			return
		}
	}
	c.queue(dir, e.Name, pending)
}

func (c *Converter) queue(dir *DirSource, name string, pending map[string]struct{}) {
	rel, ok := dir.Rel(name)
	if !ok || hidden(rel) || importer.Classify(rel) == importer.SourceUnknown {
		return
	}
	pending[rel] = struct{}{}
}

// watchTree adds root and every directory below it to the watcher.
func (c *Converter) watchTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.Add(p); err != nil {
			return fmt.Errorf("watching %s: %w", p, err)
		}
		return nil
	})
}

func hidden(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
