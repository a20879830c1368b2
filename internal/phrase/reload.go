package phrase

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// LoadFile decodes a catalog override from disk. JSON and YAML are both
// accepted, selected by file extension, the way mercator-hq-jupiter's
// config loader picks a decoder by suffix.
func LoadFile(path string) ([]Category, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("phrase: read %s: %w", path, err)
	}
	var cats []Category
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cats); err != nil {
			return nil, fmt.Errorf("phrase: decode yaml %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cats); err != nil {
			return nil, fmt.Errorf("phrase: decode json %s: %w", path, err)
		}
	}
	if len(cats) == 0 {
		return nil, fmt.Errorf("phrase: %s contains no categories", path)
	}
	hasFallback := false
	for _, c := range cats {
		if c.Name == fallbackName {
			hasFallback = true
		}
	}
	if !hasFallback {
		return nil, fmt.Errorf("phrase: %s must define a %q category", path, fallbackName)
	}
	return cats, nil
}

// WatchFile installs a fsnotify watcher that reloads the catalog in place
// whenever the override file is written or created. If the file fails to
// load at start, the compile-time table stays in use; a later failed
// reload is logged and skipped, never left half-applied, and the catalog
// as last loaded stays in use. Removing the file does not trigger a reload.
func (c *Catalog) WatchFile(path string, logger *slog.Logger) (*fsnotify.Watcher, error) {
	if cats, err := LoadFile(path); err != nil {
		if logger != nil {
			logger.Warn("phrase catalog override failed to load, using defaults", "path", path, "error", err)
		}
	} else {
		c.replace(cats)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("phrase: new watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("phrase: watch %s: %w", path, err)
	}

	go func() {
		for event := range watcher.Events {
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cats, err := LoadFile(path)
			if err != nil {
				if logger != nil {
					logger.Warn("phrase catalog reload failed", "path", path, "error", err)
				}
				continue
			}
			c.replace(cats)
			if logger != nil {
				logger.Info("phrase catalog reloaded", "path", path, "categories", len(cats))
			}
		}
	}()

	return watcher, nil
}

func (c *Catalog) replace(cats []Category) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.categories = cats
	c.lastIdx = make(map[string]int, len(cats))
	for _, cat := range cats {
		c.lastIdx[cat.Name] = -1
	}
}
