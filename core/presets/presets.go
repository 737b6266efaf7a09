// Package presets keeps the pipeline graphs stored in a directory. Every
// *.json, *.yaml, *.yml and *.hcl file holds one graph; the graph id defaults
// to the file name. The registry can watch the directory and reload on
// change.
package presets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/leofalp/fissio/patterns/pipeline"
)

// ErrNotFound is returned by Get for an unknown pipeline id.
var ErrNotFound = errors.New("presets: pipeline not found")

const debounce = 100 * time.Millisecond

// Summary describes a stored pipeline for listings.
type Summary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Nodes       int    `json:"nodes"`
	Edges       int    `json:"edges"`
}

// Registry holds the graphs loaded from one directory. It is safe for
// concurrent use; a reload swaps the whole set at once.
type Registry struct {
	dir    string
	logger zerolog.Logger

	mu     sync.RWMutex
	graphs map[string]*pipeline.Graph
	files  map[string]string // id -> path
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for reload reports.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// Load reads every graph in dir. Files that fail to decode or validate are
// skipped and reported in the returned error; the registry is usable either
// way. A missing directory is an error.
func Load(dir string, opts ...Option) (*Registry, error) {
	r := &Registry{
		dir:    dir,
		logger: zerolog.Nop(),
		graphs: make(map[string]*pipeline.Graph),
		files:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.Reload(); err != nil {
		var loadErr *LoadError
		if !errors.As(err, &loadErr) {
			return nil, err
		}
		return r, err
	}
	return r, nil
}

// NewStatic returns a registry over graphs that does not read any directory.
func NewStatic(graphs ...*pipeline.Graph) *Registry {
	r := &Registry{
		logger: zerolog.Nop(),
		graphs: make(map[string]*pipeline.Graph, len(graphs)),
		files:  make(map[string]string),
	}
	for _, g := range graphs {
		r.graphs[g.ID] = g
	}
	return r
}

// LoadError lists the files that could not be loaded.
type LoadError struct {
	Files map[string]error
}

func (e *LoadError) Error() string {
	paths := make([]string, 0, len(e.Files))
	for path := range e.Files {
		paths = append(paths, path)
	}
	slices.Sort(paths)

	var b strings.Builder
	fmt.Fprintf(&b, "presets: %d file(s) failed to load", len(paths))
	for _, path := range paths {
		fmt.Fprintf(&b, "; %v", e.Files[path])
	}
	return b.String()
}

// Reload rereads the directory and replaces the loaded set.
func (r *Registry) Reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("presets: reading %s: %w", r.dir, err)
	}

	graphs := make(map[string]*pipeline.Graph)
	files := make(map[string]string)
	failures := make(map[string]error)
	for _, entry := range entries {
		if entry.IsDir() || !isGraphFile(entry.Name()) {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		g, err := pipeline.LoadFile(path)
		if err != nil {
			failures[path] = err
			continue
		}
		if previous, dup := files[g.ID]; dup {
			failures[path] = fmt.Errorf("%s: pipeline id %q already defined in %s", path, g.ID, previous)
			continue
		}
		graphs[g.ID] = g
		files[g.ID] = path
	}

	r.mu.Lock()
	r.graphs, r.files = graphs, files
	r.mu.Unlock()

	r.logger.Debug().Str("dir", r.dir).Int("pipelines", len(graphs)).Msg("pipelines loaded")
	if len(failures) > 0 {
		return &LoadError{Files: failures}
	}
	return nil
}

func isGraphFile(name string) bool {
	return slices.Contains(pipeline.Formats, strings.ToLower(filepath.Ext(name)))
}

// Get returns the graph with id.
func (r *Registry) Get(id string) (*pipeline.Graph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.graphs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return g, nil
}

// IDs returns the loaded ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.graphs))
	for id := range r.graphs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// List summarizes the loaded graphs, sorted by id.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Summary, 0, len(r.graphs))
	for _, g := range r.graphs {
		out = append(out, Summary{
			ID:          g.ID,
			Name:        g.Name,
			Description: g.Description,
			Nodes:       len(g.Nodes),
			Edges:       len(g.Edges),
		})
	}
	slices.SortFunc(out, func(a, b Summary) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Watch reloads the registry whenever a graph file in the directory changes,
// until ctx is done. Bursts of events are coalesced. Files that fail to load
// on a reload are logged and left out.
func (r *Registry) Watch(ctx context.Context) error {
	if r.dir == "" {
		return errors.New("presets: static registry cannot be watched")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("presets: creating watcher: %w", err)
	}
	if err := watcher.Add(r.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("presets: watching %s: %w", r.dir, err)
	}

	go r.watchLoop(ctx, watcher)
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isGraphFile(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				if err := r.Reload(); err != nil {
					r.logger.Warn().Err(err).Str("dir", r.dir).Msg("pipeline reload reported problems")
					return
				}
				r.logger.Info().Str("dir", r.dir).Msg("pipelines reloaded")
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error().Err(err).Str("dir", r.dir).Msg("pipeline watcher error")
		}
	}
}
