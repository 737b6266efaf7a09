package tool

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/leofalp/fissio/providers/ai"
)

// ErrToolNotFound is returned when a name is not registered in a Catalog.
var ErrToolNotFound = errors.New("tool not found")

// Catalog is a concurrency-safe set of tools keyed by name. Lookups are
// case-insensitive. A catalog is shared read-only by every pipeline run.
type Catalog struct {
	mu    sync.RWMutex
	tools map[string]GenericTool
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{tools: make(map[string]GenericTool)}
}

// NewCatalogWithTools returns a catalog holding tools.
func NewCatalogWithTools(tools ...GenericTool) *Catalog {
	c := NewCatalog()
	c.AddTools(tools...)
	return c
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// AddTools registers tools under ToolInfo().Name, replacing any tool with the
// same name.
func (c *Catalog) AddTools(tools ...GenericTool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range tools {
		c.tools[key(t.ToolInfo().Name)] = t
	}
}

// Get returns the tool registered under name.
func (c *Catalog) Get(name string) (GenericTool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tools[key(name)]
	return t, ok
}

// Has reports whether name is registered.
func (c *Catalog) Has(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// Remove deletes name and reports whether it was present.
func (c *Catalog) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(name)
	if _, ok := c.tools[k]; !ok {
		return false
	}
	delete(c.tools, k)
	return true
}

// Names returns the registered tool names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tools))
	for _, t := range c.tools {
		names = append(names, t.ToolInfo().Name)
	}
	slices.Sort(names)
	return names
}

// Size returns the number of registered tools.
func (c *Catalog) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tools)
}

// Describe returns the descriptions of names in the given order. Names that
// are not registered are skipped and returned in missing.
func (c *Catalog) Describe(names []string) (descriptions []ai.ToolDescription, missing []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, name := range names {
		t, ok := c.tools[key(name)]
		if !ok {
			missing = append(missing, name)
			continue
		}
		descriptions = append(descriptions, t.ToolInfo())
	}
	return descriptions, missing
}

// Call looks up name and invokes it with inputJSON.
func (c *Catalog) Call(ctx context.Context, name, inputJSON string) (string, error) {
	t, ok := c.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	return t.Call(ctx, inputJSON)
}

// Merge copies every tool of other into c; tools in other win on conflict.
func (c *Catalog) Merge(other *Catalog) {
	if other == nil || other == c {
		return
	}
	other.mu.RLock()
	snapshot := make(map[string]GenericTool, len(other.tools))
	for k, t := range other.tools {
		snapshot[k] = t
	}
	other.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, t := range snapshot {
		c.tools[k] = t
	}
}

// Clone returns an independent copy of c.
func (c *Catalog) Clone() *Catalog {
	clone := NewCatalog()
	clone.Merge(c)
	return clone
}
