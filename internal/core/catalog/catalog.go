// Package catalog holds the prefab templates a session may instantiate.
// Every replica must load the same catalog: prefab ids travel across the wire
// and through save files, and resolve against the local catalog on arrival.
package catalog

import (
	"sort"
	"sync"

	"github.com/scenesync/scenesync/internal/core/identity"
	"github.com/scenesync/scenesync/internal/core/observability/log"
	"github.com/scenesync/scenesync/internal/core/scene"
)

// Catalog is a registry of instantiable templates keyed by stable prefab id.
type Catalog struct {
	log log.Log

	mu      sync.RWMutex
	prefabs map[string]*scene.Node
}

// New builds an empty catalog.
func New(logger log.Log) *Catalog {
	if logger == nil {
		logger = log.Provide()
	}
	return &Catalog{
		log:     logger.With(log.String("component", "catalog")),
		prefabs: make(map[string]*scene.Node),
	}
}

// Register adds a template under the given prefab id and tags the template
// root with it. On a duplicate id the first registration wins and the call is
// dropped with a warning.
//
// The template subtree is owned by the catalog afterwards; callers must not
// mutate it.
func (c *Catalog) Register(id string, template *scene.Node) bool {
	if id == "" || template == nil {
		c.log.Warn("prefab registration dropped: empty id or nil template")
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.prefabs[id]; ok {
		c.log.Warn("duplicate prefab id, keeping first registration",
			log.String("prefab", id))
		return false
	}
	template.SetPrefabID(id)
	c.prefabs[id] = template
	return true
}

// Get returns the registered template for a prefab id.
func (c *Catalog) Get(id string) (*scene.Node, bool) {
	c.mu.RLock()
	t, ok := c.prefabs[id]
	c.mu.RUnlock()
	return t, ok
}

// Instantiate deep-clones the template and stamps the clone with its
// replicated identity rooted at rootID. Both sides of a session call this
// with the same root id and end up with identical ids throughout the subtree.
// Unknown prefab ids return (nil, false); the caller decides how loudly to
// complain.
func (c *Catalog) Instantiate(id string, rootID identity.ID) (*scene.Node, bool) {
	tmpl, ok := c.Get(id)
	if !ok {
		return nil, false
	}
	clone := tmpl.Clone()
	scene.AssignInstanceIDs(clone, rootID)
	return clone, true
}

// IDs lists the registered prefab ids in sorted order.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.prefabs))
	for id := range c.prefabs {
		out = append(out, id)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the number of registered prefabs.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.prefabs)
}
