// Package catalog implements the instance/resource catalog (C5): a
// read-mostly, lazily-filled cache of the instance tree, resource
// descriptors, and event-source descriptors discovered from the Iris
// server, using an RWMutex-guarded cache that takes an exclusive lock
// only while filling in an entry it does not yet hold.
package catalog

import (
	"context"
	"strings"
	"sync"

	"github.com/cornea-tools/cornea/internal/iriserr"
	"github.com/cornea-tools/cornea/internal/rpc"
)

type instanceNode struct {
	id       uint32
	path     string
	parent   string
	children []string // child paths, in discovery order
}

// Catalog caches everything discovered about an Iris server's instance
// tree for the life of one connection. Entries never expire: the tree is
// static for a connection's lifetime, so a path is either cached or
// triggers exactly one RPC under the exclusive lock.
type Catalog struct {
	client *rpc.Client

	mu        sync.RWMutex
	byPath    map[string]*instanceNode
	byID      map[uint32]*instanceNode
	resources map[uint32][]rpc.ResourceInfo            // by instance id
	resByName map[uint32]map[string]rpc.ResourceInfo   // by instance id, then resource name
	sources   map[uint32][]rpc.EventSourceInfo          // by instance id
	srcByName map[uint32]map[string]rpc.EventSourceInfo // by instance id, then source name
}

// New creates an empty Catalog bound to client.
func New(client *rpc.Client) *Catalog {
	return &Catalog{
		client:    client,
		byPath:    make(map[string]*instanceNode),
		byID:      make(map[uint32]*instanceNode),
		resources: make(map[uint32][]rpc.ResourceInfo),
		resByName: make(map[uint32]map[string]rpc.ResourceInfo),
		sources:   make(map[uint32][]rpc.EventSourceInfo),
		srcByName: make(map[uint32]map[string]rpc.EventSourceInfo),
	}
}

// Resolve looks up an instance by dotted path, querying the server and
// caching the result on a miss. An empty path means the root.
func (c *Catalog) Resolve(ctx context.Context, path string) (rpc.Instance, error) {
	c.mu.RLock()
	if n, ok := c.byPath[path]; ok {
		c.mu.RUnlock()
		return rpc.Instance{ID: n.id, Name: n.path}, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	// Re-check under the exclusive lock in case another caller filled it
	// in while we were waiting.
	if n, ok := c.byPath[path]; ok {
		return rpc.Instance{ID: n.id, Name: n.path}, nil
	}

	inst, err := c.client.InstanceRegistryGetInstanceInfoByName(ctx, path)
	if err != nil {
		return rpc.Instance{}, iriserr.Wrap(iriserr.KindUnknownInstance, "resolve "+path, err)
	}
	c.insertLocked(inst.Name, inst.ID)
	return inst, nil
}

// Children returns the immediate children of path (the empty string for
// the root), sorted by discovery order, querying the server and caching
// the whole matched subtree on a miss.
//
// Lists every instance whose name has the given prefix, then keeps only
// those whose trimmed remainder names a single additional path segment.
func (c *Catalog) Children(ctx context.Context, path string) ([]string, error) {
	c.mu.RLock()
	n, known := c.byPath[path]
	c.mu.RUnlock()

	if !known || n.children == nil {
		if err := c.fillSubtree(ctx, path); err != nil {
			return nil, err
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	n = c.byPath[path]
	if n == nil {
		return nil, nil
	}
	out := make([]string, len(n.children))
	copy(out, n.children)
	return out, nil
}

func (c *Catalog) fillSubtree(ctx context.Context, path string) error {
	matches, err := c.client.InstanceRegistryGetList(ctx, path)
	if err != nil {
		return iriserr.Wrap(iriserr.KindUnknownInstance, "list children of "+path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byPath[path]; !ok && path != "" {
		// The prefix itself must be a known instance; the root ("") has
		// no corresponding Instance record.
		for _, m := range matches {
			if m.Name == path {
				c.insertLocked(m.Name, m.ID)
			}
		}
	}

	direct := map[string]bool{}
	children := make([]string, 0, len(matches))
	for _, m := range matches {
		c.insertLocked(m.Name, m.ID)
		if m.Name == path {
			continue
		}
		rest := strings.TrimPrefix(m.Name, path)
		rest = strings.TrimPrefix(rest, ".")
		if rest == "" {
			continue
		}
		// Keep only the immediate next segment as a child; deeper
		// descendants are still inserted into byPath/byID above so a
		// later Resolve is free, but they are not listed as direct
		// children here.
		segment := strings.SplitN(rest, ".", 2)[0]
		childPath := segment
		if path != "" {
			childPath = path + "." + segment
		}
		if !direct[childPath] {
			direct[childPath] = true
			children = append(children, childPath)
		}
	}

	root, ok := c.byPath[path]
	if !ok {
		root = &instanceNode{path: path}
		c.byPath[path] = root
	}
	root.children = children
	return nil
}

func (c *Catalog) insertLocked(path string, id uint32) *instanceNode {
	if n, ok := c.byPath[path]; ok {
		return n
	}
	n := &instanceNode{id: id, path: path}
	c.byPath[path] = n
	c.byID[id] = n
	return n
}

// Parent returns the parent path of path by cutting off its last dotted
// segment; a single-segment path's parent is the root (""), and the root
// has none. It works on the path string alone: it issues no RPC, does not
// consult the cache, and does not check that either instance exists.
func (c *Catalog) Parent(path string) (string, bool) {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return "", path != ""
	}
	return path[:idx], true
}

// Resources returns every resource descriptor for instID, querying and
// caching on a miss.
func (c *Catalog) Resources(ctx context.Context, instID uint32) ([]rpc.ResourceInfo, error) {
	c.mu.RLock()
	if rs, ok := c.resources[instID]; ok {
		c.mu.RUnlock()
		return rs, nil
	}
	c.mu.RUnlock()

	rs, err := c.client.ResourceGetList(ctx, instID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.resources[instID] = rs
	byName := make(map[string]rpc.ResourceInfo, len(rs))
	for _, r := range rs {
		byName[r.Name] = r
	}
	c.resByName[instID] = byName
	return rs, nil
}

// Resource resolves one resource by name on instID.
func (c *Catalog) Resource(ctx context.Context, instID uint32, name string) (rpc.ResourceInfo, error) {
	if _, err := c.Resources(ctx, instID); err != nil {
		return rpc.ResourceInfo{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.resByName[instID][name]
	if !ok {
		return rpc.ResourceInfo{}, iriserr.New(iriserr.KindUnknownResource, name)
	}
	return r, nil
}

// ResourcesByPrefix returns every resource on instID whose name begins
// with prefix, matching the CLI's resource-read wildcard semantics.
func (c *Catalog) ResourcesByPrefix(ctx context.Context, instID uint32, prefix string) ([]rpc.ResourceInfo, error) {
	all, err := c.Resources(ctx, instID)
	if err != nil {
		return nil, err
	}
	var out []rpc.ResourceInfo
	for _, r := range all {
		if strings.HasPrefix(r.Name, prefix) {
			out = append(out, r)
		}
	}
	return out, nil
}

// EventSources returns every event source descriptor for instID, querying
// and caching on a miss.
func (c *Catalog) EventSources(ctx context.Context, instID uint32) ([]rpc.EventSourceInfo, error) {
	c.mu.RLock()
	if ss, ok := c.sources[instID]; ok {
		c.mu.RUnlock()
		return ss, nil
	}
	c.mu.RUnlock()

	ss, err := c.client.EventGetEventSources(ctx, instID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[instID] = ss
	byName := make(map[string]rpc.EventSourceInfo, len(ss))
	for _, s := range ss {
		byName[s.Name] = s
	}
	c.srcByName[instID] = byName
	return ss, nil
}

// EventSource resolves one event source by name on instID.
func (c *Catalog) EventSource(ctx context.Context, instID uint32, name string) (rpc.EventSourceInfo, error) {
	if _, err := c.EventSources(ctx, instID); err != nil {
		return rpc.EventSourceInfo{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.srcByName[instID][name]
	if !ok {
		return rpc.EventSourceInfo{}, iriserr.New(iriserr.KindUnknownEventSource, name)
	}
	return s, nil
}
