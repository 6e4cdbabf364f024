// Package catalog provides the in-memory registry of agent definitions.
//
// A Catalog is safe for concurrent use: lookups take a shared lock while
// Register and Unregister are serialised. Definitions are deep-copied on the
// way in and on the way out, so a registered agent cannot be mutated through
// a reference held by a caller.
package catalog

import (
	"slices"
	"sync"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/logging"
)

// Options configures a Catalog.
type Options struct {
	Logger logging.Logger
}

// Catalog is an agent registry indexed by id and capability tag.
type Catalog struct {
	mu           sync.RWMutex
	agents       map[string]core.AgentDefinition
	order        []string
	capabilities map[string][]string
	logger       logging.Logger
}

// New creates an empty catalog.
func New(optFns ...func(o *Options)) *Catalog {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Catalog{
		agents:       make(map[string]core.AgentDefinition),
		capabilities: make(map[string][]string),
		logger:       logging.ForComponent(logging.OrNoOp(opts.Logger), "catalog"),
	}
}

// Register validates def and adds it to the catalog.
func (c *Catalog) Register(def core.AgentDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.agents[def.ID]; exists {
		return core.NewError(core.KindDuplicateAgent, "catalog.register", "agent %q already registered", def.ID)
	}

	c.agents[def.ID] = def.Clone()
	c.order = append(c.order, def.ID)
	for _, tag := range def.Capabilities {
		if !slices.Contains(c.capabilities[tag], def.ID) {
			c.capabilities[tag] = append(c.capabilities[tag], def.ID)
		}
	}

	c.logger.Debug("catalog.agent.registered", "agent_id", def.ID, "capabilities", def.Capabilities)

	return nil
}

// RegisterAll registers defs in order, stopping at the first failure.
func (c *Catalog) RegisterAll(defs ...core.AgentDefinition) error {
	for _, def := range defs {
		if err := c.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// Unregister removes an agent and its capability entries. It reports whether
// the agent was present.
func (c *Catalog) Unregister(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	def, ok := c.agents[id]
	if !ok {
		return false
	}

	delete(c.agents, id)
	c.order = slices.DeleteFunc(c.order, func(s string) bool { return s == id })
	for _, tag := range def.Capabilities {
		ids := slices.DeleteFunc(c.capabilities[tag], func(s string) bool { return s == id })
		if len(ids) == 0 {
			delete(c.capabilities, tag)
			continue
		}
		c.capabilities[tag] = ids
	}

	c.logger.Debug("catalog.agent.unregistered", "agent_id", id)

	return true
}

// Get returns a copy of the agent registered under id.
func (c *Catalog) Get(id string) (core.AgentDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	def, ok := c.agents[id]
	if !ok {
		return core.AgentDefinition{}, false
	}
	return def.Clone(), true
}

// Lookup is like Get but returns an AgentNotFound error for unknown ids.
func (c *Catalog) Lookup(id string) (core.AgentDefinition, error) {
	def, ok := c.Get(id)
	if !ok {
		return core.AgentDefinition{}, core.NewError(core.KindAgentNotFound, "catalog.lookup", "agent %q not found", id)
	}
	return def, nil
}

// Has reports whether id is registered.
func (c *Catalog) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.agents[id]
	return ok
}

// All returns every agent in registration order.
func (c *Catalog) All() []core.AgentDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]core.AgentDefinition, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.agents[id].Clone())
	}
	return out
}

// FindByCapability returns the agents tagged with tag in registration order.
func (c *Catalog) FindByCapability(tag string) []core.AgentDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := c.capabilities[tag]
	out := make([]core.AgentDefinition, 0, len(ids))
	for _, id := range c.order {
		if slices.Contains(ids, id) {
			out = append(out, c.agents[id].Clone())
		}
	}
	return out
}

// Len returns the number of registered agents.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.agents)
}
