package catalog

import (
	"fmt"
	"sync"
	"testing"

	"github.com/hupe1980/agentflow/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func def(id string, caps ...string) core.AgentDefinition {
	return core.AgentDefinition{
		ID:           id,
		Name:         "Agent " + id,
		SystemPrompt: "You are " + id,
		Model:        &core.ModelConfig{Provider: core.ProviderOpenAI, Model: "gpt-4o-mini", Temperature: 0.5, MaxTokens: 256},
		Capabilities: caps,
	}
}

func TestCatalog_RegisterAndGet(t *testing.T) {
	c := New()
	require.NoError(t, c.Register(def("a", "search")))

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "Agent a", got.Name)
	assert.True(t, c.Has("a"))
	assert.Equal(t, 1, c.Len())

	_, ok = c.Get("missing")
	assert.False(t, ok)

	_, err := c.Lookup("missing")
	assert.ErrorIs(t, err, core.ErrAgentNotFound)
}

func TestCatalog_DuplicateLeavesCatalogUnchanged(t *testing.T) {
	c := New()
	require.NoError(t, c.Register(def("a", "search")))

	dup := def("a", "other")
	dup.Name = "Impostor"
	err := c.Register(dup)
	assert.ErrorIs(t, err, core.ErrDuplicateAgent)

	got, _ := c.Get("a")
	assert.Equal(t, "Agent a", got.Name)
	assert.Empty(t, c.FindByCapability("other"))
	assert.Equal(t, 1, c.Len())
}

func TestCatalog_RejectsInvalidDefinitions(t *testing.T) {
	c := New()

	bad := def("a")
	bad.Model.Temperature = 3
	assert.ErrorIs(t, c.Register(bad), core.ErrInvalidDefinition)

	bad = def("b")
	bad.SystemPrompt = ""
	assert.ErrorIs(t, c.Register(bad), core.ErrInvalidDefinition)

	assert.Zero(t, c.Len())
}

func TestCatalog_StoredDefinitionIsolated(t *testing.T) {
	c := New()
	d := def("a", "x")
	require.NoError(t, c.Register(d))

	d.Model.Temperature = 1.9
	d.Capabilities[0] = "mutated"

	got, _ := c.Get("a")
	assert.Equal(t, 0.5, got.Model.Temperature)
	assert.Equal(t, []string{"x"}, got.Capabilities)

	got.Model.MaxTokens = 1
	again, _ := c.Get("a")
	assert.Equal(t, 256, again.Model.MaxTokens)
}

func TestCatalog_FindByCapabilityAndUnregister(t *testing.T) {
	c := New()
	require.NoError(t, c.RegisterAll(def("a", "search", "write"), def("b", "search"), def("c", "write")))

	ids := func(defs []core.AgentDefinition) []string {
		out := make([]string, len(defs))
		for i, d := range defs {
			out[i] = d.ID
		}
		return out
	}

	assert.Equal(t, []string{"a", "b"}, ids(c.FindByCapability("search")))
	assert.Equal(t, []string{"a", "c"}, ids(c.FindByCapability("write")))

	assert.True(t, c.Unregister("a"))
	assert.False(t, c.Unregister("a"))
	assert.Equal(t, []string{"b"}, ids(c.FindByCapability("search")))
	assert.Equal(t, []string{"b", "c"}, ids(c.All()))
	assert.False(t, c.Has("a"))
}

func TestCatalog_RegisterAllStopsAtFirstError(t *testing.T) {
	c := New()
	err := c.RegisterAll(def("a"), def("a"), def("b"))
	assert.ErrorIs(t, err, core.ErrDuplicateAgent)
	assert.Equal(t, 1, c.Len())
}

func TestCatalog_ConcurrentAccess(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.Register(def(fmt.Sprintf("agent-%d", i), "shared"))
		}()
		go func() {
			defer wg.Done()
			_ = c.FindByCapability("shared")
			_ = c.All()
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, c.Len())
	assert.Len(t, c.FindByCapability("shared"), 20)
}
