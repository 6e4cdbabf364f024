package loop

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/logging"
	"github.com/hupe1980/agentflow/model"
)

func TestIterationLogsCarryLoopID(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "json", Output: buf})

	c := newTestController(t, model.NewMockChatService(), func(o *Options) { o.Logger = logger })

	state, err := c.ExecuteLoop(context.Background(), "writer", core.NewAgentContext("draft"), Config{MaxIterations: 2})
	require.NoError(t, err)
	require.Equal(t, 2, state.Iteration)

	var iterations, finished int
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		switch entry["msg"] {
		case "loop.iteration.completed":
			iterations++
			assert.Equal(t, state.ID, entry["run_id"])
			assert.Equal(t, "loop", entry["component"])
			assert.Equal(t, "writer", entry["agent_id"])
		case "loop.finish":
			finished++
			assert.Equal(t, state.ID, entry["run_id"])
		}
	}
	assert.Equal(t, 2, iterations)
	assert.Equal(t, 1, finished)
}
