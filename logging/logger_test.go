package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level LogLevel) (*StructuredLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return NewLogger(&LoggerConfig{Level: level, Format: "json", Output: buf}), buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestStructuredLogger_KeyValueArgs(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)
	l.WithComponent("workflow").WithRun("r1").Info("workflow.run.start", "type", "sequential")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "workflow.run.start", lines[0]["msg"])
	assert.Equal(t, "workflow", lines[0]["component"])
	assert.Equal(t, "r1", lines[0]["run_id"])
	assert.Equal(t, "sequential", lines[0]["type"])
}

func TestStructuredLogger_LevelFilter(t *testing.T) {
	l, buf := newBufferLogger(LogLevelWarn)
	l.Info("hidden")
	l.Debug("hidden")
	l.Warn("shown")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["msg"])
}

func TestStructuredLogger_DomainHelpers(t *testing.T) {
	l, buf := newBufferLogger(LogLevelDebug)
	l.LogModelCall("gpt-4o-mini", 42, time.Millisecond, nil)
	l.LogWorkflowExecution("parallel", "failed", 2, time.Second, errors.New("boom"))
	l.LogLoopIteration("writer", 3, time.Millisecond, nil)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 3)
	assert.Equal(t, "model.call.completed", lines[0]["msg"])
	assert.Equal(t, "workflow.run.failed", lines[1]["msg"])
	assert.Equal(t, "boom", lines[1]["error"])
	assert.Equal(t, "loop.iteration.completed", lines[2]["msg"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LogLevelWarn, ParseLevel("warning"))
	assert.Equal(t, LogLevelError, ParseLevel("error"))
	assert.Equal(t, LogLevelInfo, ParseLevel("bogus"))
	assert.IsType(t, NoOpLogger{}, OrNoOp(nil))
}

func TestStructuredLogger_WorkflowStatusLevels(t *testing.T) {
	l, buf := newBufferLogger(LogLevelDebug)
	cancelled := errors.New("context canceled")
	l.LogWorkflowExecution("sequential", "completed", 3, time.Second, nil)
	l.LogWorkflowExecution("sequential", "stopped", 1, time.Second, cancelled)
	l.LogWorkflowExecution("sequential", "timeout", 1, time.Second, errors.New("deadline"))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 3)
	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "workflow.run.completed", lines[0]["msg"])
	assert.Equal(t, "WARN", lines[1]["level"])
	assert.Equal(t, "workflow.run.stopped", lines[1]["msg"])
	assert.Equal(t, "context canceled", lines[1]["error"])
	assert.Equal(t, "ERROR", lines[2]["level"])
	assert.Equal(t, "workflow.run.timeout", lines[2]["msg"])
}

func TestForComponentAndRun(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)
	scoped := ForRun(ForComponent(l, "loop"), "loop-1")
	scoped.Info("loop.finish")
	l.Info("unscoped")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "loop", lines[0]["component"])
	assert.Equal(t, "loop-1", lines[0]["run_id"])
	assert.NotContains(t, lines[1], "component")

	noop := NoOpLogger{}
	assert.Equal(t, Logger(noop), ForRun(noop, "x"))
	assert.Equal(t, Logger(noop), ForComponent(noop, "x"))
}
