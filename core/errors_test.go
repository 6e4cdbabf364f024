package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesByKind(t *testing.T) {
	err := NewError(KindAgentNotFound, "catalog.get", "agent %q not found", "writer")

	assert.ErrorIs(t, err, ErrAgentNotFound)
	assert.NotErrorIs(t, err, ErrDuplicateAgent)

	wrapped := fmt.Errorf("start run: %w", err)
	assert.ErrorIs(t, wrapped, ErrAgentNotFound)
	assert.Equal(t, KindAgentNotFound, KindOf(wrapped))
	assert.Equal(t, `catalog.get: agent "writer" not found`, err.Error())
}

func TestError_WrapError(t *testing.T) {
	assert.Nil(t, WrapError(KindExecution, "op", nil))

	cause := errors.New("boom")
	err := WrapError(KindExecution, "model.send", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "model.send: boom", err.Error())
}

func TestKindOf_ContextErrors(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindCancelled, KindOf(context.Canceled))
	assert.Equal(t, KindExecution, KindOf(errors.New("x")))
}

func TestContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	assert.Nil(t, ContextError("op", ctx))
	cancel()
	assert.Equal(t, KindCancelled, ContextError("op", ctx).Kind)

	tctx, tcancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer tcancel()
	<-tctx.Done()
	assert.Equal(t, KindTimeout, ContextError("op", tctx).Kind)
}

func TestErrorKind_TextRoundTrip(t *testing.T) {
	for _, k := range []ErrorKind{KindInvalidDefinition, KindDuplicateAgent, KindAgentNotFound, KindInvalidConfig, KindTimeout, KindCancelled, KindExecution} {
		b, err := k.MarshalText()
		require.NoError(t, err)

		var got ErrorKind
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, k, got)
	}
	assert.True(t, KindTimeout.Retryable())
	assert.False(t, KindCancelled.Retryable())
}
