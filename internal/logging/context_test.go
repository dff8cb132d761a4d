package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestFromContext(t *testing.T) {
	base := zaptest.NewLogger(t)
	fallback := zap.NewNop()

	ctx := ContextWithLogger(context.Background(), base)
	assert.Same(t, base, FromContextOr(ctx, fallback))
	assert.Same(t, fallback, FromContextOr(context.Background(), fallback))
	assert.NotNil(t, FromContextOr(context.Background(), nil))

	// A nil logger is never stored.
	assert.Equal(t, context.Background(), ContextWithLogger(context.Background(), nil))
}

func TestNewLogger_RejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger("pawfectshop", "test", "loud")
	assert.Error(t, err)

	logger, err := NewLogger("pawfectshop", "test", "debug")
	assert.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))
}
