package logging

import (
	"context"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewContext(t *testing.T) {
	assert := require.New(t)

	ctx := NewContext(context.Background())
	id, ok := ctx.Value(ContextIDKey).(uuid.UUID)
	assert.True(ok)
	assert.NotEqual(uuid.Nil, id)

	// an existing id is kept
	assert.Equal(ctx, NewContext(ctx))
	assert.Equal(id, Fields(ctx)["ctx_id"])
}
