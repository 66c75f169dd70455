package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSRFManager(t *testing.T) {
	m := NewCSRFManager("secret")
	ctx := context.Background()
	sess := &Session{ID: "abc"}

	assert.ErrorIs(t, m.VerifyToken(ctx, sess, "anything"), ErrCSRFTokenMissing)

	token, err := m.EnsureToken(ctx, sess)
	require.NoError(t, err)
	again, err := m.EnsureToken(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, token, again)

	assert.NoError(t, m.VerifyToken(ctx, sess, token))
	assert.ErrorIs(t, m.VerifyToken(ctx, sess, token+"x"), ErrCSRFTokenMismatch)
	assert.ErrorIs(t, m.VerifyToken(ctx, sess, ""), ErrCSRFTokenMissing)
	assert.ErrorIs(t, m.VerifyToken(ctx, nil, token), ErrCSRFTokenMissing)

	_, err = m.EnsureToken(ctx, nil)
	assert.Error(t, err)
}
