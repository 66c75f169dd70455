package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionManager(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "sid", "secret", time.Hour, false), mr
}

func TestSessionPersistsOnlyWhenDirty(t *testing.T) {
	sm, mr := newTestSessionManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.True(t, sess.IsNew())
	assert.Zero(t, sess.User())

	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))
	assert.Empty(t, rec.Result().Cookies())
	assert.Empty(t, mr.Keys())

	sess.SetUser(42)
	sess.Set("theme", "dark")
	rec = httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, mr.Exists("session:"+sess.ID))
	assert.Equal(t, time.Hour, mr.TTL("session:"+sess.ID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	assert.False(t, loaded.IsNew())
	assert.Equal(t, int64(42), loaded.User())
	assert.Equal(t, "dark", loaded.Get("theme"))
}

func TestSessionUnknownCookieStartsFresh(t *testing.T) {
	sm, _ := newTestSessionManager(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "missing"})

	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, sess.IsNew())
	assert.NotEqual(t, "missing", sess.ID)
}

func TestSessionRenewDropsOldRecord(t *testing.T) {
	sm, mr := newTestSessionManager(t)
	ctx := context.Background()
	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SetUser(1)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), sess))
	oldID := sess.ID

	require.NoError(t, sm.Renew(ctx, sess))
	assert.NotEqual(t, oldID, sess.ID)
	assert.False(t, mr.Exists("session:"+oldID))

	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), sess))
	assert.True(t, mr.Exists("session:"+sess.ID))
}

func TestSessionDestroy(t *testing.T) {
	sm, mr := newTestSessionManager(t)
	ctx := context.Background()
	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SetUser(1)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), sess))

	sm.Destroy(sess)
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))
	assert.False(t, mr.Exists("session:"+sess.ID))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestSessionNilSafety(t *testing.T) {
	var sess *Session
	assert.Zero(t, sess.User())
	assert.Nil(t, SessionFromContext(context.Background()))
	_, ok := UserIDFromContext(ContextWithUserID(context.Background(), 0))
	assert.False(t, ok)
}
