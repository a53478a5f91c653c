package sessionstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierr "github.com/victorgomez09/suivi/internal/auth"
	"github.com/victorgomez09/suivi/internal/auth/models"
)

// Set SUIVI_TEST_REDIS_URL (for example redis://localhost:6379/15) to run against a real server.
func testStore(t *testing.T) *RedisStore {
	t.Helper()
	url := os.Getenv("SUIVI_TEST_REDIS_URL")
	if url == "" {
		t.Skip("SUIVI_TEST_REDIS_URL not set")
	}
	client, err := Connect(context.Background(), url)
	require.NoError(t, err)
	s := NewRedisStore(client, time.Minute)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisSessionLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	sess := &models.Session{
		ID:         "redis-test-" + now.Format("150405.000"),
		IdentityID: 424242,
		Username:   "alice",
		IssuedAt:   now,
		RenewedAt:  now,
		ExpiresAt:  now.Add(30 * time.Second),
		LastUsedAt: now,
	}
	require.NoError(t, s.CreateSession(ctx, sess))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.True(t, sess.ExpiresAt.Equal(got.ExpiresAt))

	later := now.Add(10 * time.Second)
	require.NoError(t, s.RenewSession(ctx, sess.ID, later, later.Add(30*time.Second)))
	got, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, later.Equal(got.RenewedAt))

	require.NoError(t, s.RevokeIdentitySessions(ctx, sess.IdentityID, later))
	_, err = s.GetSession(ctx, sess.ID)
	assert.ErrorIs(t, err, apierr.ErrNotFound)

	err = s.RenewSession(ctx, sess.ID, later, later)
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}
