package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apierr "github.com/victorgomez09/suivi/internal/auth"
	"github.com/victorgomez09/suivi/internal/auth/models"
	"github.com/victorgomez09/suivi/internal/database"
	work "github.com/victorgomez09/suivi/internal/work/models"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []string
	done chan struct{}
}

func (m *recordingMailer) AccountLocked(_ context.Context, identity *models.Identity, _ models.LockoutRecord) error {
	m.mu.Lock()
	m.sent = append(m.sent, identity.Username)
	m.mu.Unlock()
	close(m.done)
	return nil
}

func openStore(t *testing.T) *database.Store {
	t.Helper()
	s, err := database.Open(context.Background(), t.TempDir()+"/notify.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createIdentity(t *testing.T, s *database.Store, username string, supervisor *int64) *models.Identity {
	t.Helper()
	id, err := s.CreateIdentity(context.Background(), &models.Identity{
		Username:     username,
		PasswordHash: "$2a$04$placeholder",
		AuthMode:     models.AuthLocal,
		ProfileID:    3,
		BranchID:     1,
		SupervisorID: supervisor,
	})
	require.NoError(t, err)
	return id
}

func TestNotifyListAndMarkRead(t *testing.T) {
	store := openStore(t)
	svc := NewService(store, nil, nil, zap.NewNop())
	ctx := context.Background()
	alice := createIdentity(t, store, "alice", nil)
	bob := createIdentity(t, store, "bob", nil)

	n, err := svc.Notify(ctx, alice.ID, work.NotifyTaskAssigned, "New task", "Count the stock")
	require.NoError(t, err)

	aliceSess := &models.Session{IdentityID: alice.ID}
	bobSess := &models.Session{IdentityID: bob.ID}

	list, err := svc.List(ctx, aliceSess, true, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "New task", list[0].Title)

	assert.ErrorIs(t, svc.MarkRead(ctx, bobSess, n.ID), apierr.ErrNotFound)
	require.NoError(t, svc.MarkRead(ctx, aliceSess, n.ID))

	list, err = svc.List(ctx, aliceSess, true, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAccountLockedNotifiesSupervisorAndMails(t *testing.T) {
	store := openStore(t)
	mailer := &recordingMailer{done: make(chan struct{})}
	svc := NewService(store, nil, mailer, zap.NewNop())
	ctx := context.Background()

	boss := createIdentity(t, store, "boss", nil)
	worker := createIdentity(t, store, "worker", &boss.ID)

	svc.AccountLocked(ctx, worker, models.LockoutRecord{Username: "worker", FailedLogins: 5, IsLocked: true})

	select {
	case <-mailer.done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock alert was not mailed")
	}
	assert.Equal(t, []string{"worker"}, mailer.sent)

	list, err := svc.List(ctx, &models.Session{IdentityID: boss.ID}, false, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, work.NotifyAccountLocked, list[0].Kind)
}

func TestHubPushesToConnectedIdentity(t *testing.T) {
	store := openStore(t)
	hub := NewHub(zap.NewNop(), nil)
	defer hub.Close()
	svc := NewService(store, hub, nil, zap.NewNop())
	alice := createIdentity(t, store, "alice", nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, alice.ID, "alice-session")
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Connected(alice.ID) == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = svc.Notify(context.Background(), alice.ID, work.NotifyReportReviewed, "Report approved", "")
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var got work.Notification
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, "Report approved", got.Title)
	assert.Equal(t, alice.ID, got.IdentityID)
}

// serveHub accepts websocket connections for identityID; the session id comes from the
// "session" query parameter.
func serveHub(t *testing.T, hub *Hub, identityID int64) func(session string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, identityID, r.URL.Query().Get("session"))
	}))
	t.Cleanup(srv.Close)

	return func(session string) *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/?session="+session, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	}
}

// closedByServer waits for the server to end conn.
func closedByServer(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatal("connection still open")
		}
		return
	}
}

func TestHubClosesRevokedConnections(t *testing.T) {
	store := openStore(t)
	hub := NewHub(zap.NewNop(), nil)
	defer hub.Close()
	svc := NewService(store, hub, nil, zap.NewNop())
	alice := createIdentity(t, store, "alice", nil)
	dial := serveHub(t, hub, alice.ID)

	laptop := dial("laptop")
	phone := dial("phone")
	require.Eventually(t, func() bool { return hub.Connected(alice.ID) == 2 }, 2*time.Second, 10*time.Millisecond)

	// Logout of one session leaves the other connected.
	hub.SessionRevoked("laptop")
	closedByServer(t, laptop)
	require.Eventually(t, func() bool { return hub.Connected(alice.ID) == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err := svc.Notify(context.Background(), alice.ID, work.NotifyTaskAssigned, "Still here", "")
	require.NoError(t, err)
	require.NoError(t, phone.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := phone.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(payload), "Still here")

	hub.IdentityRevoked(alice.ID)
	closedByServer(t, phone)
	assert.Equal(t, 0, hub.Connected(alice.ID))
}

func TestAccountLockedClosesConnections(t *testing.T) {
	store := openStore(t)
	hub := NewHub(zap.NewNop(), nil)
	defer hub.Close()
	svc := NewService(store, hub, nil, zap.NewNop())
	bob := createIdentity(t, store, "bob", nil)
	conn := serveHub(t, hub, bob.ID)("bob-session")
	require.Eventually(t, func() bool { return hub.Connected(bob.ID) == 1 }, 2*time.Second, 10*time.Millisecond)

	svc.AccountLocked(context.Background(), bob, models.LockoutRecord{IsLocked: true, FailedLogins: 5})
	closedByServer(t, conn)
	assert.Equal(t, 0, hub.Connected(bob.ID))
}

func TestHubRechecksSessionsOnPing(t *testing.T) {
	var ended, storeDown atomic.Bool
	hub := NewHub(zap.NewNop(), nil)
	hub.ping = 20 * time.Millisecond
	hub.CheckSessions(func(_ context.Context, sessionID string) error {
		switch {
		case storeDown.Load():
			return apierr.Store(errors.New("database is locked"))
		case ended.Load():
			return apierr.ErrSessionExpired
		}
		return nil
	})
	defer hub.Close()

	conn := serveHub(t, hub, 7)("carol-session")
	require.Eventually(t, func() bool { return hub.Connected(7) == 1 }, 2*time.Second, 10*time.Millisecond)

	storeDown.Store(true)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, hub.Connected(7), "store failures keep the connection")

	storeDown.Store(false)
	ended.Store(true)
	closedByServer(t, conn)
	assert.Equal(t, 0, hub.Connected(7))
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.com"})

	r := httptest.NewRequest(http.MethodGet, "http://api.example.com/ws", nil)
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://app.example.com")
	assert.True(t, check(r))

	r.Header.Set("Origin", "http://api.example.com")
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://evil.example.net")
	assert.False(t, check(r))
}
