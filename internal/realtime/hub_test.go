package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, opts ...func(*Hub)) (*Hub, *httptest.Server) {
	t.Helper()
	h := NewHub(nil)
	for _, o := range opts {
		o(h)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Serve(w, r, r.URL.Query().Get("account"))
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server, accountID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?account=" + accountID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	return ev
}

func TestHub_EventsReachOnlyOwningAccount(t *testing.T) {
	h, srv := startHub(t)
	alice := dial(t, srv, "acct_alice")
	bob := dial(t, srv, "acct_bob")

	require.Eventually(t, func() bool {
		return h.ConnectedClients("acct_alice") == 1 && h.ConnectedClients("acct_bob") == 1
	}, 2*time.Second, 10*time.Millisecond)

	h.Publish("acct_alice", "transfer.completed", map[string]any{"transferId": "trf_1"})
	h.Publish("acct_bob", "device.trusted", map[string]any{"deviceId": "dev_1"})

	ev := readEvent(t, alice)
	assert.Equal(t, "transfer.completed", ev.Type)
	assert.True(t, strings.HasPrefix(ev.ID, "evt_"))

	ev = readEvent(t, bob)
	assert.Equal(t, "device.trusted", ev.Type)

	// Nothing else queued for alice.
	_ = alice.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := alice.ReadMessage()
	assert.Error(t, err)
}

func TestHub_SubscriptionFiltersTypes(t *testing.T) {
	h, srv := startHub(t)
	conn := dial(t, srv, "acct_1")
	require.Eventually(t, func() bool { return h.ConnectedClients("acct_1") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Subscription{EventTypes: []string{"transfer.blocked"}}))
	// Let the read pump apply the subscription.
	time.Sleep(50 * time.Millisecond)

	h.Publish("acct_1", "transfer.completed", nil)
	h.Publish("acct_1", "transfer.blocked", nil)

	ev := readEvent(t, conn)
	assert.Equal(t, "transfer.blocked", ev.Type)
}

func TestHub_PerAccountConnectionLimit(t *testing.T) {
	h, srv := startHub(t, func(h *Hub) { h.perAccount = 1 })
	dial(t, srv, "acct_1")
	require.Eventually(t, func() bool { return h.ConnectedClients("acct_1") == 1 }, 2*time.Second, 10*time.Millisecond)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?account=acct_1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHub_RejectsAnonymous(t *testing.T) {
	h := NewHub(nil)
	w := httptest.NewRecorder()
	h.Serve(w, httptest.NewRequest(http.MethodGet, "/ws", nil), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	h, srv := startHub(t)
	conn := dial(t, srv, "acct_1")
	require.Eventually(t, func() bool { return h.ConnectedClients("acct_1") == 1 }, 2*time.Second, 10*time.Millisecond)

	_ = conn.Close()
	assert.Eventually(t, func() bool { return h.ConnectedClients("acct_1") == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, h.Stats()["connectedAccounts"])
}

func TestHub_ShutdownRejectsNewConnections(t *testing.T) {
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	cancel()
	<-h.done

	w := httptest.NewRecorder()
	h.Serve(w, httptest.NewRequest(http.MethodGet, "/ws", nil), "acct_1")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	h := NewHub(nil) // not running: the queue fills and then drops
	for i := 0; i < 300; i++ {
		h.Publish("acct_1", "transfer.completed", nil)
	}
	assert.Equal(t, int64(300-256), h.droppedEvents.Load())
}
