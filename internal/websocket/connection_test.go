package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvasrelay/pkg/interfaces"
)

// Test WebSocket upgrader for creating test connections
var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// echoPeer is the remote side of a test connection; every frame it receives is
// pushed onto received.
type echoPeer struct {
	received chan []byte
}

func createTestWebSocketConnection(t *testing.T) (*websocket.Conn, *echoPeer) {
	t.Helper()
	peer := &echoPeer{received: make(chan []byte, 64)}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			peer.received <- data
		}
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn, peer
}

func TestConnection_InterfaceCompliance(t *testing.T) {
	var _ interfaces.Connection = &Connection{}
}

func TestConnection_NewConnectionInitialization(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)

	conn := NewConnection(wsConn, ConnectionOptions{})
	defer conn.Close()

	assert.NotEmpty(t, conn.ID())
	assert.Equal(t, DefaultConnectionOptions().BufferSize, cap(conn.writeCh))
	assert.True(t, conn.IsOpen())
}

func TestConnection_IDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		wsConn, _ := createTestWebSocketConnection(t)
		conn := NewConnection(wsConn, ConnectionOptions{})
		assert.False(t, seen[conn.ID()])
		seen[conn.ID()] = true
		_ = conn.Close()
	}
}

func TestConnection_SendDeliversInOrder(t *testing.T) {
	wsConn, peer := createTestWebSocketConnection(t)
	conn := NewConnection(wsConn, ConnectionOptions{})
	defer conn.Close()

	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, conn.Send([]byte(msg)))
	}

	for _, want := range []string{"one", "two", "three"} {
		select {
		case got := <-peer.received:
			assert.Equal(t, want, string(got))
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestConnection_CloseIdempotent(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)
	conn := NewConnection(wsConn, ConnectionOptions{})

	require.NoError(t, conn.Close())
	assert.NotPanics(t, func() {
		_ = conn.Close()
		_ = conn.Close()
	})
	assert.False(t, conn.IsOpen())

	select {
	case <-conn.Done():
	default:
		t.Fatal("Done should be closed after Close")
	}
}

func TestConnection_SendAfterClose(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)
	conn := NewConnection(wsConn, ConnectionOptions{})
	require.NoError(t, conn.Close())

	err := conn.Send([]byte("late"))
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.True(t, IsNotReady(err))
}

func TestConnection_SendNeverBlocksWhenBufferFull(t *testing.T) {
	// No writer goroutine: the buffer can only fill.
	conn := &Connection{writeCh: make(chan []byte, 2)}
	conn.ctx, conn.cancel = context.WithCancel(context.Background())
	defer conn.cancel()

	require.NoError(t, conn.Send([]byte("a")))
	require.NoError(t, conn.Send([]byte("b")))

	done := make(chan error, 1)
	go func() { done <- conn.Send([]byte("c")) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrConnectionNotReady)
	case <-time.After(time.Second):
		t.Fatal("Send blocked on a full buffer")
	}
}

func TestConnection_ConcurrentSends(t *testing.T) {
	wsConn, peer := createTestWebSocketConnection(t)
	conn := NewConnection(wsConn, ConnectionOptions{BufferSize: 64})
	defer conn.Close()

	const senders = 8
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, conn.Send([]byte(`{"type":"draw"}`)))
		}()
	}
	wg.Wait()

	for i := 0; i < senders; i++ {
		select {
		case <-peer.received:
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of %d frames", i, senders)
		}
	}
}

func TestConnection_PeerDisconnectClosesConnection(t *testing.T) {
	var serverSide *websocket.Conn
	ready := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverSide = c
		close(ready)
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	<-ready

	conn := NewConnection(serverSide, ConnectionOptions{PingInterval: 20 * time.Millisecond, WriteTimeout: 50 * time.Millisecond})
	_ = client.Close()

	// Pings to a dead peer eventually fail and the writer closes the connection.
	assert.Eventually(t, func() bool { return !conn.IsOpen() }, 3*time.Second, 10*time.Millisecond)
}

func TestConnection_CloseSendsCloseFrame(t *testing.T) {
	closeCode := make(chan int, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_, _, err = c.ReadMessage()
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			closeCode <- ce.Code
		}
		close(closeCode)
	}))
	defer server.Close()

	wsConn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	conn := NewConnection(wsConn, ConnectionOptions{})
	require.NoError(t, conn.Close())

	select {
	case code, ok := <-closeCode:
		require.True(t, ok, "peer saw no close frame")
		assert.Equal(t, websocket.CloseNormalClosure, code)
	case <-time.After(2 * time.Second):
		t.Fatal("peer never saw the connection close")
	}
}

func TestConnection_CloseDoesNotWaitOnStalledPeer(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		<-release // never reads
	}))
	defer server.Close()
	defer close(release)

	wsConn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	conn := NewConnection(wsConn, ConnectionOptions{BufferSize: 64, WriteTimeout: 2 * time.Second})

	// Enough data to fill the socket buffers so the writer blocks mid-write
	frame := make([]byte, 1<<20)
	for i := 0; i < 32; i++ {
		_ = conn.Send(frame)
	}
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	require.NoError(t, conn.Close())
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.False(t, conn.IsOpen())
}
