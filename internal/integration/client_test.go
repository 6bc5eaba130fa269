package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"canvasrelay/internal/app"
	"canvasrelay/internal/config"
	"canvasrelay/pkg/types"
)

// frame is any server frame on the canvas socket.
type frame struct {
	Type      types.EventKind `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
	UserID    string          `json:"userId,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// History decodes the replay carried by an init frame.
func (f *frame) History(t *testing.T) []types.DrawEvent {
	t.Helper()
	require.Equal(t, types.KindInit, f.Type)
	var events []types.DrawEvent
	require.NoError(t, json.Unmarshal(f.Data, &events))
	return events
}

// testClient is a canvas participant driven by a test
type testClient struct {
	name string
	conn *websocket.Conn

	frames chan *frame
	errors chan error
	done   chan struct{}

	writeMu sync.Mutex
	mu      sync.Mutex
	closed  bool
}

func connectClient(t *testing.T, serverAddr, name string) *testClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, "ws://"+serverAddr+"/ws", nil)
	require.NoError(t, err, "client %s failed to connect", name)

	tc := &testClient{
		name:   name,
		conn:   conn,
		frames: make(chan *frame, 4096),
		errors: make(chan error, 10),
		done:   make(chan struct{}),
	}
	go tc.readLoop()
	t.Cleanup(tc.Close)
	return tc
}

// readLoop continuously reads frames from the WebSocket connection
func (tc *testClient) readLoop() {
	defer close(tc.done)

	for {
		_, data, err := tc.conn.ReadMessage()
		if err != nil {
			tc.mu.Lock()
			closed := tc.closed
			tc.mu.Unlock()
			if !closed {
				select {
				case tc.errors <- fmt.Errorf("read error: %w", err):
				default:
				}
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			tc.errors <- fmt.Errorf("undecodable frame %q: %w", data, err)
			return
		}

		select {
		case tc.frames <- &f:
		default:
			select {
			case tc.errors <- fmt.Errorf("frame channel full, dropping frame"):
			default:
			}
		}
	}
}

func (tc *testClient) sendRaw(t *testing.T, payload string) {
	t.Helper()
	tc.writeMu.Lock()
	defer tc.writeMu.Unlock()
	require.NoError(t, tc.conn.SetWriteDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, tc.conn.WriteMessage(websocket.TextMessage, []byte(payload)))
}

func (tc *testClient) draw(t *testing.T, data string) {
	t.Helper()
	tc.sendRaw(t, fmt.Sprintf(`{"type":"draw","data":%s}`, data))
}

func (tc *testClient) clear(t *testing.T) {
	t.Helper()
	tc.sendRaw(t, `{"type":"clear"}`)
}

// receive waits for the next frame
func (tc *testClient) receive(timeout time.Duration) (*frame, error) {
	select {
	case f := <-tc.frames:
		return f, nil
	case err := <-tc.errors:
		return nil, err
	case <-time.After(timeout):
		return nil, fmt.Errorf("%s: timeout waiting for frame", tc.name)
	case <-tc.done:
		// Frames read before the close are still delivered
		select {
		case f := <-tc.frames:
			return f, nil
		default:
			return nil, fmt.Errorf("%s: disconnected", tc.name)
		}
	}
}

// waitFor skips frames until one of kind arrives
func (tc *testClient) waitFor(t *testing.T, kind types.EventKind) *frame {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		f, err := tc.receive(time.Until(deadline))
		require.NoError(t, err, "waiting for %s", kind)
		if f.Type == kind {
			return f
		}
	}
}

// collect gathers count frames of kind, skipping everything else
func (tc *testClient) collect(t *testing.T, kind types.EventKind, count int) []*frame {
	t.Helper()
	out := make([]*frame, 0, count)
	for len(out) < count {
		out = append(out, tc.waitFor(t, kind))
	}
	return out
}

// expectSilence asserts nothing of kind arrives within d
func (tc *testClient) expectSilence(t *testing.T, kind types.EventKind, d time.Duration) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Until(deadline) > 0 {
		f, err := tc.receive(time.Until(deadline))
		if err != nil {
			return
		}
		require.NotEqual(t, kind, f.Type, "%s: unexpected %s frame", tc.name, kind)
	}
}

func (tc *testClient) Close() {
	tc.mu.Lock()
	if tc.closed {
		tc.mu.Unlock()
		return
	}
	tc.closed = true
	tc.mu.Unlock()

	tc.writeMu.Lock()
	_ = tc.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	tc.writeMu.Unlock()
	_ = tc.conn.Close()
	<-tc.done
}

// startRelay runs a full application on an ephemeral port
func startRelay(t *testing.T, mutate func(*config.Config)) (*app.Application, string) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.Database.Path = filepath.Join(t.TempDir(), "canvas.db")
	if mutate != nil {
		mutate(cfg)
	}

	application, err := app.NewApplication(cfg, "integration")
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, application.Serve(context.Background(), ln))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	})
	return application, ln.Addr().String()
}

// joinAll connects n clients one after another, each having seen its init frame
func joinAll(t *testing.T, addr string, n int) []*testClient {
	t.Helper()
	clients := make([]*testClient, n)
	for i := range clients {
		clients[i] = connectClient(t, addr, fmt.Sprintf("client-%d", i))
		clients[i].waitFor(t, types.KindInit)
	}
	return clients
}
