package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/lojinha/chatsync/internal/bus"
	"github.com/lojinha/chatsync/internal/status"
)

// pushServer accepts websocket connections and holds them open until the
// client goes away.
func pushServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = c.Close(websocket.StatusGoingAway, "server shutdown") }()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testTransport(t *testing.T, url string) *Transport {
	t.Helper()
	b := bus.New()
	return NewTransport(TransportConfig{URL: url, Token: "t0k3n"},
		func([]byte) {}, status.NewMachine(b), b, zap.NewNop())
}

func TestConnectStopsPriorLoops(t *testing.T) {
	srv := pushServer(t)
	tr := testTransport(t, srv.URL)

	// Stand in for a previous connection's loop context. Connect must cancel
	// it before installing its own, or the old heartbeat keeps running.
	cancelled := make(chan struct{})
	tr.mu.Lock()
	tr.cancel = func() { close(cancelled) }
	tr.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer func() { _ = tr.Close() }()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("previous loop context left running across Connect")
	}
}

func TestConnectWhileConnectedIsNoop(t *testing.T) {
	srv := pushServer(t)
	tr := testTransport(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer func() { _ = tr.Close() }()

	tr.mu.Lock()
	first := tr.conn
	tr.mu.Unlock()

	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	tr.mu.Lock()
	second := tr.conn
	tr.mu.Unlock()
	if first != second {
		t.Error("second Connect replaced a live connection")
	}
}

func TestConnectFailureLeavesDisconnected(t *testing.T) {
	tr := testTransport(t, "http://127.0.0.1:1") // nothing listens here

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tr.Connect(ctx); err == nil {
		t.Fatal("Connect() expected error")
	}
	if got := tr.machine.Current(); got != status.Disconnected {
		t.Errorf("state = %s, want %s", got, status.Disconnected)
	}
}
