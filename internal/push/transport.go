package push

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/lojinha/chatsync/internal/bus"
	"github.com/lojinha/chatsync/internal/status"
)

// FrameHandler receives raw push frames; the manager's HandleFrame is wired
// here.
type FrameHandler func(raw []byte)

// TransportConfig tunes the websocket transport.
type TransportConfig struct {
	URL                  string
	Token                string
	HeartbeatInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
}

func (c *TransportConfig) withDefaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
}

// Transport maintains the persistent websocket to the push endpoint: a read
// loop delivering frames to the handler, a heartbeat, and automatic
// reconnection with exponential backoff. Connection state is tracked on the
// status machine and surfaced on the bus.
type Transport struct {
	cfg     TransportConfig
	handler FrameHandler
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	cancel      context.CancelFunc
	intentional bool

	recon *reconnector
}

// NewTransport creates a websocket transport. Connect must be called before
// any frames flow.
func NewTransport(cfg TransportConfig, handler FrameHandler, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Transport {
	cfg.withDefaults()
	return &Transport{
		cfg:     cfg,
		handler: handler,
		machine: machine,
		bus:     b,
		logger:  logger,
		recon:   newReconnector(cfg),
	}
}

// Connect dials the push endpoint and starts the read and heartbeat loops.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return nil
	}
	t.intentional = false
	t.mu.Unlock()

	_ = t.machine.Transition(status.Connecting)

	wsURL := strings.Replace(t.cfg.URL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "?token=" + t.cfg.Token

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		_ = t.machine.Transition(status.Disconnected)
		return fmt.Errorf("dial push channel: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	// Stop the previous connection's loops before handing over. A reconnect
	// would otherwise leave the old heartbeat goroutine ticking until its next
	// failed ping.
	if t.cancel != nil {
		t.cancel()
	}
	t.conn = conn
	t.cancel = cancel
	t.mu.Unlock()

	_ = t.machine.Transition(status.Connected)
	t.recon.markConnected()
	t.bus.Publish(bus.Event{Kind: bus.KindPushConnected, Timestamp: time.Now()})

	go t.readLoop(loopCtx, conn)
	go t.heartbeatLoop(loopCtx, conn)

	return nil
}

// Close tears the connection down for good. Safe to call repeatedly.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.intentional = true
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	_ = t.machine.Transition(status.Closed)

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client shutdown")
	}
	return nil
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.mu.Lock()
			intentional := t.intentional
			if t.conn == conn {
				t.conn = nil
			}
			t.mu.Unlock()
			if intentional {
				return
			}

			t.logger.Warn("push channel dropped", zap.Error(err))
			t.bus.Publish(bus.Event{Kind: bus.KindPushDisconnected, Timestamp: time.Now()})
			_ = t.machine.Transition(status.Reconnecting)
			t.reconnectLoop()
			return
		}
		t.handler(data)
	}
}

func (t *Transport) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				// Force the read loop onto its reconnect path.
				_ = conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (t *Transport) reconnectLoop() {
	for t.recon.shouldReconnect() {
		delay := t.recon.nextDelay()
		t.logger.Info("push channel reconnecting",
			zap.Int("attempt", t.recon.attempt), zap.Duration("delay", delay))
		time.Sleep(delay)

		t.mu.Lock()
		intentional := t.intentional
		t.mu.Unlock()
		if intentional {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := t.Connect(ctx)
		cancel()
		if err == nil {
			t.bus.Publish(bus.Event{Kind: bus.KindPushReconnected, Timestamp: time.Now()})
			return
		}
		_ = t.machine.Transition(status.Reconnecting)
	}

	t.logger.Error("push channel gave up reconnecting",
		zap.Int("attempts", t.recon.attempt))
	_ = t.machine.Transition(status.Disconnected)
}

// reconnector computes exponential backoff with jitter. The attempt counter
// resets after a connection that held for over a minute.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(cfg TransportConfig) *reconnector {
	return &reconnector{
		baseDelay:   cfg.ReconnectBaseDelay,
		maxDelay:    cfg.ReconnectMaxDelay,
		maxAttempts: cfg.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}
