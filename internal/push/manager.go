package push

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lojinha/chatsync/internal/bus"
	"github.com/lojinha/chatsync/internal/chat"
)

// reconnectFreshness is the cache age beyond which a thread refetches after a
// transport reconnect, closing any gap of events missed while disconnected.
const reconnectFreshness = 30 * time.Second

// InsertSink receives insert events. The inbox is an InsertSink.
type InsertSink interface {
	ApplyInsert(chat.Message)
}

// EventSink receives insert and update events for one conversation. Threads
// are EventSinks.
type EventSink interface {
	InsertSink
	ApplyUpdate(chat.Message)
}

// refresher is implemented by sinks that can reconcile-by-refetch.
type refresher interface {
	RefreshIfStale(ctx context.Context, threshold time.Duration) error
}

// Manager routes incoming change events to the right sink and owns
// subscription lifecycles. One global subscription covers inserts across all
// conversations; one scoped subscription per open conversation covers inserts
// and updates for it. Re-opening an already open scope replaces the sink
// instead of leaking a second listener.
type Manager struct {
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc

	mu     sync.Mutex
	global InsertSink
	convs  map[int64]EventSink
}

// NewManager creates a push routing manager.
func NewManager(b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		bus:    b,
		logger: logger,
		convs:  make(map[int64]EventSink),
	}
}

// Start subscribes to transport events on the bus. On reconnect, scoped sinks
// that can refetch are nudged to do so.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	ch, unsub := m.bus.Subscribe("push.", 64)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if evt.Kind == bus.KindPushReconnected {
					m.refreshSinks(ctx)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the manager's bus loop.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// HandleFrame is the transport's delivery callback. Malformed frames are
// dropped; routing misses are ignored (the conversation is simply not open).
func (m *Manager) HandleFrame(raw []byte) {
	ev, err := ParseEvent(raw)
	if err != nil {
		m.logger.Debug("dropping malformed push frame", zap.Error(err))
		return
	}

	m.mu.Lock()
	global := m.global
	scoped := m.convs[ev.Message.ConversationID]
	m.mu.Unlock()

	switch ev.Op {
	case OpInsert:
		if global != nil {
			global.ApplyInsert(ev.Message)
		}
		if scoped != nil {
			scoped.ApplyInsert(ev.Message)
		}
	case OpUpdate:
		if scoped != nil {
			scoped.ApplyUpdate(ev.Message)
		}
	}
}

// OpenGlobal subscribes sink to insert events across all conversations.
// Only one global listener exists; re-opening replaces it.
func (m *Manager) OpenGlobal(sink InsertSink) *Subscription {
	m.mu.Lock()
	m.global = sink
	m.mu.Unlock()

	return newSubscription(func() {
		m.mu.Lock()
		if m.global == sink {
			m.global = nil
		}
		m.mu.Unlock()
	})
}

// OpenConversation subscribes sink to insert and update events for one
// conversation. Re-opening an open scope replaces the sink rather than
// stacking a second listener.
func (m *Manager) OpenConversation(conversationID int64, sink EventSink) *Subscription {
	m.mu.Lock()
	m.convs[conversationID] = sink
	m.mu.Unlock()

	return newSubscription(func() {
		m.mu.Lock()
		if m.convs[conversationID] == sink {
			delete(m.convs, conversationID)
		}
		m.mu.Unlock()
	})
}

func (m *Manager) refreshSinks(ctx context.Context) {
	m.mu.Lock()
	sinks := make([]EventSink, 0, len(m.convs))
	for _, s := range m.convs {
		sinks = append(sinks, s)
	}
	m.mu.Unlock()

	for _, s := range sinks {
		r, ok := s.(refresher)
		if !ok {
			continue
		}
		if err := r.RefreshIfStale(ctx, reconnectFreshness); err != nil {
			m.logger.Warn("post-reconnect refresh failed", zap.Error(err))
		}
	}
}

// Subscription is one open push-channel listener. Close is idempotent: the
// owning view's teardown may run more than once.
type Subscription struct {
	once    sync.Once
	release func()
}

func newSubscription(release func()) *Subscription {
	return &Subscription{release: release}
}

// Close releases the subscription. Calling it again is a no-op.
func (s *Subscription) Close() {
	s.once.Do(s.release)
}
