package app

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lojinha/chatsync/internal/bus"
	"github.com/lojinha/chatsync/internal/cache"
	"github.com/lojinha/chatsync/internal/chat"
	"github.com/lojinha/chatsync/internal/push"
)

type stubRemote struct {
	mu            sync.Mutex
	messages      map[int64][]chat.Message
	conversations []chat.Conversation
	fetchCalls    int
}

func newStubRemote() *stubRemote {
	return &stubRemote{messages: make(map[int64][]chat.Message)}
}

func (s *stubRemote) FetchMessages(_ context.Context, conversationID int64) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchCalls++
	return append([]chat.Message(nil), s.messages[conversationID]...), nil
}

func (s *stubRemote) SendMessage(_ context.Context, conversationID int64, draft chat.Draft) (chat.Message, error) {
	return chat.Message{
		ID: 1, ConversationID: conversationID, Sender: chat.RoleAdmin,
		Kind: draft.Kind, Body: draft.Body, CreatedAt: time.Now(), Confirmed: true,
	}, nil
}

func (s *stubRemote) MarkRead(context.Context, int64, chat.Role) error { return nil }

func (s *stubRemote) FetchConversations(context.Context) ([]chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.Conversation(nil), s.conversations...), nil
}

func (s *stubRemote) UploadAttachment(context.Context, string, io.Reader) (chat.Upload, error) {
	return chat.Upload{}, nil
}

func testEngine(t *testing.T, remote chat.Remote) (*Engine, *push.Manager) {
	t.Helper()
	b := bus.New()
	m := push.NewManager(b, zap.NewNop())
	e := NewEngine(chat.RoleAdmin, remote, cache.NewMemory(64, zap.NewNop()), b, m, zap.NewNop())
	e.Start(context.Background())
	t.Cleanup(e.Stop)
	return e, m
}

func insertFrame(conversationID, id int64) []byte {
	return []byte(fmt.Sprintf(
		`{"op": "insert", "message": {"id": %d, "conversation_id": %d, "sender": "company", "kind": "text", "body": "oi", "created_at": "2026-08-30T12:00:00Z"}}`,
		id, conversationID))
}

func TestOpenThreadLoadsAndDedupes(t *testing.T) {
	remote := newStubRemote()
	remote.messages[7] = []chat.Message{
		{ID: 1, ConversationID: 7, Sender: chat.RoleCompany, Kind: chat.KindText, Body: "oi", CreatedAt: time.Now(), Confirmed: true},
	}

	e, _ := testEngine(t, remote)

	th, err := e.OpenThread(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(th.Messages()) != 1 {
		t.Fatalf("got %d messages, want 1", len(th.Messages()))
	}

	again, err := e.OpenThread(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if again != th {
		t.Error("second OpenThread returned a different thread")
	}
}

func TestPushInsertReachesOpenThreadAndInbox(t *testing.T) {
	remote := newStubRemote()
	e, m := testEngine(t, remote)

	th, err := e.OpenThread(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}

	m.HandleFrame(insertFrame(7, 42))

	if len(th.Messages()) != 1 {
		t.Fatalf("thread has %d messages, want 1", len(th.Messages()))
	}
	convs := e.Inbox().Conversations()
	if len(convs) != 1 || convs[0].CounterpartyID != 7 || convs[0].UnreadCount != 1 {
		t.Errorf("inbox = %+v, want one row for conversation 7 with 1 unread", convs)
	}
}

func TestCloseThreadStopsDelivery(t *testing.T) {
	remote := newStubRemote()
	e, m := testEngine(t, remote)

	th, err := e.OpenThread(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	e.CloseThread(7)

	m.HandleFrame(insertFrame(7, 42))

	if len(th.Messages()) != 0 {
		t.Errorf("closed thread received %d messages", len(th.Messages()))
	}
	// The inbox still hears about it through the global subscription.
	if convs := e.Inbox().Conversations(); len(convs) != 1 {
		t.Errorf("inbox rows = %d, want 1", len(convs))
	}
}

func TestStopClosesGlobalSubscription(t *testing.T) {
	remote := newStubRemote()
	e, m := testEngine(t, remote)

	e.Stop()
	m.HandleFrame(insertFrame(7, 42))

	if convs := e.Inbox().Conversations(); len(convs) != 0 {
		t.Errorf("stopped engine inbox received %d rows", len(convs))
	}
}
