package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lojinha/chatsync/internal/chat"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL: srv.URL,
		Token:   "t0k3n",
		Viewer:  chat.RoleAdmin,
		Timeout: 2 * time.Second,
	}, zap.NewNop())
}

func TestFetchMessages(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/conversations/7/messages", r.URL.Path)
		require.Equal(t, "Bearer t0k3n", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id": 1, "conversation_id": 7, "sender": "company", "kind": "text", "body": "hi", "created_at": "2026-08-30T12:00:00Z"},
			{"id": 2, "conversation_id": 7, "sender": "admin", "kind": "text", "body": "hello", "created_at": "2026-08-30T12:01:00Z"}
		]`))
	}))

	msgs, err := c.FetchMessages(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, chat.RoleCompany, msgs[0].Sender)
	require.Equal(t, "hi", msgs[0].Body)
}

func TestSendMessageCarriesViewerRole(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/conversations/7/messages", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "admin", req["sender"])
		require.Equal(t, "text", req["kind"])
		require.Equal(t, "hello", req["body"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 42, "conversation_id": 7, "sender": "admin", "kind": "text", "body": "hello", "created_at": "2026-08-30T12:00:00Z"}`))
	}))

	msg, err := c.SendMessage(context.Background(), 7, chat.Draft{Kind: chat.KindText, Body: "hello"})
	require.NoError(t, err)
	require.Equal(t, int64(42), msg.ID)
}

func TestSendMessageBackendError(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := c.SendMessage(context.Background(), 7, chat.Draft{Kind: chat.KindText, Body: "x"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}

func TestMarkRead(t *testing.T) {
	var gotReader string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/conversations/9/read", r.URL.Path)
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotReader = req["reader"]
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, c.MarkRead(context.Background(), 9, chat.RoleAdmin))
	require.Equal(t, "admin", gotReader)
}

func TestFetchConversations(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/conversations", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"counterparty_id": 10, "display_name": "Alfa SA", "unread_count": 3, "last_message_at": "2026-08-30T12:00:00Z"}
		]`))
	}))

	convs, err := c.FetchConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, int64(10), convs[0].CounterpartyID)
	require.Equal(t, 3, convs[0].UnreadCount)
}

func TestUploadAttachment(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/uploads", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer func() { _ = f.Close() }()
		require.Equal(t, "photo.jpg", header.Filename)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url": "https://cdn.example.com/photo.jpg", "filename": "photo.jpg", "size": 4, "mime_type": "image/jpeg"}`))
	}))

	up, err := c.UploadAttachment(context.Background(), "photo.jpg", strings.NewReader("data"))
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/photo.jpg", up.URL)
	require.Equal(t, int64(4), up.Size)
}

func TestNetworkFailure(t *testing.T) {
	c := NewClient(Config{
		BaseURL: "http://127.0.0.1:1", // nothing listens here
		Viewer:  chat.RoleAdmin,
		Timeout: 500 * time.Millisecond,
	}, zap.NewNop())

	_, err := c.FetchMessages(context.Background(), 1)
	require.Error(t, err)
}
