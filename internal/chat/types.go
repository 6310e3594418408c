// Package chat implements the conversation synchronization engine: the
// per-conversation message store with optimistic-write reconciliation, the
// aggregate inbox, and read-state propagation.
package chat

import (
	"context"
	"io"
	"time"
)

// Role identifies which side of a thread authored a message.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleCompany Role = "company"
)

// Valid reports whether the role is one of the two wire roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleCompany
}

// Kind identifies the payload type of a message.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindFile  Kind = "file"
	KindVoice Kind = "voice"
)

// Valid reports whether the kind is a known message kind.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindImage, KindVideo, KindFile, KindVoice:
		return true
	}
	return false
}

// Attachment references an uploaded media object.
type Attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	// DurationSec is set for voice and video attachments.
	DurationSec int `json:"duration_sec,omitempty"`
}

// ReplySummary is a shallow copy of the message being replied to.
type ReplySummary struct {
	ID      int64  `json:"id"`
	Sender  Role   `json:"sender"`
	Kind    Kind   `json:"kind"`
	Snippet string `json:"snippet"`
}

// Message is one entry in a conversation.
//
// ID is server-assigned and zero until the message is confirmed. LocalID is
// client-assigned, always present, and stable across reconciliation; it is
// the render key the UI tracks.
type Message struct {
	ID             int64         `json:"id,omitempty"`
	LocalID        string        `json:"local_id"`
	ConversationID int64         `json:"conversation_id"`
	Sender         Role          `json:"sender"`
	Kind           Kind          `json:"kind"`
	Body           string        `json:"body,omitempty"`
	Attachment     *Attachment   `json:"attachment,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	IsRead         bool          `json:"is_read"`
	ReplyTo        *ReplySummary `json:"reply_to,omitempty"`
	Confirmed      bool          `json:"confirmed"`
}

// Draft is the locally authored content of a message before it is sent.
type Draft struct {
	Kind       Kind
	Body       string
	Attachment *Attachment
	ReplyTo    *ReplySummary
}

// Conversation is one row of the inbox: the aggregate view of a thread with
// one counterparty. Rows are never deleted during a session.
type Conversation struct {
	CounterpartyID     int64     `json:"counterparty_id"`
	DisplayName        string    `json:"display_name"`
	LastMessageSnippet string    `json:"last_message_snippet"`
	LastMessageSender  Role      `json:"last_message_sender"`
	LastMessageAt      time.Time `json:"last_message_at"`
	UnreadCount        int       `json:"unread_count"`
}

// Upload is the result of pushing an attachment to the backend.
type Upload struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

// Remote is the hosted backend as seen by the engine. The REST client in
// internal/remote implements it; tests substitute fakes.
type Remote interface {
	FetchMessages(ctx context.Context, conversationID int64) ([]Message, error)
	SendMessage(ctx context.Context, conversationID int64, draft Draft) (Message, error)
	MarkRead(ctx context.Context, conversationID int64, reader Role) error
	FetchConversations(ctx context.Context) ([]Conversation, error)
	UploadAttachment(ctx context.Context, filename string, r io.Reader) (Upload, error)
}
