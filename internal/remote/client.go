// Package remote is the REST client for the hosted marketplace backend. It
// implements chat.Remote; everything behind these endpoints is an external
// collaborator.
package remote

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/lojinha/chatsync/internal/chat"
)

// Config holds the backend connection settings.
type Config struct {
	BaseURL string
	Token   string
	// Viewer is the role this client writes as (admin or company).
	Viewer  chat.Role
	Timeout time.Duration
}

// Client talks to the backend chat endpoints.
type Client struct {
	http   *resty.Client
	viewer chat.Role
	logger *zap.Logger
}

// NewClient creates a backend client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	httpc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.Token).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &Client{http: httpc, viewer: cfg.Viewer, logger: logger}
}

// FetchMessages returns the full ordered message list of a conversation.
func (c *Client) FetchMessages(ctx context.Context, conversationID int64) ([]chat.Message, error) {
	var msgs []chat.Message
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&msgs).
		Get(fmt.Sprintf("/conversations/%d/messages", conversationID))
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch messages: backend returned %s", resp.Status())
	}
	return msgs, nil
}

type sendMessageRequest struct {
	Sender     chat.Role          `json:"sender"`
	Kind       chat.Kind          `json:"kind"`
	Body       string             `json:"body,omitempty"`
	Attachment *chat.Attachment   `json:"attachment,omitempty"`
	ReplyTo    *chat.ReplySummary `json:"reply_to,omitempty"`
}

// SendMessage writes a message and returns the authoritative, server-assigned
// row. The response carrying the server ID is the primary reconciliation
// path; the push echo is redundant with it.
func (c *Client) SendMessage(ctx context.Context, conversationID int64, draft chat.Draft) (chat.Message, error) {
	var msg chat.Message
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(sendMessageRequest{
			Sender:     c.viewer,
			Kind:       draft.Kind,
			Body:       draft.Body,
			Attachment: draft.Attachment,
			ReplyTo:    draft.ReplyTo,
		}).
		SetResult(&msg).
		Post(fmt.Sprintf("/conversations/%d/messages", conversationID))
	if err != nil {
		return chat.Message{}, fmt.Errorf("send message: %w", err)
	}
	if resp.IsError() {
		return chat.Message{}, fmt.Errorf("send message: backend returned %s", resp.Status())
	}
	return msg, nil
}

type markReadRequest struct {
	Reader chat.Role `json:"reader"`
}

// MarkRead marks every counterpart message in the conversation as read by
// reader.
func (c *Client) MarkRead(ctx context.Context, conversationID int64, reader chat.Role) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(markReadRequest{Reader: reader}).
		Post(fmt.Sprintf("/conversations/%d/read", conversationID))
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("mark read: backend returned %s", resp.Status())
	}
	return nil
}

// FetchConversations returns the viewer's inbox rows, most recent first.
func (c *Client) FetchConversations(ctx context.Context) ([]chat.Conversation, error) {
	var convs []chat.Conversation
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&convs).
		Get("/conversations")
	if err != nil {
		return nil, fmt.Errorf("fetch conversations: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch conversations: backend returned %s", resp.Status())
	}
	return convs, nil
}

// UploadAttachment streams a file to the backend and returns its reference.
func (c *Client) UploadAttachment(ctx context.Context, filename string, r io.Reader) (chat.Upload, error) {
	var up chat.Upload
	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("file", filename, r).
		SetResult(&up).
		Post("/uploads")
	if err != nil {
		return chat.Upload{}, fmt.Errorf("upload attachment: %w", err)
	}
	if resp.IsError() {
		return chat.Upload{}, fmt.Errorf("upload attachment: backend returned %s", resp.Status())
	}
	return up, nil
}
