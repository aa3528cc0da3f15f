// Package campuschat is the Go client engine for the NextGen campus chat
// subsystem.
//
// It keeps one authenticated socket connection, tracks any number of direct
// and group conversations, merges REST-fetched history with live socket
// events into one consistent per-room timeline, and drives the multi-window
// chat overlay (floating panes, focus, minimize, unread counters).
//
// Example:
//
//	client := campuschat.NewClient("https://campus.example.com/api", token)
//	engine := campuschat.NewEngine(client, me)
//	rt := campuschat.NewRealtime(campuschat.RealtimeConfig{URL: wsURL, Token: token})
//	engine.Attach(rt)
//
//	_ = rt.Connect(ctx)
//	_ = engine.OpenWindow(ctx, campuschat.WindowConfig{Key: campuschat.ChatRoom("42")})
//	_, _ = engine.SendMessage(ctx, campuschat.ChatRoom("42"),
//		campuschat.SendPayload{Content: "hello", MessageType: "text"}, nil)
package campuschat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds every REST call.
	DefaultTimeout = 30 * time.Second

	// DefaultPageSize is the history page size. The backend caps limit at
	// 200 and defaults to 50; we ask for 50 explicitly so the has-more
	// signal (page length >= limit) stays well defined.
	DefaultPageSize = 50

	// MaxAttachments is the per-message attachment cap.
	MaxAttachments = 5

	// MaxAttachmentSize is the per-file size cap enforced before upload.
	MaxAttachmentSize = 25 * 1024 * 1024
)

// Validation errors, raised before any network call is made.
var (
	ErrTooManyAttachments = errors.New("too many attachments (max 5 per message)")
	ErrAttachmentTooLarge = errors.New("attachment exceeds 25MB limit")
)

// ============================================================================
// Client
// ============================================================================

// Client is the REST gateway for the chat backend.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout overrides the default request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a chat REST client. baseURL is the API root (e.g.
// "https://campus.example.com/api"); token is the signed-in user's bearer
// token.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the bearer token, e.g. after a refresh.
func (c *Client) SetToken(token string) {
	c.token = token
}

// ============================================================================
// Internal request helpers
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	var bodyReader io.Reader
	contentType := ""
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, bodyReader, contentType, query)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var parsed struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &parsed) == nil && parsed.Message != "" {
			apiErr.Code = parsed.Code
			apiErr.Message = parsed.Message
		}
		return nil, apiErr
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func pageQuery(opts *PageOptions) map[string]string {
	limit := DefaultPageSize
	q := map[string]string{}
	if opts != nil {
		if opts.Limit > 0 {
			limit = opts.Limit
		}
		if opts.Before != "" {
			q["before"] = opts.Before
		}
	}
	q["limit"] = strconv.Itoa(limit)
	return q
}

// ============================================================================
// Sessions
// ============================================================================

// ListChats fetches the full list of the user's direct chat sessions.
func (c *Client) ListChats(ctx context.Context) ([]ChatSession, error) {
	data, err := c.doRequest(ctx, "GET", "/chats", nil, nil)
	if err != nil {
		return nil, err
	}
	sessions, err := decodeJSON[[]ChatSession](data)
	if err != nil {
		return nil, err
	}
	return *sessions, nil
}

// ListGroupChats fetches the full list of the user's group chats.
func (c *Client) ListGroupChats(ctx context.Context) ([]GroupChat, error) {
	data, err := c.doRequest(ctx, "GET", "/group-chats", nil, nil)
	if err != nil {
		return nil, err
	}
	groups, err := decodeJSON[[]GroupChat](data)
	if err != nil {
		return nil, err
	}
	return *groups, nil
}

// StartChat creates (or fetches, if it already exists) the 1:1 session with
// the given participant.
func (c *Client) StartChat(ctx context.Context, opts *StartChatOptions) (*ChatSession, error) {
	data, err := c.doRequest(ctx, "POST", "/chats/start", opts, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[ChatSession](data)
}

// CreateGroupChat creates a group chat. Membership is fixed at creation.
func (c *Client) CreateGroupChat(ctx context.Context, opts *CreateGroupOptions) (*GroupChat, error) {
	data, err := c.doRequest(ctx, "POST", "/group-chats", opts, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[GroupChat](data)
}

// SearchParticipants queries the user directory for starting new chats or
// assembling groups.
func (c *Client) SearchParticipants(ctx context.Context, search string, limit int) ([]Participant, error) {
	if limit <= 0 {
		limit = 10
	}
	data, err := c.doRequest(ctx, "GET", "/chats/participants", nil, map[string]string{
		"search": search, "limit": strconv.Itoa(limit),
	})
	if err != nil {
		return nil, err
	}
	var result struct {
		Participants []Participant `json:"participants"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return result.Participants, nil
}

// ============================================================================
// Message history
// ============================================================================

// FetchChatMessages fetches one page of a direct chat's history, returned
// oldest-first. Pass Before to page backwards from the oldest cached message.
func (c *Client) FetchChatMessages(ctx context.Context, chatID string, opts *PageOptions) ([]Message, error) {
	return c.fetchMessages(ctx, "/chats/"+chatID+"/messages", opts)
}

// FetchGroupMessages is FetchChatMessages for a group chat.
func (c *Client) FetchGroupMessages(ctx context.Context, groupID string, opts *PageOptions) ([]Message, error) {
	return c.fetchMessages(ctx, "/group-chats/"+groupID+"/messages", opts)
}

// FetchRoomMessages routes to the chat or group history endpoint by room kind.
func (c *Client) FetchRoomMessages(ctx context.Context, room RoomKey, opts *PageOptions) ([]Message, error) {
	if room.Kind == RoomGroup {
		return c.FetchGroupMessages(ctx, room.ID, opts)
	}
	return c.FetchChatMessages(ctx, room.ID, opts)
}

func (c *Client) fetchMessages(ctx context.Context, path string, opts *PageOptions) ([]Message, error) {
	data, err := c.doRequest(ctx, "GET", path, nil, pageQuery(opts))
	if err != nil {
		return nil, err
	}
	msgs, err := decodeJSON[[]Message](data)
	if err != nil {
		return nil, err
	}
	return *msgs, nil
}

// ============================================================================
// Sending
// ============================================================================

// SendChatMessage submits a message to a direct chat. With no files the body
// is JSON; with files it is multipart with a repeated "files" field. The
// returned message carries the canonical server id and timestamp.
func (c *Client) SendChatMessage(ctx context.Context, chatID string, payload SendPayload, files []AttachmentFile) (*Message, error) {
	return c.sendMessage(ctx, "/chats/"+chatID+"/messages", payload, files)
}

// SendGroupMessage is SendChatMessage for a group chat.
func (c *Client) SendGroupMessage(ctx context.Context, groupID string, payload SendPayload, files []AttachmentFile) (*Message, error) {
	return c.sendMessage(ctx, "/group-chats/"+groupID+"/messages", payload, files)
}

// SendRoomMessage routes to the chat or group send endpoint by room kind.
func (c *Client) SendRoomMessage(ctx context.Context, room RoomKey, payload SendPayload, files []AttachmentFile) (*Message, error) {
	if room.Kind == RoomGroup {
		return c.SendGroupMessage(ctx, room.ID, payload, files)
	}
	return c.SendChatMessage(ctx, room.ID, payload, files)
}

func (c *Client) sendMessage(ctx context.Context, path string, payload SendPayload, files []AttachmentFile) (*Message, error) {
	if err := ValidateAttachments(files); err != nil {
		return nil, err
	}
	if payload.MessageType == "" {
		if len(files) > 0 {
			payload.MessageType = "attachment"
		} else {
			payload.MessageType = "text"
		}
	}

	var data []byte
	var err error
	if len(files) == 0 {
		data, err = c.doRequest(ctx, "POST", path, payload, nil)
	} else {
		data, err = c.sendMultipart(ctx, path, payload, files)
	}
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

func (c *Client) sendMultipart(ctx context.Context, path string, payload SendPayload, files []AttachmentFile) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if payload.Content != "" {
		_ = w.WriteField("content", payload.Content)
	}
	_ = w.WriteField("message_type", payload.MessageType)
	if payload.Meta != nil {
		meta, err := json.Marshal(payload.Meta)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal meta: %w", err)
		}
		_ = w.WriteField("meta", string(meta))
	}

	for _, f := range files {
		part, err := w.CreateFormFile("files", f.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("failed to write file data: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	return c.do(ctx, "POST", path, &buf, w.FormDataContentType(), nil)
}

// ValidateAttachments enforces the attachment count and size caps. It is run
// by the send pipeline before any network call so a rejected draft keeps its
// content and files intact.
func ValidateAttachments(files []AttachmentFile) error {
	if len(files) > MaxAttachments {
		return ErrTooManyAttachments
	}
	for _, f := range files {
		if int64(len(f.Data)) > MaxAttachmentSize {
			return fmt.Errorf("%w: %s", ErrAttachmentTooLarge, f.Name)
		}
	}
	return nil
}
