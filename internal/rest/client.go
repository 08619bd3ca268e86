// Package rest is the HTTP side of the chatterd server API. The realtime
// stream only pushes deltas; everything that needs a full snapshot (the chat
// list, a chat's history) or a server-assigned resource (new chats,
// attachment uploads) goes through here.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/chatterd/chatterd/internal/protocol"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("server returned %d", e.StatusCode)
}

// Client talks to a chatterd server over HTTP with bearer auth.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient builds a client for the given server base URL (scheme + host,
// no trailing slash) authenticating with token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Detail: errorDetail(data)}
	}
	return data, nil
}

// errorDetail pulls the "detail" field out of an error body, falling back to
// the raw body.
func errorDetail(data []byte) string {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Detail != "" {
		return body.Detail
	}
	return strings.TrimSpace(string(data))
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ListChats fetches the full chat list for the authenticated user, most
// recently active first.
func (c *Client) ListChats(ctx context.Context) ([]protocol.ChatSummary, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/api/chats/", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	chats, err := decodeJSON[[]protocol.ChatSummary](data)
	if err != nil {
		return nil, err
	}
	return *chats, nil
}

// ListMessages fetches the message history of a chat, oldest first.
func (c *Client) ListMessages(ctx context.Context, chatID int64) ([]protocol.Message, error) {
	data, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/api/chats/%d/messages/", chatID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for chat %d: %w", chatID, err)
	}
	msgs, err := decodeJSON[[]protocol.Message](data)
	if err != nil {
		return nil, err
	}
	return *msgs, nil
}

// CreateChat creates a named (usually group) chat with the given members.
func (c *Client) CreateChat(ctx context.Context, name string, isGroup bool, participantIDs []int64) (*protocol.ChatSummary, error) {
	body := map[string]any{
		"name":            name,
		"is_group":        isGroup,
		"participant_ids": participantIDs,
	}
	data, err := c.doRequest(ctx, http.MethodPost, "/api/chats/", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return decodeJSON[protocol.ChatSummary](data)
}

// CreateDirectChat opens (or returns the existing) one-to-one chat with a
// user.
func (c *Client) CreateDirectChat(ctx context.Context, userID int64) (*protocol.ChatSummary, error) {
	data, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/api/chats/direct/%d", userID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create direct chat with user %d: %w", userID, err)
	}
	return decodeJSON[protocol.ChatSummary](data)
}

// AddParticipant adds a user to a group chat.
func (c *Client) AddParticipant(ctx context.Context, chatID, userID int64) error {
	_, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/api/chats/%d/participants/%d", chatID, userID), nil)
	if err != nil {
		return fmt.Errorf("failed to add user %d to chat %d: %w", userID, chatID, err)
	}
	return nil
}

// DeleteChat deletes a chat on the server. Members are notified over the
// realtime stream.
func (c *Client) DeleteChat(ctx context.Context, chatID int64) error {
	_, err := c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/api/chats/%d", chatID), nil)
	if err != nil {
		return fmt.Errorf("failed to delete chat %d: %w", chatID, err)
	}
	return nil
}

// UploadAttachment sends a file as a multipart upload and returns the message
// the server created for it. The server broadcasts the same message to the
// other members; the uploader does not get an echo.
func (c *Client) UploadAttachment(ctx context.Context, chatID int64, filename string, r io.Reader) (*protocol.Message, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish upload form: %w", err)
	}

	url := fmt.Sprintf("%s/api/chats/%d/messages/upload", c.baseURL, chatID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Detail: errorDetail(data)}
	}
	return decodeJSON[protocol.Message](data)
}
