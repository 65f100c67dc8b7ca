// Package api talks to the portal's REST endpoints for message history,
// fallback sends and conversation summaries, and serves the local status
// endpoints of the chat client.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"classchat/pkg/interfaces"
	"classchat/pkg/log"
	"classchat/pkg/types"
)

var _ interfaces.MessageAPI = (*Client)(nil)

// Client is the REST collaborator
// ARCHITECTURAL DISCOVERY: The token is swappable at runtime so a refreshed
// access token reaches REST calls without rebuilding the client
type Client struct {
	base *url.URL
	http *http.Client
	log  zerolog.Logger

	mu    sync.RWMutex
	token string
}

// NewClient creates a client for baseURL. timeout bounds every request.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base: u,
		http: &http.Client{Timeout: timeout},
		log:  log.WithComponent("api"),
	}, nil
}

// SetToken replaces the bearer token used by later requests
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// ConversationHistory fetches the messages exchanged with partnerID
func (c *Client) ConversationHistory(ctx context.Context, partnerID int64) ([]types.Message, error) {
	var messages []types.Message
	path := "/api/messages/conversation/" + strconv.FormatInt(partnerID, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

type sendRequest struct {
	ReceiverID int64  `json:"receiver_id"`
	Content    string `json:"content"`
}

// SendMessage creates a message through REST
func (c *Client) SendMessage(ctx context.Context, receiverID int64, content string) (*types.Message, error) {
	var msg types.Message
	body := sendRequest{ReceiverID: receiverID, Content: content}
	if err := c.do(ctx, http.MethodPost, "/api/messages/send", body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Conversations lists the conversation summaries of the logged-in user
func (c *Client) Conversations(ctx context.Context) ([]types.Conversation, error) {
	var conversations []types.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/messages/conversations", nil, &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

// UnreadCount returns the total number of unread messages
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		UnreadCount int `json:"unread_count"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/messages/unread/count", nil, &out); err != nil {
		return 0, err
	}
	return out.UnreadCount, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token == "" {
		return ErrNoToken
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	u := *c.base
	u.Path = c.base.Path + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("method", method).Str("path", path).Msg("Request failed")
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("API request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// decodeError reads the backend's {"detail": ...} body. Validation errors
// carry a list instead of a string, which is kept as raw JSON.
func decodeError(resp *http.Response) error {
	apiErr := &Error{StatusCode: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err == nil && len(body.Detail) > 0 {
		var detail string
		if json.Unmarshal(body.Detail, &detail) == nil {
			apiErr.Detail = detail
		} else {
			apiErr.Detail = string(body.Detail)
		}
	} else {
		apiErr.Detail = strings.TrimSpace(string(data))
	}
	return apiErr
}
