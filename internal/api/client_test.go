package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	auth string
	body map[string]interface{}
}

// newBackend routes the portal's message endpoints the way the real API does
func newBackend(t *testing.T) (*httptest.Server, *received) {
	t.Helper()
	rec := &received{}
	r := chi.NewRouter()

	r.Route("/api/messages", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				rec.auth = req.Header.Get("Authorization")
				if rec.auth != "Bearer good-token" {
					w.WriteHeader(http.StatusUnauthorized)
					_, _ = w.Write([]byte(`{"detail":"Could not validate credentials"}`))
					return
				}
				next.ServeHTTP(w, req)
			})
		})

		r.Get("/conversation/{partnerID}", func(w http.ResponseWriter, req *http.Request) {
			if chi.URLParam(req, "partnerID") != "3" {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"detail":"User not found"}`))
				return
			}
			_, _ = w.Write([]byte(`[
				{"id":1,"sender_id":3,"receiver_id":7,"content":"hi","timestamp":"2024-03-01T09:00:00","is_read":true,"read_at":"2024-03-01T09:01:00"},
				{"id":2,"sender_id":7,"receiver_id":3,"content":"hello","timestamp":"2024-03-01T09:02:00.123456","is_read":false,"read_at":null}
			]`))
		})

		r.Post("/send", func(w http.ResponseWriter, req *http.Request) {
			_ = json.NewDecoder(req.Body).Decode(&rec.body)
			if rec.body["content"] == "" {
				w.WriteHeader(http.StatusUnprocessableEntity)
				_, _ = w.Write([]byte(`{"detail":[{"loc":["body","content"],"msg":"field required"}]}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":99,"sender_id":7,"receiver_id":3,"content":"sent","timestamp":"2024-03-01T09:03:00Z","is_read":false}`))
		})

		r.Get("/conversations", func(w http.ResponseWriter, req *http.Request) {
			_, _ = w.Write([]byte(`[{"id":3,"username":"ana","full_name":"Ana Lima","class_id":1,"class_name":"10","section_name":"A","unread_count":2}]`))
		})

		r.Get("/unread/count", func(w http.ResponseWriter, req *http.Request) {
			_, _ = w.Write([]byte(`{"unread_count":5}`))
		})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, rec
}

func newTestClient(t *testing.T, srv *httptest.Server, token string) *Client {
	t.Helper()
	c, err := NewClient(srv.URL+"/", time.Second)
	require.NoError(t, err)
	c.SetToken(token)
	return c
}

func TestClient_ConversationHistory(t *testing.T) {
	srv, rec := newBackend(t)
	c := newTestClient(t, srv, "good-token")

	messages, err := c.ConversationHistory(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, messages, 2)

	assert.Equal(t, "Bearer good-token", rec.auth)
	assert.Equal(t, int64(1), messages[0].ID)
	assert.True(t, messages[0].IsRead)
	require.NotNil(t, messages[0].ReadAt)
	assert.Nil(t, messages[1].ReadAt)
	assert.Equal(t, 123456000, messages[1].Timestamp.Nanosecond())
	assert.False(t, messages[1].IsSending)
}

func TestClient_SendMessage(t *testing.T) {
	srv, rec := newBackend(t)
	c := newTestClient(t, srv, "good-token")

	msg, err := c.SendMessage(context.Background(), 3, "sent")
	require.NoError(t, err)

	assert.Equal(t, int64(99), msg.ID)
	assert.Equal(t, map[string]interface{}{"receiver_id": float64(3), "content": "sent"}, rec.body)
}

func TestClient_Conversations(t *testing.T) {
	srv, _ := newBackend(t)
	c := newTestClient(t, srv, "good-token")

	conversations, err := c.Conversations(context.Background())
	require.NoError(t, err)
	require.Len(t, conversations, 1)

	conv := conversations[0]
	assert.Equal(t, int64(3), conv.ID)
	assert.Equal(t, "Ana Lima", conv.DisplayName())
	assert.Equal(t, 2, conv.UnreadCount)
	require.NotNil(t, conv.ClassID)
	assert.Nil(t, conv.SectionID)

	count, err := c.UnreadCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestClient_Errors(t *testing.T) {
	srv, _ := newBackend(t)

	_, err := newTestClient(t, srv, "expired").Conversations(context.Background())
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Could not validate credentials", apiErr.Detail)

	c := newTestClient(t, srv, "good-token")
	_, err = c.ConversationHistory(context.Background(), 42)
	assert.True(t, IsStatus(err, http.StatusNotFound))

	_, err = c.SendMessage(context.Background(), 3, "")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Contains(t, apiErr.Detail, "field required")
}

func TestClient_RequiresToken(t *testing.T) {
	srv, _ := newBackend(t)
	c := newTestClient(t, srv, "")

	_, err := c.Conversations(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestClient_ContextCancel(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	c := newTestClient(t, srv, "good-token")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.SendMessage(ctx, 3, "hi")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	for _, base := range []string{"", "ftp://portal", "portal.example.com", "http://"} {
		_, err := NewClient(base, time.Second)
		assert.ErrorIs(t, err, ErrInvalidBaseURL, base)
	}
}
