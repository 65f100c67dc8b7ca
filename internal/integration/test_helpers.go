// Package integration runs the chat client end to end against an in-process
// fake of the portal backend.
package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"classchat/pkg/types"
)

// Portal is a fake of the portal backend: the chat socket at /ws/chat/{id}
// and the /api/messages REST routes, sharing one in-memory message store.
// Frames follow the production server: new_message to the receiver,
// message_sent to the sender, messages_read to the original sender.
type Portal struct {
	t        *testing.T
	server   *httptest.Server
	secret   []byte
	upgrader websocket.Upgrader

	mu         sync.Mutex
	nextID     int64
	messages   []types.Message
	conns      map[int64]*portalConn
	roles      map[int64]string
	rejected   map[int64]bool
	handshakes map[int64]int
}

type portalConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *portalConn) send(v interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.conn.WriteJSON(v)
}

type userKey struct{}

// NewPortal starts the fake backend; it is shut down with the test
func NewPortal(t *testing.T) *Portal {
	t.Helper()
	p := &Portal{
		t:          t,
		secret:     []byte("portal-test-secret"),
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		nextID:     100,
		conns:      make(map[int64]*portalConn),
		roles:      make(map[int64]string),
		rejected:   make(map[int64]bool),
		handshakes: make(map[int64]int),
	}

	r := chi.NewRouter()
	r.Get("/ws/chat/{userID}", p.handleSocket)
	r.Route("/api/messages", func(r chi.Router) {
		r.Use(p.authMiddleware)
		r.Get("/conversation/{partnerID}", p.handleHistory)
		r.Post("/send", p.handleSend)
		r.Get("/conversations", p.handleConversations)
		r.Get("/unread/count", p.handleUnreadCount)
	})

	p.server = httptest.NewServer(r)
	t.Cleanup(p.server.Close)
	return p
}

func (p *Portal) URL() string {
	return p.server.URL
}

// Token signs an access token for userID the way the backend's login does
func (p *Portal) Token(userID int64, role string) string {
	p.mu.Lock()
	p.roles[userID] = role
	p.mu.Unlock()
	return p.sign(userID, role, p.secret)
}

// ForgedToken is well formed but signed with the wrong key
func (p *Portal) ForgedToken(userID int64) string {
	return p.sign(userID, "student", []byte("someone-else"))
}

func (p *Portal) sign(userID int64, role string, key []byte) string {
	p.t.Helper()
	claims := jwt.MapClaims{
		"sub":     "user" + strconv.FormatInt(userID, 10),
		"user_id": userID,
		"role":    role,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		p.t.Fatalf("sign token: %v", err)
	}
	return signed
}

// verify returns the user ID of a token signed with the portal's key
func (p *Portal) verify(tokenString string) (int64, bool) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return 0, false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, false
	}
	id, ok := claims["user_id"].(float64)
	return int64(id), ok
}

// RejectSockets makes handshakes for userID fail with 503 until called with false
func (p *Portal) RejectSockets(userID int64, reject bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejected[userID] = reject
}

// Drop closes userID's socket from the server side with code
func (p *Portal) Drop(userID int64, code int) {
	p.mu.Lock()
	c := p.conns[userID]
	p.mu.Unlock()
	if c == nil {
		return
	}
	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, "dropped"), time.Now().Add(time.Second))
	c.mu.Unlock()
	_ = c.conn.Close()
}

func (p *Portal) Online(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns[userID] != nil
}

// Handshakes counts socket upgrade attempts for userID
func (p *Portal) Handshakes(userID int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handshakes[userID]
}

// Messages returns the stored messages, oldest first
func (p *Portal) Messages() []types.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Message(nil), p.messages...)
}

func (p *Portal) push(userID int64, v interface{}) {
	p.mu.Lock()
	c := p.conns[userID]
	p.mu.Unlock()
	if c != nil {
		c.send(v)
	}
}

func (p *Portal) pushOthers(userID int64, v interface{}) {
	p.mu.Lock()
	var others []*portalConn
	for id, c := range p.conns {
		if id != userID {
			others = append(others, c)
		}
	}
	p.mu.Unlock()
	for _, c := range others {
		c.send(v)
	}
}

func (p *Portal) store(senderID, receiverID int64, content string) types.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	msg := types.Message{
		ID:         p.nextID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Timestamp:  time.Now().UTC(),
	}
	p.messages = append(p.messages, msg)
	return msg
}

func (p *Portal) handleSocket(w http.ResponseWriter, r *http.Request) {
	pathID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	p.mu.Lock()
	p.handshakes[pathID]++
	rejected := p.rejected[pathID]
	p.mu.Unlock()
	if rejected {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
		return
	}

	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	// The production server accepts first and then closes with 4001
	userID, ok := p.verify(r.URL.Query().Get("token"))
	if !ok || userID != pathID {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(types.CloseAuthRejected, "Unauthorized"), time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	c := &portalConn{conn: conn}
	p.mu.Lock()
	p.conns[userID] = c
	role := p.roles[userID]
	p.mu.Unlock()
	p.pushOthers(userID, map[string]interface{}{"type": "user_online", "user_id": userID})

	defer func() {
		p.mu.Lock()
		current := p.conns[userID] == c
		if current {
			delete(p.conns, userID)
		}
		p.mu.Unlock()
		_ = conn.Close()
		if current {
			p.pushOthers(userID, map[string]interface{}{"type": "user_offline", "user_id": userID})
		}
	}()

	for {
		var frame map[string]interface{}
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		p.handleFrame(userID, role, c, frame)
	}
}

func (p *Portal) handleFrame(userID int64, role string, c *portalConn, frame map[string]interface{}) {
	switch frame["type"] {
	case "message":
		receiverID := toInt64(frame["receiver_id"])
		content, _ := frame["content"].(string)
		if receiverID == 0 || content == "" {
			return
		}
		msg := p.store(userID, receiverID, content)
		p.push(receiverID, map[string]interface{}{"type": "new_message", "message": msg})
		ack := map[string]interface{}{"type": "message_sent", "message_id": msg.ID, "receiver_id": receiverID}
		if ref, ok := frame["client_ref"].(string); ok && ref != "" {
			ack["client_ref"] = ref
		}
		c.send(ack)
		p.push(receiverID, map[string]interface{}{"type": "typing", "from_user_id": userID, "is_typing": false})

	case "typing":
		toUserID := toInt64(frame["to_user_id"])
		isTyping, _ := frame["is_typing"].(bool)
		p.push(toUserID, map[string]interface{}{"type": "typing", "from_user_id": userID, "is_typing": isTyping})

	case "read":
		raw, _ := frame["message_ids"].([]interface{})
		senderID := toInt64(frame["sender_id"])
		now := time.Now().UTC()
		var ids []int64
		p.mu.Lock()
		for _, v := range raw {
			id := toInt64(v)
			for i := range p.messages {
				if p.messages[i].ID == id && p.messages[i].ReceiverID == userID {
					p.messages[i].IsRead = true
					p.messages[i].ReadAt = &now
					ids = append(ids, id)
				}
			}
		}
		p.mu.Unlock()
		if senderID != 0 && len(ids) > 0 {
			p.push(senderID, map[string]interface{}{
				"type":        "messages_read",
				"message_ids": ids,
				"read_by":     userID,
				"read_at":     now.Format("2006-01-02T15:04:05.000000"),
			})
		}

	case "online_status":
		raw, _ := frame["user_ids"].([]interface{})
		status := make(map[string]bool, len(raw))
		for _, v := range raw {
			id := toInt64(v)
			status[strconv.FormatInt(id, 10)] = p.Online(id)
		}
		c.send(map[string]interface{}{"type": "online_status", "status": status})

	case "broadcast":
		content, _ := frame["content"].(string)
		if role != "admin" || content == "" {
			return
		}
		p.pushOthers(userID, map[string]interface{}{
			"type":       "broadcast_message",
			"content":    content,
			"from_admin": true,
			"timestamp":  time.Now().UTC().Format("2006-01-02T15:04:05.000000"),
		})
	}
}

func toInt64(v interface{}) int64 {
	f, _ := v.(float64)
	return int64(f)
}

func (p *Portal) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		userID, ok := p.verify(token)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Could not validate credentials"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	})
}

func currentUser(r *http.Request) int64 {
	id, _ := r.Context().Value(userKey{}).(int64)
	return id
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (p *Portal) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r)
	partnerID, err := strconv.ParseInt(chi.URLParam(r, "partnerID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid partner"})
		return
	}

	history := []types.Message{}
	for _, msg := range p.Messages() {
		if (msg.SenderID == userID && msg.ReceiverID == partnerID) ||
			(msg.SenderID == partnerID && msg.ReceiverID == userID) {
			history = append(history, msg)
		}
	}
	writeJSON(w, http.StatusOK, history)
}

func (p *Portal) handleSend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ReceiverID int64  `json:"receiver_id"`
		Content    string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ReceiverID == 0 || body.Content == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "receiver_id and content are required"})
		return
	}

	msg := p.store(currentUser(r), body.ReceiverID, body.Content)
	p.push(body.ReceiverID, map[string]interface{}{"type": "new_message", "message": msg})
	writeJSON(w, http.StatusOK, msg)
}

func (p *Portal) handleConversations(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r)
	var order []int64
	unread := make(map[int64]int)
	for _, msg := range p.Messages() {
		var partner int64
		switch userID {
		case msg.SenderID:
			partner = msg.ReceiverID
		case msg.ReceiverID:
			partner = msg.SenderID
			if !msg.IsRead {
				unread[partner]++
			}
		default:
			continue
		}
		if _, seen := unread[partner]; !seen {
			unread[partner] = 0
		}
		known := false
		for _, id := range order {
			known = known || id == partner
		}
		if !known {
			order = append(order, partner)
		}
	}

	conversations := []types.Conversation{}
	for _, id := range order {
		conversations = append(conversations, types.Conversation{
			ID:          id,
			Username:    "user" + strconv.FormatInt(id, 10),
			UnreadCount: unread[id],
		})
	}
	writeJSON(w, http.StatusOK, conversations)
}

func (p *Portal) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r)
	count := 0
	for _, msg := range p.Messages() {
		if msg.ReceiverID == userID && !msg.IsRead {
			count++
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread_count": count})
}
