// Package session owns the logged-in user's chat lifetime: credentials, the
// connection manager, the router and every open conversation binding.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"classchat/internal/connection"
	"classchat/internal/conversation"
	"classchat/internal/router"
	"classchat/pkg/interfaces"
	"classchat/pkg/log"
	"classchat/pkg/types"
)

// API is the REST collaborator the controller hands to bindings and keeps
// authenticated
type API interface {
	interfaces.MessageAPI
	UnreadCount(ctx context.Context) (int, error)
	SetToken(token string)
}

// Claims are the portal access token claims the client reads
type Claims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// ParseToken reads the claims of an access token without verifying its
// signature. The chat server and REST API verify it; the client only needs
// the user ID and the expiry.
func ParseToken(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	// Some token issuers put the numeric ID in sub instead of user_id
	if claims.UserID == 0 && claims.Subject != "" {
		if id, err := strconv.ParseInt(claims.Subject, 10, 64); err == nil {
			claims.UserID = id
		}
	}
	return claims, nil
}

// Options configures the components the controller builds
type Options struct {
	Connection   connection.Options
	Router       router.Options
	Conversation conversation.Options
}

func DefaultOptions() Options {
	return Options{
		Connection:   connection.DefaultOptions(),
		Router:       router.DefaultOptions(),
		Conversation: conversation.DefaultOptions(),
	}
}

// Controller manages login and logout around one connection manager and router
// ARCHITECTURAL DISCOVERY: The manager and router live as long as the
// controller. Login and logout only swap credentials and reset state, so
// subscribers registered once keep working across users.
type Controller struct {
	opts    Options
	api     API
	clock   interfaces.Clock
	manager *connection.Manager
	router  *router.Router
	log     zerolog.Logger

	unsubscribe func()

	mu       sync.Mutex
	claims   *Claims
	watch    []int64
	bindings []*conversation.Binding
	closed   bool
}

// NewController builds the connection manager and router and wires inbound
// frames from one to the other. Nothing is dialed until Login.
func NewController(opts Options, dialer interfaces.Dialer, api API, clock interfaces.Clock) *Controller {
	opts.Connection.UserID = 0
	opts.Connection.Token = ""
	manager := connection.NewManager(opts.Connection, dialer, clock)
	r := router.NewRouter(manager, clock, opts.Router)
	manager.HandleFrames(r.HandleFrame)

	c := &Controller{
		opts:    opts,
		api:     api,
		clock:   clock,
		manager: manager,
		router:  r,
		log:     log.WithComponent("session"),
	}
	c.unsubscribe = manager.SubscribeState(c.onState)
	return c
}

// Login authenticates the session with token. userID may be zero, in which
// case it is read from the token. The socket is dialed before returning; a
// dial that fails for any reason other than rejected credentials leaves the
// session logged in while the manager retries in the background.
func (c *Controller) Login(ctx context.Context, token string, userID int64) (*Claims, error) {
	claims, err := c.authorize(token, userID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrSessionClosed
	}
	previous := c.claims
	c.mu.Unlock()

	if previous != nil {
		c.Logout()
	}

	c.mu.Lock()
	c.claims = claims
	c.mu.Unlock()

	c.api.SetToken(token)
	c.manager.SetCredentials(claims.UserID, token)

	logger := log.WithUserID(claims.UserID)
	if err := c.manager.Connect(ctx); err != nil {
		if types.CloseCode(err) == types.CloseAuthRejected {
			c.Logout()
			return nil, fmt.Errorf("%w: %v", ErrAuthRejected, err)
		}
		logger.Warn().Err(err).Msg("Chat socket unavailable, retrying in background")
	}

	logger.Info().Str("role", claims.Role).Msg("Logged in")
	return claims, nil
}

// authorize validates token for userID, taking the ID from the token when userID is zero
func (c *Controller) authorize(token string, userID int64) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims, err := ParseToken(token)
	if err != nil {
		return nil, err
	}

	if userID > 0 {
		if claims.UserID != 0 && claims.UserID != userID {
			return nil, ErrUserMismatch
		}
		claims.UserID = userID
	}
	if claims.UserID <= 0 {
		return nil, ErrNoUserID
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(c.clock.Now()) {
		return nil, ErrTokenExpired
	}
	return claims, nil
}

// UpdateToken swaps in a refreshed token for the same user. REST calls use it
// immediately and the next reconnect dials with it; a live socket is kept.
func (c *Controller) UpdateToken(token string) error {
	c.mu.Lock()
	current := c.claims
	c.mu.Unlock()
	if current == nil {
		return ErrNotLoggedIn
	}

	claims, err := c.authorize(token, current.UserID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.claims = claims
	c.mu.Unlock()

	c.api.SetToken(token)
	c.manager.SetCredentials(claims.UserID, token)
	c.log.Debug().Int64("user_id", claims.UserID).Msg("Access token updated")
	return nil
}

// Logout closes every open binding, drops the socket and forgets the
// credentials and presence state. Idempotent.
func (c *Controller) Logout() {
	c.mu.Lock()
	if c.claims == nil {
		c.mu.Unlock()
		return
	}
	userID := c.claims.UserID
	bindings := c.bindings
	c.bindings = nil
	c.claims = nil
	c.watch = nil
	c.mu.Unlock()

	for _, b := range bindings {
		b.Close()
	}
	c.manager.Disconnect()
	c.manager.SetCredentials(0, "")
	c.router.Reset()
	c.api.SetToken("")

	logger := log.WithUserID(userID)
	logger.Info().Msg("Logged out")
}

// Close logs out and disposes the connection manager
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.Logout()
	c.unsubscribe()
	return c.manager.Close()
}

// Claims returns the claims of the current token, nil when logged out
func (c *Controller) Claims() *Claims {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claims == nil {
		return nil
	}
	claims := *c.claims
	return &claims
}

func (c *Controller) LoggedIn() bool {
	return c.Claims() != nil
}

func (c *Controller) currentUser() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrSessionClosed
	}
	if c.claims == nil {
		return 0, ErrNotLoggedIn
	}
	return c.claims.UserID, nil
}

// OpenConversation creates a binding for partnerID and loads its history.
// The binding is returned even when the load fails; its view carries the error.
func (c *Controller) OpenConversation(ctx context.Context, partnerID int64) (*conversation.Binding, error) {
	selfID, err := c.currentUser()
	if err != nil {
		return nil, err
	}
	if !types.IsValidUserID(partnerID) {
		return nil, types.ErrInvalidUserID
	}

	opts := c.opts.Conversation
	opts.SelfID = selfID
	b := conversation.NewBinding(opts, c.router, c.api, c.clock)

	c.mu.Lock()
	c.bindings = append(c.bindings, b)
	c.mu.Unlock()

	return b, b.Select(ctx, partnerID)
}

// CloseConversation closes b and stops tracking it
func (c *Controller) CloseConversation(b *conversation.Binding) {
	c.mu.Lock()
	c.bindings = slices.DeleteFunc(c.bindings, func(other *conversation.Binding) bool { return other == b })
	c.mu.Unlock()
	b.Close()
}

// Conversations lists the conversation summaries of the logged-in user
func (c *Controller) Conversations(ctx context.Context) ([]types.Conversation, error) {
	if _, err := c.currentUser(); err != nil {
		return nil, err
	}
	return c.api.Conversations(ctx)
}

// UnreadCount returns the total unread messages of the logged-in user
func (c *Controller) UnreadCount(ctx context.Context) (int, error) {
	if _, err := c.currentUser(); err != nil {
		return 0, err
	}
	return c.api.UnreadCount(ctx)
}

// WatchOnline adds userIDs to the presence watch list. Their online status
// is requested now if the socket is open and again every time it reopens.
func (c *Controller) WatchOnline(userIDs ...int64) error {
	if _, err := c.currentUser(); err != nil {
		return err
	}

	c.mu.Lock()
	for _, id := range userIDs {
		if types.IsValidUserID(id) && !slices.Contains(c.watch, id) {
			c.watch = append(c.watch, id)
		}
	}
	watch := slices.Clone(c.watch)
	c.mu.Unlock()

	if len(watch) == 0 || !c.router.IsConnected() {
		return nil
	}
	if err := c.router.RequestOnlineStatus(watch); err != nil && !errors.Is(err, types.ErrNotConnected) {
		return err
	}
	return nil
}

// Broadcast sends an announcement. The server decides whether the user may.
func (c *Controller) Broadcast(content, className, sectionName string) error {
	if _, err := c.currentUser(); err != nil {
		return err
	}
	return c.router.Broadcast(content, className, sectionName)
}

// onState re-requests presence for the watch list whenever the socket opens
func (c *Controller) onState(ev types.StateEvent) {
	if ev.New == types.StateClosed && ev.CloseCode == types.CloseAuthRejected {
		c.log.Warn().Int("close_code", ev.CloseCode).Msg("Chat server rejected credentials, re-authentication required")
		return
	}
	if ev.New != types.StateOpen {
		return
	}

	c.mu.Lock()
	watch := slices.Clone(c.watch)
	c.mu.Unlock()
	if len(watch) == 0 {
		return
	}
	if err := c.router.RequestOnlineStatus(watch); err != nil {
		c.log.Debug().Err(err).Msg("Online status request failed")
	}
}

// SubscribeState forwards connection state transitions
func (c *Controller) SubscribeState(fn func(types.StateEvent)) func() {
	return c.manager.SubscribeState(fn)
}

// SubscribeEvents forwards every inbound event, including announcements
func (c *Controller) SubscribeEvents(fn func(types.InboundEvent)) func() {
	return c.router.SubscribeEvents(fn)
}

// Reconnect dials again after the manager gave up
func (c *Controller) Reconnect(ctx context.Context) error {
	if _, err := c.currentUser(); err != nil {
		return err
	}
	return c.manager.Reconnect(ctx)
}

func (c *Controller) Manager() *connection.Manager { return c.manager }

func (c *Controller) Router() *router.Router { return c.router }
