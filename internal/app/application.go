package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog"

	"classchat/internal/api"
	"classchat/internal/clock"
	"classchat/internal/config"
	"classchat/internal/connection"
	"classchat/internal/conversation"
	"classchat/internal/router"
	"classchat/internal/session"
	"classchat/internal/websocket"
	"classchat/pkg/interfaces"
	"classchat/pkg/log"
)

var ErrNoCredentials = errors.New("no access token configured")

// Application coordinates all client components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	api        *api.Client
	session    *session.Controller
	status     *api.Server
	httpServer *http.Server
	listener   net.Listener
	log        zerolog.Logger
}

// NewApplication creates the client with all components initialized.
// Component initialization follows dependency order:
// REST client → Dialer → Session (Manager → Router) → Status server
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: REST collaborator
	apiClient, err := api.NewClient(cfg.Server.BaseURL, cfg.Server.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize REST client: %w", err)
	}

	// STEP 2: Socket dialer against the same host
	dialer, err := websocket.NewDialer(cfg.Server.BaseURL, SocketOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize socket dialer: %w", err)
	}

	return newApplication(cfg, apiClient, dialer, clock.New()), nil
}

func newApplication(cfg *config.Config, apiClient *api.Client, dialer interfaces.Dialer, clk interfaces.Clock) *Application {
	// STEP 3: Session controller owns the connection manager and router
	controller := session.NewController(SessionOptions(cfg), dialer, apiClient, clk)

	// STEP 4: Local status endpoints read the live components
	status := api.NewServer(controller.Manager(), controller.Router())

	application := &Application{
		config:  cfg,
		api:     apiClient,
		session: controller,
		status:  status,
		log:     log.WithComponent("app"),
	}
	if cfg.Server.MetricsAddr != "" {
		application.httpServer = &http.Server{
			Addr:         cfg.Server.MetricsAddr,
			Handler:      status,
			ReadTimeout:  cfg.Server.RequestTimeout,
			WriteTimeout: cfg.Server.RequestTimeout,
		}
	}
	return application
}

// SocketOptions maps the websocket section onto transport options
func SocketOptions(cfg *config.Config) websocket.Options {
	return websocket.Options{
		HandshakeTimeout: cfg.WebSocket.HandshakeTimeout,
		PingInterval:     cfg.WebSocket.PingInterval,
		ReadTimeout:      cfg.WebSocket.ReadTimeout,
		WriteTimeout:     cfg.WebSocket.WriteTimeout,
		BufferSize:       cfg.WebSocket.BufferSize,
	}
}

// SessionOptions maps the chat section onto the controller's components
func SessionOptions(cfg *config.Config) session.Options {
	return session.Options{
		Connection: connection.Options{
			BaseDelay:   cfg.Chat.ReconnectBaseDelay,
			MaxDelay:    cfg.Chat.ReconnectMaxDelay,
			MaxAttempts: cfg.Chat.MaxReconnectAttempts,
			DialTimeout: cfg.WebSocket.HandshakeTimeout,
		},
		Router: router.Options{
			TypingExpiry: cfg.Chat.TypingExpiry,
			TypingRate:   cfg.Chat.TypingRate,
			TypingBurst:  cfg.Chat.TypingBurst,
		},
		Conversation: conversation.Options{
			TypingIdle:     cfg.Chat.TypingIdle,
			RequestTimeout: cfg.Server.RequestTimeout,
		},
	}
}

// Start serves the status endpoints when configured, then logs in with the
// configured credentials
func (app *Application) Start(ctx context.Context) error {
	if app.config.Auth.Token == "" {
		return ErrNoCredentials
	}

	// STEP 1: Status server first so /health reports the connect attempt
	if app.httpServer != nil {
		listener, err := net.Listen("tcp", app.httpServer.Addr)
		if err != nil {
			return fmt.Errorf("status server listen: %w", err)
		}
		app.listener = listener
		go func() {
			if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				app.log.Error().Err(err).Msg("Status server stopped")
			}
		}()
		app.log.Info().Str("addr", listener.Addr().String()).Msg("Status server listening")
	}

	// STEP 2: Login dials the chat socket
	if _, err := app.session.Login(ctx, app.config.Auth.Token, app.config.Auth.UserID); err != nil {
		app.shutdownStatus(context.Background())
		return fmt.Errorf("login failed: %w", err)
	}
	return nil
}

// Stop closes the session and the status server.
// Reverse dependency order: HTTP → Session
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info().Msg("Shutting down classchat")

	app.shutdownStatus(ctx)

	if err := app.session.Close(); err != nil {
		app.log.Warn().Err(err).Msg("Session shutdown error")
		return err
	}
	return nil
}

func (app *Application) shutdownStatus(ctx context.Context) {
	if app.httpServer == nil || app.listener == nil {
		return
	}
	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.log.Warn().Err(err).Msg("Status server shutdown error")
	}
	app.listener = nil
}

func (app *Application) Session() *session.Controller {
	return app.session
}

// StatusHandler exposes /health, /presence and /metrics for embedding
func (app *Application) StatusHandler() http.Handler {
	return app.status
}

// StatusAddr returns the bound status address, empty when not serving
func (app *Application) StatusAddr() string {
	if app.listener == nil {
		return ""
	}
	return app.listener.Addr().String()
}
