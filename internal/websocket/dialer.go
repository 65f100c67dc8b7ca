package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"classchat/pkg/interfaces"
	"classchat/pkg/log"
	"classchat/pkg/types"
)

var _ interfaces.Dialer = (*Dialer)(nil)

// Dialer opens chat sockets at <base>/ws/chat/{userID}?token={token}
type Dialer struct {
	base   *url.URL
	opts   Options
	dialer *websocket.Dialer
	log    zerolog.Logger
}

// NewDialer accepts the portal's base URL with an http, https, ws or wss scheme
func NewDialer(baseURL string, opts Options) (*Dialer, error) {
	base, err := websocketBase(baseURL)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	return &Dialer{
		base: base,
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		log: log.WithComponent("dialer"),
	}, nil
}

func websocketBase(baseURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// EndpointURL builds the socket URL for userID and token
func (d *Dialer) EndpointURL(userID int64, token string) string {
	u := *d.base
	u.Path = u.Path + "/ws/chat/" + strconv.FormatInt(userID, 10)
	u.RawQuery = url.Values{"token": []string{token}}.Encode()
	return u.String()
}

// Dial opens the socket. An HTTP 401/403 handshake answer is reported as a
// close with types.CloseAuthRejected, which the backend uses when it refuses
// the token before accepting the socket.
func (d *Dialer) Dial(ctx context.Context, userID int64, token string) (interfaces.Socket, error) {
	conn, resp, err := d.dialer.DialContext(ctx, d.EndpointURL(userID, token), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil &&
			(resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			d.log.Warn().Int64("user_id", userID).Int("status", resp.StatusCode).Msg("Chat handshake rejected credentials")
			return nil, &types.CloseError{Code: types.CloseAuthRejected, Reason: "authentication rejected"}
		}
		return nil, fmt.Errorf("%w: %v", ErrDialFailed, err)
	}

	d.log.Debug().Int64("user_id", userID).Str("host", d.base.Host).Msg("Chat socket opened")
	return NewConnection(conn, d.opts), nil
}
