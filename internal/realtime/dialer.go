package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mr1hm/go-hazard-watch/internal/apperr"
)

// Conn is the read side of an established realtime connection.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens realtime connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials the realtime endpoint over a websocket.
type WebsocketDialer struct {
	dialer *websocket.Dialer
	header http.Header
}

func NewWebsocketDialer(token string, handshakeTimeout time.Duration) *WebsocketDialer {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &WebsocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		header: header,
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, d.header)
	if err != nil {
		if resp != nil && errors.Is(err, websocket.ErrBadHandshake) {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
			msg := string(body)
			if msg == "" {
				msg = resp.Status
			}
			if resp.StatusCode >= 400 {
				return nil, apperr.FromStatus(resp.StatusCode, msg)
			}
			return nil, fmt.Errorf("handshake: %s: %w", msg, err)
		}
		return nil, apperr.FromTransport(fmt.Errorf("dial %s: %w", url, err))
	}
	return conn, nil
}
