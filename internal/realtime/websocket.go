package realtime

import (
	"context"
	"net/url"
	"strings"

	"nhooyr.io/websocket"
)

// Conn is one live channel session.
type Conn interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens channel sessions. The manager holds a Dialer rather than a
// concrete client so tests can run against an in-process fake.
type Dialer interface {
	DialContext(ctx context.Context, endpoint, token string) (Conn, error)
}

// WebsocketDialer dials the backend's event endpoint. The token rides in
// the query string, matching what the backend's upgrade handler reads.
type WebsocketDialer struct{}

func (WebsocketDialer) DialContext(ctx context.Context, endpoint, token string) (Conn, error) {
	target, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return nil, err
	}
	if token != "" {
		query := target.Query()
		query.Set("token", token)
		target.RawQuery = query.Encode()
	}
	conn, _, err := websocket.Dial(ctx, target.String(), nil)
	if err != nil {
		return nil, err
	}
	return &websocketConn{conn: conn}, nil
}

type websocketConn struct {
	conn *websocket.Conn
}

func (c *websocketConn) ReadMessage(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *websocketConn) WriteMessage(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *websocketConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
