package tts

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 5 * time.Second
	readWait         = 30 * time.Second
)

// wsConn wraps a provider connection. It is closed when the dial context is
// cancelled so a blocked read returns.
type wsConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	stop      func() bool
	closeOnce sync.Once
}

func dialWS(ctx context.Context, url string, header http.Header) (*wsConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	c := &wsConn{conn: conn}
	c.stop = context.AfterFunc(ctx, func() {
		conn.Close()
	})
	return c, nil
}

func (c *wsConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) readJSON(v any) error {
	c.conn.SetReadDeadline(time.Now().Add(readWait))
	return c.conn.ReadJSON(v)
}

func (c *wsConn) close() error {
	var err error
	c.closeOnce.Do(func() {
		c.stop()
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
