package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/computor-tools/qubic-go/protocol"
)

// WebSocketDialer dials committee bridges over WebSockets in binary mode.
type WebSocketDialer struct {
	// HandshakeTimeout bounds the WebSocket handshake; zero means no
	// limit beyond the dial context.
	HandshakeTimeout time.Duration
}

// Dial opens a WebSocket connection to address. Bare IPs get the default
// bridge port and the ws scheme.
func (d *WebSocketDialer) Dial(ctx context.Context, address string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, URL(address), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", address, err)
	}
	return &wsConn{conn: conn}, nil
}

// URL normalizes a peer address into a WebSocket URL.
func URL(address string) string {
	if strings.Contains(address, "://") {
		return address
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, strconv.Itoa(protocol.DefaultPort))
	}
	return "ws://" + address
}

// NewWebSocketConn wraps an established WebSocket connection, such as the
// server side of an upgrade, in a Conn.
func NewWebSocketConn(conn *websocket.Conn) Conn {
	return &wsConn{conn: conn}
}

type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
}

func (c *wsConn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConn) Receive() ([]byte, error) {
	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		return message, nil
	}
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		err = c.conn.Close()
	})
	return err
}
