package integration

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/computor-tools/qubic-go/internal/bridge"
	"github.com/computor-tools/qubic-go/internal/committee"
	"github.com/computor-tools/qubic-go/protocol"
	"github.com/computor-tools/qubic-go/transport"
)

// Harness fully encapsulates a fake committee: one bridge answering the
// wire protocol behind a WebSocket endpoint per connection slot, all
// listening on loopback ports chosen by the OS.
type Harness struct {
	Committee *committee.Committee
	Bridge    *bridge.Bridge

	listeners []net.Listener
	servers   []*http.Server
	wg        sync.WaitGroup

	mtx   sync.Mutex
	conns map[transport.Conn]struct{}
}

// NewHarness starts a bridge for c behind protocol.NumberOfConnections
// WebSocket endpoints.
func NewHarness(c *committee.Committee) (*Harness, error) {
	h := &Harness{
		Committee: c,
		Bridge:    bridge.New(c),
		conns:     make(map[transport.Conn]struct{}),
	}

	upgrader := websocket.Upgrader{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := transport.NewWebSocketConn(ws)
		h.mtx.Lock()
		h.conns[conn] = struct{}{}
		h.mtx.Unlock()
		defer func() {
			_ = conn.Close()
			h.mtx.Lock()
			delete(h.conns, conn)
			h.mtx.Unlock()
		}()
		_ = h.Bridge.Serve(conn)
	})

	for i := 0; i < protocol.NumberOfConnections; i++ {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			_ = h.TearDown()
			return nil, fmt.Errorf("failed to listen: %v", err)
		}
		server := &http.Server{Handler: handler}
		h.listeners = append(h.listeners, listener)
		h.servers = append(h.servers, server)

		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			if err := server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
				_ = err
			}
		}()
	}
	return h, nil
}

// Addresses returns the WebSocket URL of every endpoint, one per
// connection slot.
func (h *Harness) Addresses() []string {
	addresses := make([]string, 0, len(h.listeners))
	for _, listener := range h.listeners {
		addresses = append(addresses, "ws://"+listener.Addr().String())
	}
	return addresses
}

// TearDown stops the endpoints, drops open connections and waits for
// their serve loops. Upgraded connections are hijacked from the HTTP
// server and must be closed explicitly.
func (h *Harness) TearDown() error {
	var firstErr error
	for _, server := range h.servers {
		if err := server.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	h.mtx.Lock()
	for conn := range h.conns {
		_ = conn.Close()
	}
	h.mtx.Unlock()

	h.wg.Wait()
	return firstErr
}
