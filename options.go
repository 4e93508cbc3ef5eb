package qubic

import (
	"time"

	"github.com/luxfi/database"
	"go.uber.org/zap"

	"github.com/computor-tools/qubic-go/protocol"
	"github.com/computor-tools/qubic-go/transport"
)

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the structured logger; the default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithScheme replaces the signature scheme. The default is SchnorrQ over
// FourQ; tests substitute cheaper schemes through this seam.
func WithScheme(scheme protocol.Scheme) Option {
	return func(c *Client) {
		c.scheme = scheme
	}
}

// WithDialer replaces the transport dialer. The default dials WebSockets
// in binary mode.
func WithDialer(dialer transport.Dialer) Option {
	return func(c *Client) {
		c.dialer = dialer
	}
}

// WithDatabase supplies an open database instead of a BadgerDB opened
// under the configured data directory. The caller keeps ownership; the
// client will not close it.
func WithDatabase(db database.Database) Option {
	return func(c *Client) {
		c.db = db
	}
}

// WithClock replaces the wall clock feeding wire timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.clock = now
	}
}
