// Package integration provides an in-process testing harness driving a
// full client against a fake committee bridge served over real
// WebSockets.
//
// The harness was designed for the end-to-end tests of this module, but
// the constructs are general enough to drive a client instance from any
// test that needs a live committee to talk to.
package integration
