package transport

import (
	"sync"
)

const pipeBuffer = 256

// Pipe returns two connected in-memory Conns. Closing either end closes
// both. Used by tests and in-process bridges.
func Pipe() (Conn, Conn) {
	shared := &pipeShared{done: make(chan struct{})}
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	return &pipeEnd{shared: shared, in: ba, out: ab},
		&pipeEnd{shared: shared, in: ab, out: ba}
}

type pipeShared struct {
	once sync.Once
	done chan struct{}
}

type pipeEnd struct {
	shared *pipeShared
	in     chan []byte
	out    chan []byte
}

func (p *pipeEnd) Send(data []byte) error {
	msg := append([]byte(nil), data...)
	select {
	case <-p.shared.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- msg:
		return nil
	case <-p.shared.done:
		return ErrClosed
	}
}

func (p *pipeEnd) Receive() ([]byte, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.shared.done:
		// Drain messages that were in flight before the close.
		select {
		case msg := <-p.in:
			return msg, nil
		default:
			return nil, ErrClosed
		}
	}
}

func (p *pipeEnd) Close() error {
	p.shared.once.Do(func() {
		close(p.shared.done)
	})
	return nil
}
