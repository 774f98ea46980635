package amqp

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/streadway/amqp"
)

var errClosed = errors.New("channel pool is closed")

// channelPool keeps up to size idle channels open on the backend
// connection. Channels are opened on demand. The connection itself is owned
// by the Backend.
type channelPool struct {
	mu     sync.Mutex
	conn   *amqp.Connection
	idle   []*amqp.Channel
	size   int
	closed bool
}

func newChannelPool(conn *amqp.Connection, size int) *channelPool {
	return &channelPool{
		conn: conn,
		size: size,
	}
}

// acquire returns an idle channel or opens a new one.
func (p *channelPool) acquire() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errClosed
	}

	if n := len(p.idle); n > 0 {
		ch := p.idle[n-1]
		p.idle = p.idle[:n-1]
		return ch, nil
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel error")
	}
	return ch, nil
}

// release hands the channel back. It is closed when it must not be reused,
// when the pool is full or when the pool is closed.
func (p *channelPool) release(ch *amqp.Channel, reuse bool) {
	p.mu.Lock()
	if reuse && !p.closed && len(p.idle) < p.size {
		p.idle = append(p.idle, ch)
		ch = nil
	}
	p.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
}

// do runs fn on a pooled channel. A channel on which fn failed is closed,
// as the server closes a channel on most errors.
func (p *channelPool) do(fn func(ch *amqp.Channel) error) error {
	ch, err := p.acquire()
	if err != nil {
		return err
	}

	err = fn(ch)
	p.release(ch, err == nil)
	return err
}

// idleCount returns the number of idle channels.
func (p *channelPool) idleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// close closes the idle channels. Channels in use are closed on release.
func (p *channelPool) close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()

	for _, ch := range idle {
		ch.Close()
	}
}
