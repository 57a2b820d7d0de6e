// Package port abstracts the message channel between the worker host and
// its caller. The two sides share no state beyond the port: requests flow
// one way, response and row-message envelopes flow the other, and a closed
// port is a terminal condition for the whole protocol instance.
package port

import (
	"sync"

	"github.com/rurban/hardsqlite/worker/types"
)

// HostPort is the worker host's view of the channel.
type HostPort interface {
	// Receive blocks for the next queued request. It reports false once
	// the channel is closed and drained.
	Receive() (types.Request, bool)
	// Post emits one outbound envelope (a types.Response or a
	// types.RowMessage). Transfers carries binary payloads referenced by
	// the envelope; transports that share memory with the caller may
	// hand them over without copying, serializing transports encode
	// them inline instead.
	Post(msg any, transfers [][]byte) error
	// Close tears down the outbound side, unblocking the caller.
	Close() error
}

// ClientPort is the caller's view of the channel.
type ClientPort interface {
	Post(req types.Request) error
	Receive() (any, bool)
	// Close signals the host that no further requests will arrive.
	Close() error
}

// Pipe returns a connected in-process port pair. The buffer bounds how
// many requests a caller can queue ahead of the host draining them.
func Pipe(buffer int) (HostPort, ClientPort) {
	p := &pipe{
		requests: make(chan types.Request, buffer),
		outbound: make(chan any, buffer),
		reqDone:  make(chan struct{}),
		outDone:  make(chan struct{}),
	}
	return (*pipeHost)(p), (*pipeClient)(p)
}

// pipe signals shutdown through done channels rather than closing the
// data channels. A blocked Post therefore never holds a lock (a full
// buffer in one direction cannot wedge the other direction), and a Post
// racing a Close fails with ErrClosed instead of panicking.
type pipe struct {
	requests chan types.Request
	outbound chan any
	reqDone  chan struct{}
	outDone  chan struct{}
	reqOnce  sync.Once
	outOnce  sync.Once
}

type pipeHost pipe

func (p *pipeHost) Receive() (types.Request, bool) {
	return pipeRecv(p.requests, p.reqDone)
}

func (p *pipeHost) Post(msg any, transfers [][]byte) error {
	// Same address space: transfers are already shared, nothing to hand off.
	_ = transfers
	return pipeSend(p.outbound, p.outDone, msg)
}

func (p *pipeHost) Close() error {
	p.outOnce.Do(func() { close(p.outDone) })
	return nil
}

type pipeClient pipe

func (p *pipeClient) Post(req types.Request) error {
	return pipeSend(p.requests, p.reqDone, req)
}

func (p *pipeClient) Receive() (any, bool) {
	return pipeRecv(p.outbound, p.outDone)
}

func (p *pipeClient) Close() error {
	p.reqOnce.Do(func() { close(p.reqDone) })
	return nil
}

func pipeSend[T any](ch chan T, done chan struct{}, v T) error {
	select {
	case <-done:
		return ErrClosed
	default:
	}
	select {
	case ch <- v:
		return nil
	case <-done:
		return ErrClosed
	}
}

// pipeRecv still drains messages that were queued before the close was
// signaled; only then does it report the channel closed.
func pipeRecv[T any](ch chan T, done chan struct{}) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	default:
	}
	select {
	case v := <-ch:
		return v, true
	case <-done:
		select {
		case v := <-ch:
			return v, true
		default:
			var zero T
			return zero, false
		}
	}
}
