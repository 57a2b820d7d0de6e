// Package client is the caller side of the worker protocol. It posts
// request envelopes over a port, correlates each response to its request
// by the echoed message id, and routes streamed row messages to the
// per-call row callback registered under their stream tag.
//
// Responses arrive in request order because the host serializes
// processing, but a caller with several outstanding requests still
// attributes results by message id, never by arrival order.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rurban/hardsqlite/worker/host"
	"github.com/rurban/hardsqlite/worker/port"
	"github.com/rurban/hardsqlite/worker/types"
)

// ResponseError carries a worker error result as a Go error.
type ResponseError struct {
	Result types.ErrorResult
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("worker %s: %s: %s", e.Result.Operation, e.Result.ErrorClass, e.Result.Message)
}

// RowFunc receives one streamed row. Terminal is set on the final call,
// with zero RowNumber and nil Row; a nil Row with Terminal unset is a
// legitimate null row.
type RowFunc func(msg types.RowMessage)

// Client correlates requests with responses over a ClientPort.
type Client struct {
	port   port.ClientPort
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]chan types.Response
	streams map[string]RowFunc
	closed  bool

	ready chan struct{}
	done  chan struct{}
}

// New starts a client over p and begins draining its inbound messages.
// A nil logger defaults to slog.Default().
func New(p port.ClientPort, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		port:    p,
		logger:  logger,
		pending: make(map[string]chan types.Response),
		streams: make(map[string]RowFunc),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.receiveLoop()
	return c
}

// WaitReady blocks until the host's readiness announcement arrives.
// Requests posted earlier have undefined outcome, so callers should wait.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-c.done:
		return fmt.Errorf("client: port closed before worker became ready")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops sending requests. The host drains what is already queued
// and then exits; in-flight calls still receive their responses.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.port.Close()
}

// Call posts one request and blocks for its correlated response. An
// error-typed response is returned as a *ResponseError. dbID may be empty
// to address the host's default handle.
func (c *Client) Call(ctx context.Context, cmdType string, dbID string, args any) (types.Response, error) {
	req := types.Request{
		Type: cmdType,
		DBID: dbID,
	}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return types.Response{}, fmt.Errorf("client: marshal %s args: %w", cmdType, err)
		}
		req.Args = raw
	}

	id := uuid.NewString()
	req.MessageID = id

	ch := make(chan types.Response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return types.Response{}, port.ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.port.Post(req); err != nil {
		c.unregister(id)
		return types.Response{}, fmt.Errorf("client: post %s: %w", cmdType, err)
	}

	select {
	case resp := <-ch:
		if resp.Type == "error" {
			var result types.ErrorResult
			if err := types.DecodeResult(resp.Result, &result); err != nil {
				return resp, fmt.Errorf("client: undecodable error result: %w", err)
			}
			return resp, &ResponseError{Result: result}
		}
		return resp, nil
	case <-c.done:
		c.unregister(id)
		return types.Response{}, fmt.Errorf("client: port closed awaiting %s response", cmdType)
	case <-ctx.Done():
		c.unregister(id)
		return types.Response{}, ctx.Err()
	}
}

// Open opens a database on the host.
func (c *Client) Open(ctx context.Context, args types.OpenArgs) (types.OpenResult, error) {
	var result types.OpenResult
	resp, err := c.Call(ctx, "open", "", args)
	if err != nil {
		return result, err
	}
	err = types.DecodeResult(resp.Result, &result)
	return result, err
}

// CloseDB closes the identified database (or the default, for an empty
// dbID). A dbID that no longer resolves yields an empty result, not an
// error.
func (c *Client) CloseDB(ctx context.Context, dbID string, unlink bool) (types.CloseResult, error) {
	var result types.CloseResult
	resp, err := c.Call(ctx, "close", dbID, types.CloseArgs{Unlink: unlink})
	if err != nil {
		return result, err
	}
	err = types.DecodeResult(resp.Result, &result)
	return result, err
}

// Exec runs SQL on the host. When onRow is non-nil a stream tag is
// generated, registered, and sent as the exec callback; onRow then
// receives every streamed row in order followed by one terminal call.
func (c *Client) Exec(ctx context.Context, dbID string, args types.ExecArgs, onRow RowFunc) (types.ExecArgs, error) {
	var result types.ExecArgs
	if onRow != nil {
		tag := "stream#" + uuid.NewString()
		args.Callback = tag
		c.mu.Lock()
		c.streams[tag] = onRow
		c.mu.Unlock()
		defer func() {
			c.mu.Lock()
			delete(c.streams, tag)
			c.mu.Unlock()
		}()
	}
	resp, err := c.Call(ctx, "exec", dbID, args)
	if err != nil {
		return result, err
	}
	err = types.DecodeResult(resp.Result, &result)
	return result, err
}

// Config fetches the host's exported configuration.
func (c *Client) Config(ctx context.Context) (types.ConfigResult, error) {
	var result types.ConfigResult
	resp, err := c.Call(ctx, "config-get", "", nil)
	if err != nil {
		return result, err
	}
	err = types.DecodeResult(resp.Result, &result)
	return result, err
}

func (c *Client) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) receiveLoop() {
	defer close(c.done)
	readyClosed := false
	for {
		msg, ok := c.port.Receive()
		if !ok {
			return
		}
		switch m := msg.(type) {
		case types.Response:
			if m.Type == host.ReadyType && !readyClosed {
				readyClosed = true
				close(c.ready)
				continue
			}
			c.routeResponse(m)
		case types.RowMessage:
			c.routeRow(m)
		default:
			c.logger.Warn("dropping unrecognized message", "message", msg)
		}
	}
}

func (c *Client) routeResponse(resp types.Response) {
	id, ok := resp.MessageID.(string)
	if !ok {
		c.logger.Warn("response without string message id", "type", resp.Type)
		return
	}
	c.mu.Lock()
	ch := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if ch == nil {
		c.logger.Warn("response for unknown message id", "messageId", id, "type", resp.Type)
		return
	}
	ch <- resp
}

func (c *Client) routeRow(msg types.RowMessage) {
	c.mu.Lock()
	onRow := c.streams[msg.Type]
	c.mu.Unlock()
	if onRow == nil {
		c.logger.Warn("row message for unknown stream", "tag", msg.Type)
		return
	}
	onRow(msg)
}
