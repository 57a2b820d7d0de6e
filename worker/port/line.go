package port

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/rurban/hardsqlite/worker/types"
)

// ErrClosed is returned by Post once the port has been closed.
var ErrClosed = errors.New("port: closed")

// LinePort adapts a byte stream pair into a HostPort: one JSON envelope
// per line in each direction. Transfers are serialized inline (base64 by
// encoding/json); a byte stream has no zero-copy handoff to offer.
type LinePort struct {
	scanner *bufio.Scanner
	logger  *slog.Logger

	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
	closed bool
}

// NewLinePort wraps r and w. A nil logger defaults to slog.Default().
// If w also implements io.Closer it is closed by Close.
func NewLinePort(r io.Reader, w io.Writer, logger *slog.Logger) *LinePort {
	if logger == nil {
		logger = slog.Default()
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	closer, _ := w.(io.Closer)
	return &LinePort{
		scanner: scanner,
		logger:  logger,
		enc:     json.NewEncoder(w),
		closer:  closer,
	}
}

// Receive reads request lines until one parses or the stream ends.
// Malformed lines are logged and skipped; the sender gets no reply for
// them because there is no envelope to echo a correlation id into.
func (p *LinePort) Receive() (types.Request, bool) {
	for p.scanner.Scan() {
		line := p.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req types.Request
		if err := json.Unmarshal(line, &req); err != nil {
			p.logger.Warn("dropping malformed request line", "error", err)
			continue
		}
		return req, true
	}
	if err := p.scanner.Err(); err != nil {
		p.logger.Error("request stream failed", "error", err)
	}
	return types.Request{}, false
}

func (p *LinePort) Post(msg any, transfers [][]byte) error {
	_ = transfers
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return p.enc.Encode(msg)
}

func (p *LinePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.closer != nil {
		return p.closer.Close()
	}
	return nil
}

// LineClientPort is the caller-side counterpart of LinePort: requests go
// out as JSON lines, response and row-message envelopes come back in. It
// lets a client drive a worker served over stdio, e.g. a subprocess's
// stdin/stdout pair.
type LineClientPort struct {
	scanner *bufio.Scanner
	logger  *slog.Logger

	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
	closed bool
}

// NewLineClientPort wraps r (the worker's output) and w (its input). A
// nil logger defaults to slog.Default(). If w also implements io.Closer
// it is closed by Close.
func NewLineClientPort(r io.Reader, w io.Writer, logger *slog.Logger) *LineClientPort {
	if logger == nil {
		logger = slog.Default()
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	closer, _ := w.(io.Closer)
	return &LineClientPort{
		scanner: scanner,
		logger:  logger,
		enc:     json.NewEncoder(w),
		closer:  closer,
	}
}

func (p *LineClientPort) Post(req types.Request) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return p.enc.Encode(req)
}

// Receive reads inbound lines until one parses or the stream ends. An
// envelope carrying any response-only key (correlation id, timing,
// result, handle id) decodes as a types.Response; everything else is a
// types.RowMessage, including the terminal marker, whose only key is its
// stream tag.
func (p *LineClientPort) Receive() (any, bool) {
	for p.scanner.Scan() {
		line := p.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var keys map[string]json.RawMessage
		if err := json.Unmarshal(line, &keys); err != nil {
			p.logger.Warn("dropping malformed worker line", "error", err)
			continue
		}
		if isResponseLine(keys) {
			var resp types.Response
			if err := json.Unmarshal(line, &resp); err != nil {
				p.logger.Warn("dropping undecodable response line", "error", err)
				continue
			}
			return resp, true
		}
		var row types.RowMessage
		if err := json.Unmarshal(line, &row); err != nil {
			p.logger.Warn("dropping undecodable row line", "error", err)
			continue
		}
		return row, true
	}
	if err := p.scanner.Err(); err != nil {
		p.logger.Error("worker stream failed", "error", err)
	}
	return nil, false
}

func (p *LineClientPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.closer != nil {
		return p.closer.Close()
	}
	return nil
}

func isResponseLine(keys map[string]json.RawMessage) bool {
	for _, k := range []string{"messageId", "workerReceivedTime", "workerRespondTime", "result", "dbId"} {
		if _, ok := keys[k]; ok {
			return true
		}
	}
	return false
}
