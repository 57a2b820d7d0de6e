// Package host implements the serving side of the worker protocol: a
// handle registry, a command table, and a dispatcher that drains queued
// request envelopes one at a time and emits exactly one response per
// request (plus any streamed row messages produced while a command runs).
//
// The host owns all mutable state — the registry and the per-response
// transfer list — and touches it only between message boundaries, so the
// single serving goroutine needs no locking.
package host

import (
	"errors"
	"log/slog"
	"time"

	"github.com/rurban/hardsqlite/config"
	"github.com/rurban/hardsqlite/sqlite"
	"github.com/rurban/hardsqlite/worker/port"
	"github.com/rurban/hardsqlite/worker/types"
)

// Engine is the store-engine collaborator. Handles are opaque; the host
// keys registry lookups on their identity and otherwise only passes them
// back in. All methods may be assumed to block for the duration of one
// call and to throw (return an error) on failure, except FileName and
// Unlink which are best effort.
type Engine interface {
	Open(filename string) (any, error)
	Close(handle any) error
	Exec(handle any, opts *sqlite.ExecOptions) error
	FileName(handle any) string
	Unlink(filename string) error
}

// ReadyType and ReadyResult form the readiness announcement posted once
// all command handlers are installed. Requests sent before it have
// undefined outcome.
const (
	ReadyType   = "sqlite3-api"
	ReadyResult = "worker1-ready"
)

// ErrReentrantDispatch is returned by Dispatch when it is invoked while a
// command is already executing, e.g. from inside a streaming row
// callback. The engine call that owns a callback occupies the entire
// serving context until it unwinds.
var ErrReentrantDispatch = errors.New("host: dispatch re-entered during command execution")

// Host is the dispatcher.
type Host struct {
	engine   Engine
	registry *Registry
	port     port.HostPort
	cfg      *config.Snapshot
	logger   *slog.Logger
	commands map[string]commandFunc

	// transfers accumulates binary payloads referenced by the next
	// outbound message; cleared on every post regardless of outcome.
	transfers [][]byte
	handling  bool
}

// New assembles a host over engine and p. A nil logger defaults to
// slog.Default().
func New(engine Engine, cfg *config.Snapshot, p port.HostPort, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		engine:   engine,
		registry: NewRegistry(engine, logger),
		port:     p,
		cfg:      cfg,
		logger:   logger,
		commands: commandTable(),
	}
}

// Registry exposes the host's handle registry, chiefly for tests and
// embedding hosts that pre-open a database.
func (h *Host) Registry() *Registry {
	return h.registry
}

// Serve announces readiness, then drains the port until it closes. A
// closed port is the terminal condition for the protocol instance; there
// is no retry or reconnect.
func (h *Host) Serve() error {
	if err := h.post(types.Response{Type: ReadyType, Result: ReadyResult}); err != nil {
		return err
	}
	h.logger.Info("worker ready")
	for {
		req, ok := h.port.Receive()
		if !ok {
			h.logger.Info("request channel closed; worker exiting")
			return nil
		}
		if err := h.Dispatch(req); err != nil {
			return err
		}
	}
}

// Dispatch processes one request envelope and posts exactly one response.
// Every failure raised during handler resolution or execution is captured
// here — never inside a handler — and reported in-band as an error
// result with the response type forced to "error". The returned error is
// only for conditions that make responding impossible (a broken port, or
// a re-entrant call).
func (h *Host) Dispatch(req types.Request) error {
	if h.handling {
		return ErrReentrantDispatch
	}
	h.handling = true
	defer func() { h.handling = false }()

	received := time.Now().UnixMilli()

	var result any
	var handlerDBID string
	var err error
	if cmd, ok := h.commands[req.Type]; ok {
		result, handlerDBID, err = cmd(h, &req)
	} else {
		err = protocolErrorf(ClassUnknownCommand, "unknown command %q", req.Type)
	}

	respType := req.Type
	if err != nil {
		respType = "error"
		result = types.ErrorResult{
			Operation:  req.Type,
			Message:    err.Error(),
			ErrorClass: classOf(err),
			Input:      req,
			Stack:      captureStack(),
		}
		h.logger.Warn("command failed", "type", req.Type, "class", classOf(err), "error", err)
	}

	// Outbound handle id precedence: the handler's own, else the
	// request's, else the current default, else absent.
	dbID := handlerDBID
	if dbID == "" {
		dbID = req.DBID
	}
	if dbID == "" {
		dbID = h.registry.DefaultID()
	}

	return h.post(types.Response{
		Type:               respType,
		DBID:               dbID,
		MessageID:          req.MessageID,
		WorkerReceivedTime: received,
		WorkerRespondTime:  time.Now().UnixMilli(),
		DepartureTime:      req.DepartureTime,
		Result:             result,
	})
}

// post hands one envelope plus the accumulated transfer list to the port.
// The transfer list is cleared whether or not the send succeeds.
func (h *Host) post(msg any) error {
	transfers := h.transfers
	h.transfers = nil
	return h.port.Post(msg, transfers)
}

// addTransfers collects the binary payloads reachable from a row value
// (blob columns) onto the transfer list for the next post.
func (h *Host) addTransfers(value any) {
	switch v := value.(type) {
	case []byte:
		h.transfers = append(h.transfers, v)
	case []any:
		for _, cell := range v {
			h.addTransfers(cell)
		}
	case map[string]any:
		for _, cell := range v {
			h.addTransfers(cell)
		}
	}
}
