package host

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// Registry owns every open database handle for the lifetime of the host.
// Handles never leave the serving side; callers hold only the string
// identifiers minted here. Identifiers are never reused for the lifetime
// of the process, even when the engine hands back a recycled handle after
// an intervening close, so a stale in-flight request can never be routed
// to an unrelated connection that landed in the same low-level slot.
type Registry struct {
	engine Engine
	logger *slog.Logger

	// Handle-keyed and identifier-keyed views of the same mappings:
	// ids tolerates identity-based lookup, handles serves dispatch.
	ids     map[any]string
	handles map[string]any

	defaultID string
	seq       uint64
}

// NewRegistry creates an empty registry over engine. A nil logger
// defaults to slog.Default().
func NewRegistry(engine Engine, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		engine:  engine,
		logger:  logger,
		ids:     make(map[any]string),
		handles: make(map[string]any),
	}
}

// Open delegates to the engine and registers the returned handle. The
// first handle opened while no default is set becomes the default. On
// engine failure no partial state is retained and the error carries
// ClassConnection.
func (r *Registry) Open(filename string) (any, string, error) {
	handle, err := r.engine.Open(filename)
	if err != nil {
		return nil, "", &ProtocolError{
			Class:   ClassConnection,
			Message: fmt.Sprintf("could not open database %q: %v", filename, err),
			Err:     err,
		}
	}
	id, seen := r.ids[handle]
	if !seen {
		r.seq++
		id = fmt.Sprintf("db#%d@%s", r.seq, handleToken())
		r.ids[handle] = id
		r.handles[id] = handle
	}
	if r.defaultID == "" {
		r.defaultID = id
	}
	return handle, id, nil
}

// Resolve returns the handle for id, or the default handle when id is
// empty. Failure carries ClassNotFound.
func (r *Registry) Resolve(id string) (any, string, error) {
	lookup := id
	if lookup == "" {
		lookup = r.defaultID
	}
	handle, ok := r.handles[lookup]
	if !ok {
		if id == "" {
			return nil, "", protocolErrorf(ClassNotFound, "no database is open")
		}
		return nil, "", protocolErrorf(ClassNotFound, "no open database for id %q", id)
	}
	return handle, lookup, nil
}

// Close removes the identified handle (or the default, when id is empty)
// from both mappings and closes it in the engine. Closing the default
// clears the default; no other handle is promoted. A handle that does not
// resolve reports ok=false, which is a no-op rather than a failure, and
// engine-level close and unlink errors are swallowed because the close
// has already logically succeeded.
func (r *Registry) Close(id string, unlink bool) (filename string, closedID string, ok bool) {
	handle, resolved, err := r.Resolve(id)
	if err != nil {
		return "", "", false
	}
	filename = r.engine.FileName(handle)
	delete(r.handles, resolved)
	delete(r.ids, handle)
	if resolved == r.defaultID {
		r.defaultID = ""
	}
	if err := r.engine.Close(handle); err != nil {
		r.logger.Warn("engine close failed", "dbId", resolved, "error", err)
	}
	if unlink && filename != "" {
		if err := r.engine.Unlink(filename); err != nil {
			r.logger.Debug("unlink failed", "filename", filename, "error", err)
		}
	}
	return filename, resolved, true
}

// IdentifierOf reports the identifier minted for handle. It is stable for
// the handle's registered lifetime; it is looked up, never recomputed.
func (r *Registry) IdentifierOf(handle any) (string, bool) {
	id, ok := r.ids[handle]
	return id, ok
}

// DefaultID reports the current default handle's identifier, or "".
func (r *Registry) DefaultID() string {
	return r.defaultID
}

// handleToken yields a short opaque suffix so identifiers are not bare
// sequence numbers. Uniqueness rests on the sequence counter, not here.
func handleToken() string {
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}
