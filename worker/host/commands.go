package host

import (
	"encoding/json"
	"path/filepath"

	"github.com/rurban/hardsqlite/sqlite"
	"github.com/rurban/hardsqlite/worker/types"
)

// commandFunc is one command-table entry. It returns the result payload
// and, when the command itself establishes the handle for the interaction
// (open, close), the handle id to stamp on the response. Failures are
// returned, never converted to payloads here; that is the dispatcher's
// job.
type commandFunc func(h *Host, req *types.Request) (result any, dbID string, err error)

func commandTable() map[string]commandFunc {
	return map[string]commandFunc{
		"open":       cmdOpen,
		"close":      cmdClose,
		"exec":       cmdExec,
		"config-get": cmdConfigGet,
		"export":     cmdExport,
	}
}

func cmdOpen(h *Host, req *types.Request) (any, string, error) {
	var args types.OpenArgs
	if len(req.Args) > 0 {
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, "", protocolErrorf(ClassError, "malformed open arguments: %v", err)
		}
	}

	filename := args.Filename
	persistent := false
	switch {
	case filename == "" || filename == ":memory:":
		// In-memory sentinels pass through verbatim.
	case args.Persistent && h.cfg.PersistentDir != "":
		filename = filepath.Join(h.cfg.PersistentDir, filename)
		persistent = true
	}

	handle, id, err := h.registry.Open(filename)
	if err != nil {
		return nil, "", err
	}
	result := types.OpenResult{
		Filename:   h.engine.FileName(handle),
		DBID:       id,
		Persistent: persistent,
	}
	return result, id, nil
}

func cmdClose(h *Host, req *types.Request) (any, string, error) {
	var args types.CloseArgs
	if len(req.Args) > 0 {
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, "", protocolErrorf(ClassError, "malformed close arguments: %v", err)
		}
	}

	// Closing an unknown or already-closed handle is a no-op with an
	// empty result, never a failure.
	filename, closedID, ok := h.registry.Close(req.DBID, args.Unlink)
	result := types.CloseResult{}
	if ok {
		result.Filename = &filename
		result.DBID = closedID
	}
	return result, closedID, nil
}

func cmdExec(h *Host, req *types.Request) (any, string, error) {
	args, err := decodeExecArgs(req.Args)
	if err != nil {
		return nil, "", err
	}
	if args.RowMode == sqlite.RowModeStmt {
		return nil, "", protocolErrorf(ClassUnsupportedMode,
			"row mode %q is not supported: statement handles cannot cross the worker boundary", args.RowMode)
	}

	handle, id, err := h.registry.Resolve(req.DBID)
	if err != nil {
		return nil, "", err
	}

	opts := &sqlite.ExecOptions{
		SQL:             args.SQL,
		Bind:            args.Bind,
		RowMode:         args.RowMode,
		CountChanges:    args.CountChanges,
		LastInsertRowID: args.LastInsertRowID,
	}
	if args.ResultRows != nil {
		rows := make([]any, 0, len(*args.ResultRows))
		opts.ResultRows = &rows
	}
	columns := []string{}
	if args.ColumnNames != nil || args.Callback != "" {
		opts.ColumnNames = &columns
	}

	var streamer *rowStreamer
	if args.Callback != "" {
		streamer = newRowStreamer(h, args.Callback, &columns)
		opts.RowCallback = streamer.callback
	}

	execErr := h.engine.Exec(handle, opts)
	if streamer != nil {
		// The terminal marker is owed even when execution failed part
		// way through the stream.
		if err := streamer.finish(); err != nil {
			return nil, "", err
		}
	}
	if execErr != nil {
		return nil, "", execErr
	}

	// Echo the options back, augmented with whatever the engine
	// populated.
	result := args
	if opts.ResultRows != nil {
		result.ResultRows = opts.ResultRows
		h.addTransfers(*opts.ResultRows)
	}
	if args.ColumnNames != nil {
		result.ColumnNames = &columns
	}
	result.ChangeCount = opts.ChangeCount
	result.InsertRowID = opts.InsertRowID
	return result, id, nil
}

func cmdConfigGet(h *Host, req *types.Request) (any, string, error) {
	return h.cfg.WorkerConfig(), "", nil
}

func cmdExport(h *Host, req *types.Request) (any, string, error) {
	return nil, "", protocolErrorf(ClassUnsupportedOperation,
		"export is not implemented: the engine exposes no file-system snapshot interface")
}

// decodeExecArgs accepts either a bare SQL string or an ExecArgs object.
func decodeExecArgs(raw json.RawMessage) (types.ExecArgs, error) {
	var args types.ExecArgs
	if len(raw) == 0 {
		return args, protocolErrorf(ClassError, "exec requires a SQL string or an options object")
	}
	var bare string
	if err := json.Unmarshal(raw, &bare); err == nil {
		args.SQL = bare
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return args, protocolErrorf(ClassError, "malformed exec arguments: %v", err)
	}
	return args, nil
}
