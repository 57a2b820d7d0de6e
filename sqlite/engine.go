// Package sqlite is the store-engine collaborator behind the worker
// protocol: a thin set of open/close/exec/fileName/unlink primitives over
// an embedded SQLite database. Handles are opaque to callers; the worker
// host tracks them by identity and never inspects them.
package sqlite

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// Row materialization modes for Exec.
const (
	RowModeArray  = "array"  // each row is a []any in column order
	RowModeObject = "object" // each row is a map[string]any keyed by column
	RowModeStmt   = "stmt"   // statement-handle mode; not serializable
)

const memoryName = ":memory:"

// ExecOptions carries one SQL execution request. For non-streamed use the
// engine populates ResultRows and ColumnNames in place when they are
// non-nil; when RowCallback is set it is invoked synchronously once per
// produced row before Exec returns.
type ExecOptions struct {
	SQL     string
	Bind    []any
	RowMode string // defaults to RowModeArray

	ResultRows  *[]any
	ColumnNames *[]string
	RowCallback func(row any) error

	// CountChanges asks for the affected-row count of a non-query
	// statement; the engine writes it to ChangeCount. LastInsertRowID
	// likewise asks for the rowid of the most recent insert, written to
	// InsertRowID.
	CountChanges    bool
	ChangeCount     int64
	LastInsertRowID bool
	InsertRowID     int64
}

// Conn is one open database handle.
type Conn struct {
	db       *sqlx.DB
	filename string
}

// Engine exposes the embedded-SQLite primitives the worker host consumes.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates an Engine. A nil logger defaults to slog.Default().
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// LibVersion reports the linked SQLite library version.
func LibVersion() string {
	v, _, _ := sqlite3.Version()
	return v
}

// Open opens (creating if necessary) the database at filename. An empty
// filename or the ":memory:" sentinel opens a transient in-memory
// database. The returned handle is opaque.
func (e *Engine) Open(filename string) (any, error) {
	dsn := filename
	if dsn == "" {
		dsn = memoryName
	}
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", filename, err)
	}
	// The pool must not hand statements from one request to a different
	// low-level connection; per-connection state like changes() depends
	// on it.
	db.SetMaxOpenConns(1)
	e.logger.Debug("opened database", "filename", filename)
	return &Conn{db: db, filename: filename}, nil
}

// Close releases the handle's underlying connection.
func (e *Engine) Close(h any) error {
	c, err := conn(h)
	if err != nil {
		return err
	}
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("close %q: %w", c.filename, err)
	}
	return nil
}

// FileName reports the handle's backing filename; empty for in-memory
// databases.
func (e *Engine) FileName(h any) string {
	c, err := conn(h)
	if err != nil {
		return ""
	}
	if c.filename == memoryName {
		return ""
	}
	return c.filename
}

// Unlink removes the backing file for filename. Best effort: the caller
// treats failure as non-fatal.
func (e *Engine) Unlink(filename string) error {
	return os.Remove(filename)
}

// Exec runs opts.SQL against the handle. Statements that produce no rows
// (and requests that ask for none) run through the non-query path, which
// is the only path that can report ChangeCount and InsertRowID.
func (e *Engine) Exec(h any, opts *ExecOptions) error {
	c, err := conn(h)
	if err != nil {
		return err
	}
	wantRows := opts.RowCallback != nil || opts.ResultRows != nil || opts.ColumnNames != nil
	if !wantRows {
		res, err := c.db.Exec(opts.SQL, opts.Bind...)
		if err != nil {
			return fmt.Errorf("exec failed: %w", err)
		}
		if opts.CountChanges {
			opts.ChangeCount, _ = res.RowsAffected()
		}
		if opts.LastInsertRowID {
			opts.InsertRowID, _ = res.LastInsertId()
		}
		return nil
	}
	return e.execRows(c, opts)
}

func (e *Engine) execRows(c *Conn, opts *ExecOptions) error {
	rows, err := c.db.Queryx(opts.SQL, opts.Bind...)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("failed to get columns: %w", err)
	}
	if opts.ColumnNames != nil {
		*opts.ColumnNames = columns
	}

	for rows.Next() {
		row, err := scanRow(rows, opts.RowMode)
		if err != nil {
			return err
		}
		if opts.RowCallback != nil {
			if err := opts.RowCallback(row); err != nil {
				return err
			}
		}
		if opts.ResultRows != nil {
			*opts.ResultRows = append(*opts.ResultRows, row)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating rows: %w", err)
	}
	return nil
}

func scanRow(rows *sqlx.Rows, mode string) (any, error) {
	switch mode {
	case RowModeObject:
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		return row, nil
	case "", RowModeArray:
		row, err := rows.SliceScan()
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		return row, nil
	default:
		return nil, fmt.Errorf("unknown row mode %q", mode)
	}
}

func conn(h any) (*Conn, error) {
	c, ok := h.(*Conn)
	if !ok || c == nil {
		return nil, fmt.Errorf("not a sqlite handle: %T", h)
	}
	return c, nil
}
