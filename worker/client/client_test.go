package client

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rurban/hardsqlite/config"
	"github.com/rurban/hardsqlite/sqlite"
	"github.com/rurban/hardsqlite/worker/host"
	"github.com/rurban/hardsqlite/worker/port"
	"github.com/rurban/hardsqlite/worker/types"
)

// startWorker runs a real host over an in-process pipe and returns a
// ready client against it.
func startWorker(t *testing.T) *Client {
	t.Helper()
	hostPort, clientPort := port.Pipe(64)
	h := host.New(sqlite.NewEngine(nil), &config.Snapshot{
		Version:       "3.45.0-test",
		BigIntEnabled: true,
	}, hostPort, nil)

	done := make(chan error, 1)
	go func() {
		done <- h.Serve()
		_ = hostPort.Close()
	}()

	c := New(clientPort, nil)
	t.Cleanup(func() {
		_ = c.Close()
		require.NoError(t, <-done)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.WaitReady(ctx))
	return c
}

func TestClientOpenExecClose(t *testing.T) {
	c := startWorker(t)
	ctx := context.Background()

	opened, err := c.Open(ctx, types.OpenArgs{Filename: ":memory:"})
	require.NoError(t, err)
	require.Equal(t, "", opened.Filename)
	require.NotEmpty(t, opened.DBID)

	_, err = c.Exec(ctx, opened.DBID, types.ExecArgs{SQL: "CREATE TABLE t(a INTEGER, b TEXT)"}, nil)
	require.NoError(t, err)
	echo, err := c.Exec(ctx, opened.DBID, types.ExecArgs{
		SQL:          "INSERT INTO t VALUES (1,'one'),(2,'two')",
		CountChanges: true,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), echo.ChangeCount)

	rows := []any{}
	echo, err = c.Exec(ctx, opened.DBID, types.ExecArgs{
		SQL:        "SELECT b FROM t ORDER BY a",
		ResultRows: &rows,
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, echo.ResultRows)
	require.Len(t, *echo.ResultRows, 2)

	closed, err := c.CloseDB(ctx, opened.DBID, false)
	require.NoError(t, err)
	require.Equal(t, opened.DBID, closed.DBID)
	require.NotNil(t, closed.Filename)

	// Closing again resolves nothing and is still not an error.
	closed, err = c.CloseDB(ctx, opened.DBID, false)
	require.NoError(t, err)
	require.Nil(t, closed.Filename)
	require.Empty(t, closed.DBID)
}

func TestClientStreamedRows(t *testing.T) {
	c := startWorker(t)
	ctx := context.Background()

	opened, err := c.Open(ctx, types.OpenArgs{})
	require.NoError(t, err)
	_, err = c.Exec(ctx, opened.DBID, types.ExecArgs{
		SQL: "CREATE TABLE t(a); INSERT INTO t VALUES (1),(2),(3)",
	}, nil)
	require.NoError(t, err)

	var rows []types.RowMessage
	terminals := 0
	_, err = c.Exec(ctx, opened.DBID, types.ExecArgs{SQL: "SELECT a FROM t ORDER BY a"}, func(msg types.RowMessage) {
		if msg.Terminal {
			terminals++
			return
		}
		rows = append(rows, msg)
	})
	require.NoError(t, err)

	require.Len(t, rows, 3)
	for i, msg := range rows {
		require.Equal(t, int64(i+1), msg.RowNumber)
	}
	require.Equal(t, 1, terminals)

	// Zero-row streams still see exactly one terminal call.
	rows = nil
	terminals = 0
	_, err = c.Exec(ctx, opened.DBID, types.ExecArgs{SQL: "SELECT a FROM t WHERE a > 100"}, func(msg types.RowMessage) {
		if msg.Terminal {
			terminals++
			return
		}
		rows = append(rows, msg)
	})
	require.NoError(t, err)
	require.Empty(t, rows)
	require.Equal(t, 1, terminals)
}

func TestClientDefaultHandle(t *testing.T) {
	c := startWorker(t)
	ctx := context.Background()

	opened, err := c.Open(ctx, types.OpenArgs{})
	require.NoError(t, err)

	// Calls with an empty dbID land on the default handle.
	_, err = c.Exec(ctx, "", types.ExecArgs{SQL: "CREATE TABLE d(a)"}, nil)
	require.NoError(t, err)

	closed, err := c.CloseDB(ctx, "", false)
	require.NoError(t, err)
	require.Equal(t, opened.DBID, closed.DBID)

	_, err = c.Exec(ctx, "", types.ExecArgs{SQL: "SELECT 1"}, nil)
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	require.Equal(t, "NotFound", respErr.Result.ErrorClass)
}

func TestClientErrorResponses(t *testing.T) {
	c := startWorker(t)
	ctx := context.Background()

	_, err := c.Call(ctx, "export", "", nil)
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	require.Equal(t, "UnsupportedOperation", respErr.Result.ErrorClass)
	require.Equal(t, "export", respErr.Result.Operation)

	_, err = c.Call(ctx, "definitely-not-a-command", "", nil)
	require.ErrorAs(t, err, &respErr)
	require.Equal(t, "UnknownCommand", respErr.Result.ErrorClass)

	opened, err := c.Open(ctx, types.OpenArgs{})
	require.NoError(t, err)
	_, err = c.Exec(ctx, opened.DBID, types.ExecArgs{SQL: "SELECT 1", RowMode: "stmt"}, nil)
	require.ErrorAs(t, err, &respErr)
	require.Equal(t, "UnsupportedMode", respErr.Result.ErrorClass)
}

func TestClientConfig(t *testing.T) {
	c := startWorker(t)

	cfg, err := c.Config(context.Background())
	require.NoError(t, err)
	require.Equal(t, "3.45.0-test", cfg.Version)
	require.True(t, cfg.BigIntEnabled)
	require.False(t, cfg.PersistentEnabled)
}

func TestClientManyOutstandingRequests(t *testing.T) {
	c := startWorker(t)
	ctx := context.Background()

	opened, err := c.Open(ctx, types.OpenArgs{})
	require.NoError(t, err)
	_, err = c.Exec(ctx, opened.DBID, types.ExecArgs{SQL: "CREATE TABLE t(a)"}, nil)
	require.NoError(t, err)

	// The host serializes processing; concurrent callers still get
	// their own responses attributed by message id.
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func(n int) {
			_, err := c.Exec(ctx, opened.DBID, types.ExecArgs{
				SQL:  "INSERT INTO t VALUES (?)",
				Bind: []any{n},
			}, nil)
			errs <- err
		}(i)
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-errs)
	}

	rows := []any{}
	echo, err := c.Exec(ctx, opened.DBID, types.ExecArgs{
		SQL:        "SELECT count(*) FROM t",
		ResultRows: &rows,
	}, nil)
	require.NoError(t, err)
	require.Len(t, *echo.ResultRows, 1)
}

func TestClientClosedPort(t *testing.T) {
	hostPort, clientPort := port.Pipe(4)
	c := New(clientPort, nil)
	require.NoError(t, hostPort.Close())
	require.NoError(t, c.Close())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.Error(t, c.WaitReady(ctx))

	_, err := c.Call(context.Background(), "open", "", nil)
	require.Error(t, err)
	require.False(t, errors.Is(err, context.DeadlineExceeded))
}

// The serialized framing used for subprocess workers: every envelope
// crosses as a JSON line, so results arrive as generic JSON values
// rather than the host's payload structs.
func TestClientOverLineFraming(t *testing.T) {
	toHostR, toHostW := io.Pipe()
	toClientR, toClientW := io.Pipe()

	hostSide := port.NewLinePort(toHostR, toClientW, nil)
	h := host.New(sqlite.NewEngine(nil), &config.Snapshot{
		Version:       "3.45.0-test",
		BigIntEnabled: true,
	}, hostSide, nil)

	done := make(chan error, 1)
	go func() {
		done <- h.Serve()
		_ = hostSide.Close()
	}()

	c := New(port.NewLineClientPort(toClientR, toHostW, nil), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.WaitReady(ctx))

	opened, err := c.Open(ctx, types.OpenArgs{Filename: ":memory:"})
	require.NoError(t, err)
	require.NotEmpty(t, opened.DBID)

	echo, err := c.Exec(ctx, opened.DBID, types.ExecArgs{
		SQL:          "CREATE TABLE t(a); INSERT INTO t VALUES (1),(2)",
		CountChanges: true,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), echo.ChangeCount)

	var rows []types.RowMessage
	terminals := 0
	_, err = c.Exec(ctx, opened.DBID, types.ExecArgs{SQL: "SELECT a FROM t ORDER BY a"}, func(msg types.RowMessage) {
		if msg.Terminal {
			terminals++
			return
		}
		rows = append(rows, msg)
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, 1, terminals)
	require.Equal(t, int64(1), rows[0].RowNumber)
	require.Equal(t, []any{float64(1)}, rows[0].Row)

	closed, err := c.CloseDB(ctx, opened.DBID, false)
	require.NoError(t, err)
	require.Equal(t, opened.DBID, closed.DBID)

	require.NoError(t, c.Close())
	require.NoError(t, <-done)
}

func TestClientOpenPersistentFailure(t *testing.T) {
	c := startWorker(t)

	_, err := c.Open(context.Background(), types.OpenArgs{
		Filename: filepath.Join(t.TempDir(), "no", "dir", "x.db"),
	})
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	require.Equal(t, "ConnectionError", respErr.Result.ErrorClass)
}
