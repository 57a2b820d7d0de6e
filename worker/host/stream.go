package host

import "github.com/rurban/hardsqlite/worker/types"

// rowStreamer bridges the engine's synchronous per-row callback onto the
// outbound port for the duration of one exec command. Rows are numbered
// from 1; finish emits the terminal marker (row number and row both
// absent) unconditionally, so callers see a stream-closed signal even for
// empty result sets.
type rowStreamer struct {
	host    *Host
	tag     string
	columns *[]string
	n       int64
}

func newRowStreamer(h *Host, tag string, columns *[]string) *rowStreamer {
	return &rowStreamer{host: h, tag: tag, columns: columns}
}

// callback is installed as the engine's row callback. It must not
// dispatch further requests; the dispatcher's reentrancy guard rejects
// any attempt.
func (s *rowStreamer) callback(row any) error {
	s.n++
	s.host.addTransfers(row)
	return s.host.post(types.RowMessage{
		Type:        s.tag,
		RowNumber:   s.n,
		Row:         row,
		ColumnNames: *s.columns,
	})
}

func (s *rowStreamer) finish() error {
	return s.host.post(types.RowMessage{Type: s.tag, Terminal: true})
}
