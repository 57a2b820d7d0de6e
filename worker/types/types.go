package types

import "encoding/json"

// --- JSON structures for messages crossing the worker boundary ---

// Request is the envelope for every message sent to the worker host.
// Args is left raw so each command handler can decode its own payload,
// which may be a structured object or a bare primitive (e.g. the exec
// command accepts a plain SQL string).
type Request struct {
	Type          string          `json:"type"`
	Args          json.RawMessage `json:"args,omitempty"`
	DBID          string          `json:"dbId,omitempty"`
	MessageID     any             `json:"messageId,omitempty"`
	DepartureTime int64           `json:"departureTime,omitempty"`
}

// Response is the envelope for the single reply the host emits per request.
// MessageID mirrors the request's verbatim, including absence. The timing
// fields are Unix milliseconds and are instrumentation only, not part of
// the functional contract.
type Response struct {
	Type               string `json:"type"`
	DBID               string `json:"dbId,omitempty"`
	MessageID          any    `json:"messageId,omitempty"`
	WorkerReceivedTime int64  `json:"workerReceivedTime,omitempty"`
	WorkerRespondTime  int64  `json:"workerRespondTime,omitempty"`
	DepartureTime      int64  `json:"departureTime,omitempty"`
	Result             any    `json:"result,omitempty"`
}

// ErrorResult is the result payload of a response whose Type is "error".
// It is constructed only by the dispatcher's failure path; command handlers
// signal failure by returning an error, never by building one of these.
type ErrorResult struct {
	Operation  string   `json:"operation"`
	Message    string   `json:"message"`
	ErrorClass string   `json:"errorClass"`
	Input      Request  `json:"input"`
	Stack      []string `json:"stack,omitempty"`
}

// --- Command payloads ---

// OpenArgs is the argument payload for the "open" command.
type OpenArgs struct {
	Filename   string `json:"filename,omitempty"`
	Persistent bool   `json:"persistent,omitempty"`
}

// OpenResult is the result payload for a successful "open".
type OpenResult struct {
	Filename   string `json:"filename"`
	DBID       string `json:"dbId"`
	Persistent bool   `json:"persistent"`
}

// CloseArgs is the argument payload for the "close" command.
type CloseArgs struct {
	Unlink bool `json:"unlink,omitempty"`
}

// CloseResult is the result payload for "close". Both fields are absent
// when no handle resolved; Filename is a pointer so that an in-memory
// database's empty filename still round-trips as "" rather than vanishing.
type CloseResult struct {
	Filename *string `json:"filename,omitempty"`
	DBID     string  `json:"dbId,omitempty"`
}

// ExecArgs is the structured argument payload for the "exec" command.
// The command alternatively accepts a bare SQL string in place of this
// object. ResultRows and ColumnNames are pointers because their presence
// (even empty) in the request is what asks the host to materialize them
// in place on the echoed result.
type ExecArgs struct {
	SQL             string    `json:"sql"`
	Bind            []any     `json:"bind,omitempty"`
	RowMode         string    `json:"rowMode,omitempty"`
	Callback        string    `json:"callback,omitempty"`
	ResultRows      *[]any    `json:"resultRows,omitempty"`
	ColumnNames     *[]string `json:"columnNames,omitempty"`
	CountChanges    bool      `json:"countChanges,omitempty"`
	ChangeCount     int64     `json:"changeCount,omitempty"`
	LastInsertRowID bool      `json:"lastInsertRowId,omitempty"`
	InsertRowID     int64     `json:"insertRowId,omitempty"`
}

// ConfigResult is the result payload for "config-get": the allow-listed
// slice of process configuration plus the synthesized persistent-storage
// availability flag.
type ConfigResult struct {
	Version           string   `json:"version"`
	BigIntEnabled     bool     `json:"bigIntEnabled"`
	VfsList           []string `json:"vfsList,omitempty"`
	PersistentEnabled bool     `json:"persistentEnabled"`
}

// --- Streaming row messages ---

// RowMessage is the side-channel envelope emitted once per produced row
// during a streamed exec, plus once as a terminal marker after the engine
// call returns. The terminal marker omits both RowNumber and Row from the
// wire; a row whose value is null still carries an explicit "row":null,
// so the pairing of absences is unambiguous even for null rows.
type RowMessage struct {
	Type        string
	RowNumber   int64 // 1-based; meaningless when Terminal is set
	Row         any
	ColumnNames []string
	Terminal    bool
}

type wireRow struct {
	Type        string   `json:"type"`
	RowNumber   int64    `json:"rowNumber"`
	Row         any      `json:"row"`
	ColumnNames []string `json:"columnNames,omitempty"`
}

func (m RowMessage) MarshalJSON() ([]byte, error) {
	if m.Terminal {
		return json.Marshal(struct {
			Type string `json:"type"`
		}{m.Type})
	}
	return json.Marshal(wireRow{
		Type:        m.Type,
		RowNumber:   m.RowNumber,
		Row:         m.Row,
		ColumnNames: m.ColumnNames,
	})
}

func (m *RowMessage) UnmarshalJSON(data []byte) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	_, hasNumber := keys["rowNumber"]
	_, hasRow := keys["row"]

	var w wireRow
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Type = w.Type
	m.RowNumber = w.RowNumber
	m.Row = w.Row
	m.ColumnNames = w.ColumnNames
	m.Terminal = !hasNumber && !hasRow
	return nil
}

// DecodeResult re-decodes a response's result payload into out. Results
// that crossed a serializing port arrive as generic JSON values; results
// from an in-process port arrive as the host's own payload structs. A
// JSON round trip handles both uniformly.
func DecodeResult(result any, out any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
