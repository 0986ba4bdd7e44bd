// Package rpc exposes blockchain and lottery state via a JSON-RPC 2.0 HTTP
// endpoint, a WebSocket event feed and a Prometheus scrape endpoint.
package rpc

import "encoding/json"

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

// Standard JSON-RPC error codes, plus the server-defined range.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeUnauthorized   = -32000
	CodeNotFound       = -32004
	// CodeLottoRejected carries a lottery rejection; Message is the
	// rejection text.
	CodeLottoRejected = -32010
)

func errResponse(id any, code int, msg string) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: msg},
	}
}

func okResponse(id, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}

// SessionView is the wire form of a session. Timestamps are unix
// nanoseconds; RevealDeadline/JoinDeadline are zero outside their phase.
type SessionView struct {
	ID                 uint64 `json:"id"`
	Phase              string `json:"phase"`
	PhaseCode          uint8  `json:"phase_code"`
	CreatedAt          int64  `json:"created_at"`
	StartTime          int64  `json:"start_time"`
	EndedAt            int64  `json:"ended_at"`
	EntryFee           uint64 `json:"entry_fee"`
	ParticipantsLength uint64 `json:"participants_length"`
	AmountOfReveals    uint64 `json:"amount_of_reveals"`
	Deadline           int64  `json:"deadline"`
	Current            bool   `json:"current"`
}

// ParamsView is the wire form of the lottery parameters.
type ParamsView struct {
	EntryFee     uint64   `json:"entry_fee"`
	JoinWindow   string   `json:"join_window"`
	RevealWindow string   `json:"reveal_window"`
	Admins       []string `json:"admins"`
}

// PushMessage is one frame on the WebSocket feed.
type PushMessage struct {
	Type        string         `json:"type"`
	SessionID   uint64         `json:"session_id,omitempty"`
	BlockHeight int64          `json:"block_height"`
	TxID        string         `json:"tx_id,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}
