// Package uds carries operator commands between the railscript CLI and the
// daemon hosting a run: acknowledging the pending event, queueing messages,
// draining effects, reports and snapshots. Each connection holds one
// length-prefixed JSON request and its response.
package uds

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

const ProtocolVersion = 1

// DefaultSocketName is the socket filename inside the daemon's state directory.
const DefaultSocketName = "railscript.sock"

// maxFrameSize bounds a single request or response. Reports are the largest
// payload and stay well below it.
const maxFrameSize = 4 << 20

// Commands understood by the daemon.
const (
	CmdPing     = "ping"
	CmdStatus   = "status"
	CmdAck      = "ack"
	CmdMessage  = "message"
	CmdEffects  = "effects"
	CmdReport   = "report"
	CmdSnapshot = "snapshot"
	CmdShutdown = "shutdown"
)

// Error codes carried in ErrorDetail.Code.
const (
	ErrCodeProtocolMismatch = "PROTOCOL_MISMATCH"
	ErrCodeUnknownCommand   = "UNKNOWN_COMMAND"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeValidation       = "VALIDATION_ERROR"
	// ErrCodeRunMismatch rejects a request pinned to a run the daemon is not hosting.
	ErrCodeRunMismatch = "RUN_MISMATCH"
	// ErrCodeNotFound answers an ack when no event is pending.
	ErrCodeNotFound = "NO_PENDING_EVENT"
	// ErrCodeAckMismatch answers an ack naming an event other than the pending one.
	ErrCodeAckMismatch = "ACK_MISMATCH"
	// ErrCodeCompleted rejects messages once an outcome ended the activity.
	ErrCodeCompleted = "ACTIVITY_COMPLETED"
)

// Request is one operator command. RunID, when set, pins the command to a
// run; the daemon refuses it if it hosts a different one.
type Request struct {
	ProtocolVersion int             `json:"protocol_version"`
	Command         string          `json:"command"`
	RunID           string          `json:"run_id,omitempty"`
	Params          json.RawMessage `json:"params,omitempty"`
}

// Response answers a Request. RunID names the run the daemon hosts.
type Response struct {
	Success bool            `json:"success"`
	RunID   string          `json:"run_id,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorDetail    `json:"error,omitempty"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorDetail) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// AckParams acknowledge the pending event.
type AckParams struct {
	EventID int `json:"event_id"`
}

// AckResult echoes the acknowledged event.
type AckResult struct {
	Acknowledged int `json:"acknowledged"`
}

// MessageParams queue an operator message as a new event.
type MessageParams struct {
	Header string `json:"header"`
	Body   string `json:"body"`
}

// MessageResult carries the id the queued message will be announced under.
type MessageResult struct {
	EventID int `json:"event_id"`
}

// NewRequest builds a request for command. A nil params sends no params.
func NewRequest(command string, params any) (*Request, error) {
	req := &Request{ProtocolVersion: ProtocolVersion, Command: command}
	if params == nil {
		return req, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", command, err)
	}
	req.Params = data
	return req, nil
}

func SuccessResponse(data any) *Response {
	resp := &Response{Success: true}
	if data != nil {
		raw, _ := json.Marshal(data)
		resp.Data = raw
	}
	return resp
}

func ErrorResponse(code, message string) *Response {
	return &Response{Error: &ErrorDetail{Code: code, Message: message}}
}

// WriteFrame writes v as [4-byte big-endian length][JSON payload] in a single
// write.
func WriteFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if len(data) > maxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(data))
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame written by WriteFrame into v.
func ReadFrame(r io.Reader, v any) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fmt.Errorf("read frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("read frame payload: %w", err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("unmarshal frame: %w", err)
	}
	return nil
}
