package uds

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrDaemonNotRunning is returned when nothing listens on the socket.
var ErrDaemonNotRunning = errors.New("no railscript daemon is hosting a run")

// Client sends operator commands to the daemon at a socket path.
type Client struct {
	socketPath string
	timeout    time.Duration
	runID      string
}

func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    30 * time.Second,
	}
}

func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// PinRun stamps every request with runID. The daemon answers RUN_MISMATCH
// instead of acting when it hosts another run.
func (c *Client) PinRun(runID string) {
	c.runID = runID
}

func (c *Client) Send(req *Request) (*Response, error) {
	if req.RunID == "" {
		req.RunID = c.runID
	}

	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("%w at %s: %v\nstart one with: railscript daemon <mission.yaml> <feed.jsonl>",
			ErrDaemonNotRunning, c.socketPath, err)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	if err := WriteFrame(conn, req); err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Command, err)
	}
	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.Command, err)
	}
	return &resp, nil
}

func (c *Client) SendCommand(command string, params any) (*Response, error) {
	req, err := NewRequest(command, params)
	if err != nil {
		return nil, err
	}
	return c.Send(req)
}

// Call sends command and decodes a successful payload into out, which may be
// nil. A refused command comes back as *ErrorDetail.
func (c *Client) Call(command string, params, out any) error {
	resp, err := c.SendCommand(command, params)
	if err != nil {
		return err
	}
	if !resp.Success {
		if resp.Error == nil {
			return &ErrorDetail{Code: ErrCodeInternal, Message: command + " failed without detail"}
		}
		return resp.Error
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", command, err)
	}
	return nil
}

// IsCode reports whether err is a refused command with the given code.
func IsCode(err error, code string) bool {
	var detail *ErrorDetail
	return errors.As(err, &detail) && detail.Code == code
}
