package uds

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/railscript/internal/logging"
)

const hostedRun = "run_20260101_00000000000000aa"

// deskRun stands in for the daemon's controller: one pending event, a queue
// of operator messages and a queue of effects.
type deskRun struct {
	mu      sync.Mutex
	pending int
	nextID  int
	effects []string
	calls   int
}

func (r *deskRun) state() (pending, calls int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending, r.calls
}

func (r *deskRun) register(s *Server) {
	s.SetRunID(func() string { return hostedRun })

	s.Handle(CmdAck, func(req *Request) *Response {
		var p AckParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return ErrorResponse(ErrCodeValidation, err.Error())
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls++
		switch {
		case r.pending == 0:
			return ErrorResponse(ErrCodeNotFound, "no event is pending")
		case p.EventID != r.pending:
			return ErrorResponse(ErrCodeAckMismatch, "event is not pending")
		}
		r.pending = 0
		return SuccessResponse(AckResult{Acknowledged: p.EventID})
	})

	s.Handle(CmdMessage, func(req *Request) *Response {
		var p MessageParams
		if err := json.Unmarshal(req.Params, &p); err != nil || p.Header == "" {
			return ErrorResponse(ErrCodeValidation, "header is required")
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		id := r.nextID
		r.nextID++
		if r.pending == 0 {
			r.pending = id
		}
		return SuccessResponse(MessageResult{EventID: id})
	})

	s.Handle(CmdEffects, func(req *Request) *Response {
		r.mu.Lock()
		defer r.mu.Unlock()
		drained := r.effects
		r.effects = nil
		if drained == nil {
			drained = []string{}
		}
		return SuccessResponse(map[string][]string{"effects": drained})
	})
}

func sockPath(t *testing.T) string {
	t.Helper()
	// Unix socket paths are limited to ~104 bytes; t.TempDir is too deep on macOS.
	dir, err := os.MkdirTemp("/tmp", "rs-uds-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "d.sock")
}

func startDesk(t *testing.T, run *deskRun) (*Server, *Client) {
	t.Helper()
	path := sockPath(t)
	server := NewServer(path)
	run.register(server)
	require.NoError(t, server.Start())
	t.Cleanup(func() { server.Stop() })

	client := NewClient(path)
	client.SetTimeout(5 * time.Second)
	return server, client
}

func TestFrame_AckRequest(t *testing.T) {
	req, err := NewRequest(CmdAck, AckParams{EventID: 3})
	require.NoError(t, err)
	req.RunID = hostedRun

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, req))
	assert.Equal(t, uint32(buf.Len()-4), binary.BigEndian.Uint32(buf.Bytes()[:4]))

	var got Request
	require.NoError(t, ReadFrame(&buf, &got))
	assert.Equal(t, ProtocolVersion, got.ProtocolVersion)
	assert.Equal(t, CmdAck, got.Command)
	assert.Equal(t, hostedRun, got.RunID)
	assert.JSONEq(t, `{"event_id":3}`, string(got.Params))
	assert.Zero(t, buf.Len(), "frame fully consumed")
}

func TestFrame_EffectsRequestHasNoParams(t *testing.T) {
	req, err := NewRequest(CmdEffects, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, req))
	assert.NotContains(t, buf.String(), "params")
	assert.NotContains(t, buf.String(), "run_id")
}

func TestReadFrame_Rejects(t *testing.T) {
	frame := func(n uint32, payload string) []byte {
		b := make([]byte, 4, 4+len(payload))
		binary.BigEndian.PutUint32(b, n)
		return append(b, payload...)
	}

	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{"empty", nil, "read frame length"},
		{"short length", []byte{0, 0}, "read frame length"},
		{"short payload", frame(20, `{"command":`), "read frame payload"},
		{"oversized", frame(maxFrameSize+1, ""), "frame too large"},
		{"not json", frame(5, "ack 1"), "unmarshal frame"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req Request
			err := ReadFrame(bytes.NewReader(tt.input), &req)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWriteFrame_TooLarge(t *testing.T) {
	req, err := NewRequest(CmdMessage, MessageParams{Header: "Dispatcher", Body: strings.Repeat("x", maxFrameSize)})
	require.NoError(t, err)

	var buf bytes.Buffer
	err = WriteFrame(&buf, req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frame too large")
	assert.Zero(t, buf.Len(), "nothing written")
}

func TestServer_AckPendingEvent(t *testing.T) {
	run := &deskRun{pending: 1, nextID: 5}
	_, client := startDesk(t, run)

	err := client.Call(CmdAck, AckParams{EventID: 2}, nil)
	assert.True(t, IsCode(err, ErrCodeAckMismatch), "wrong id: %v", err)

	var res AckResult
	require.NoError(t, client.Call(CmdAck, AckParams{EventID: 1}, &res))
	assert.Equal(t, 1, res.Acknowledged)

	err = client.Call(CmdAck, AckParams{EventID: 1}, nil)
	assert.True(t, IsCode(err, ErrCodeNotFound), "nothing pending: %v", err)
	assert.Contains(t, err.Error(), "[NO_PENDING_EVENT]")
}

func TestServer_ConcurrentAcksSettleOnce(t *testing.T) {
	run := &deskRun{pending: 7}
	_, client := startDesk(t, run)

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = client.Call(CmdAck, AckParams{EventID: 7}, nil)
		}(i)
	}
	wg.Wait()

	acked := 0
	for _, err := range errs {
		if err == nil {
			acked++
			continue
		}
		assert.True(t, IsCode(err, ErrCodeNotFound), "%v", err)
	}
	assert.Equal(t, 1, acked)
}

func TestServer_MessageBecomesPendingEvent(t *testing.T) {
	run := &deskRun{nextID: 5}
	_, client := startDesk(t, run)

	var first, second MessageResult
	require.NoError(t, client.Call(CmdMessage, MessageParams{Header: "Dispatcher", Body: "Hold at Bravo."}, &first))
	require.NoError(t, client.Call(CmdMessage, MessageParams{Header: "Signaller"}, &second))
	assert.Equal(t, 5, first.EventID)
	assert.Equal(t, 6, second.EventID)

	require.NoError(t, client.Call(CmdAck, AckParams{EventID: 5}, nil))

	err := client.Call(CmdMessage, MessageParams{Body: "no header"}, nil)
	assert.True(t, IsCode(err, ErrCodeValidation), "%v", err)
}

func TestServer_EffectsDrain(t *testing.T) {
	run := &deskRun{effects: []string{"horn.wav", "rain"}}
	_, client := startDesk(t, run)

	var out struct {
		Effects []string `json:"effects"`
	}
	require.NoError(t, client.Call(CmdEffects, nil, &out))
	assert.Equal(t, []string{"horn.wav", "rain"}, out.Effects)

	require.NoError(t, client.Call(CmdEffects, nil, &out))
	assert.Empty(t, out.Effects, "second drain finds an empty queue")
}

func TestServer_RunPin(t *testing.T) {
	tests := []struct {
		name    string
		pin     string
		wantErr string
	}{
		{name: "unpinned", pin: ""},
		{name: "hosted run", pin: hostedRun},
		{name: "other run", pin: "run_20260101_00000000000000bb", wantErr: ErrCodeRunMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := &deskRun{pending: 1}
			_, client := startDesk(t, run)
			client.PinRun(tt.pin)

			resp, err := client.SendCommand(CmdAck, AckParams{EventID: 1})
			require.NoError(t, err)
			assert.Equal(t, hostedRun, resp.RunID, "responses name the hosted run")

			pending, calls := run.state()
			if tt.wantErr == "" {
				assert.True(t, resp.Success, "%+v", resp.Error)
				assert.Equal(t, 0, pending)
				return
			}
			require.False(t, resp.Success)
			assert.Equal(t, tt.wantErr, resp.Error.Code)
			assert.Contains(t, resp.Error.Message, tt.pin)
			assert.Equal(t, 1, pending, "refused ack leaves the event pending")
			assert.Zero(t, calls, "handler not reached")
		})
	}
}

func TestServer_RejectedRequests(t *testing.T) {
	server, client := startDesk(t, &deskRun{})
	server.Handle(CmdReport, func(req *Request) *Response { return nil })

	tests := []struct {
		name string
		req  *Request
		want string
	}{
		{"old protocol", &Request{ProtocolVersion: ProtocolVersion + 1, Command: CmdAck}, ErrCodeProtocolMismatch},
		{"unknown command", &Request{ProtocolVersion: ProtocolVersion, Command: "pause"}, ErrCodeUnknownCommand},
		{"handler without response", &Request{ProtocolVersion: ProtocolVersion, Command: CmdReport}, ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.Send(tt.req)
			require.NoError(t, err)
			require.False(t, resp.Success)
			assert.Equal(t, tt.want, resp.Error.Code)
			assert.Equal(t, hostedRun, resp.RunID)
		})
	}
}

func TestClient_DaemonNotRunning(t *testing.T) {
	client := NewClient(sockPath(t))
	client.SetTimeout(time.Second)

	err := client.Call(CmdAck, AckParams{EventID: 1}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDaemonNotRunning))
	assert.False(t, IsCode(err, ErrCodeNotFound))
	assert.Contains(t, err.Error(), "railscript daemon <mission.yaml> <feed.jsonl>")
}

func TestServer_Lifecycle(t *testing.T) {
	path := sockPath(t)
	server := NewServer(path)
	require.NoError(t, server.Start())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	assert.Equal(t, path, server.SocketPath())

	require.NoError(t, server.Stop())
	require.NoError(t, server.Stop())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "socket removed on stop")
}

func TestServer_DropsIdleConnection(t *testing.T) {
	path := sockPath(t)
	server := NewServer(path)
	server.SetConnTimeout(100 * time.Millisecond)
	require.NoError(t, server.Start())
	defer server.Stop()

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "server closes a connection that never sends a request")
}

func TestServer_LogsMalformedFrames(t *testing.T) {
	path := sockPath(t)
	server := NewServer(path)
	var buf syncBuffer
	server.SetLogger(logging.New(&buf, logging.LogLevelDebug, "uds"))
	require.NoError(t, server.Start())

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	// A length prefix promising more than is sent.
	_, err = conn.Write([]byte{0, 0, 0, 8, '{'})
	require.NoError(t, err)
	require.NoError(t, conn.(*net.UnixConn).CloseWrite())
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	io.Copy(io.Discard, conn)
	conn.Close()

	server.Stop()
	assert.Contains(t, buf.String(), "WARN uds: read request error")
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestResponses(t *testing.T) {
	ok := SuccessResponse(MessageResult{EventID: 9})
	assert.True(t, ok.Success)
	assert.JSONEq(t, `{"event_id":9}`, string(ok.Data))
	assert.Nil(t, SuccessResponse(nil).Data)

	refused := ErrorResponse(ErrCodeCompleted, "activity already completed")
	assert.False(t, refused.Success)
	assert.Equal(t, "[ACTIVITY_COMPLETED] activity already completed", refused.Error.Error())
}
