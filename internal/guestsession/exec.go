package guestsession

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"

	"github.com/boxlite/boxlite/internal/berrors"
)

// frame is the wire union for exec streaming. One frame per JSON value
// on the connection; Data carries raw bytes (base64 in JSON).
type frame struct {
	Type string `json:"type"` // start, started, stdin, stdin_close, stdout, stderr, result
	Data []byte `json:"data,omitempty"`

	// start
	Config *ExecConfig `json:"config,omitempty"`
	// started
	ExecutionID string `json:"execution_id,omitempty"`
	// result
	Result *ExecResult `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Execution is a running guest command with separated stdio streams and
// a terminal result channel.
type Execution struct {
	ID     string
	Stdin  io.WriteCloser
	Stdout io.Reader
	Stderr io.Reader
	Result <-chan ExecResult

	conn net.Conn
}

// Close tears down the streaming connection; running commands see EOF.
func (e *Execution) Close() error { return e.conn.Close() }

// ExecInterface spawns commands inside the guest container.
type ExecInterface struct {
	s *Session
}

// Start opens a dedicated streaming connection, sends the start frame,
// and returns once the guest acknowledges with the execution id.
func (e *ExecInterface) Start(ctx context.Context, cfg ExecConfig) (*Execution, error) {
	ctx, span := tracer.Start(ctx, "exec.spawn")
	defer span.End()

	conn, err := e.s.dialRaw(ctx)
	if err != nil {
		return nil, err
	}

	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(conn)

	if err := enc.Encode(frame{Type: "start", Config: &cfg}); err != nil {
		conn.Close()
		return nil, berrors.Wrap(berrors.RpcTransport, "sending exec start", err)
	}
	var started frame
	if err := dec.Decode(&started); err != nil {
		conn.Close()
		return nil, berrors.Wrap(berrors.RpcTransport, "awaiting exec ack", err)
	}
	if started.Type != "started" {
		conn.Close()
		if started.Error != "" {
			return nil, berrors.Newf(berrors.Execution, "exec rejected: %s", started.Error)
		}
		return nil, berrors.Newf(berrors.Rpc, "unexpected exec ack frame %q", started.Type)
	}

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	result := make(chan ExecResult, 1)

	ex := &Execution{
		ID:     started.ExecutionID,
		Stdin:  &stdinWriter{enc: enc, conn: conn},
		Stdout: stdoutR,
		Stderr: stderrR,
		Result: result,
		conn:   conn,
	}

	go func() {
		defer stdoutW.Close()
		defer stderrW.Close()
		defer close(result)
		for {
			var f frame
			if err := dec.Decode(&f); err != nil {
				stdoutW.CloseWithError(err)
				stderrW.CloseWithError(err)
				return
			}
			switch f.Type {
			case "stdout":
				if _, err := stdoutW.Write(f.Data); err != nil {
					return
				}
			case "stderr":
				if _, err := stderrW.Write(f.Data); err != nil {
					return
				}
			case "result":
				if f.Result != nil {
					result <- *f.Result
				} else {
					result <- ExecResult{ExitCode: -1, Error: f.Error}
				}
				return
			}
		}
	}()

	return ex, nil
}

// stdinWriter frames writes as stdin frames; Close sends stdin_close so
// the guest can close the command's stdin without tearing the
// connection down.
type stdinWriter struct {
	mu   sync.Mutex
	enc  *json.Encoder
	conn net.Conn
}

func (w *stdinWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(frame{Type: "stdin", Data: p}); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *stdinWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(frame{Type: "stdin_close"})
}
