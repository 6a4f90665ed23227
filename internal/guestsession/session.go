package guestsession

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/boxlite/boxlite/internal/berrors"
)

var tracer = otel.Tracer("boxlite/guestsession")

// Session multiplexes the guest, container and exec interfaces over one
// host-side Unix socket that the VMM bridges to the guest agent's vsock
// port.
type Session struct {
	socketPath string
	httpClient *http.Client
}

// Connect dials the agent socket and waits until the agent answers
// pings, bounded by timeout. The ready-socket signal fires first in the
// normal bring-up; the ping loop covers reattach, where no ready signal
// will ever come.
func Connect(ctx context.Context, socketPath string, timeout time.Duration) (*Session, error) {
	s := &Session{
		socketPath: socketPath,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}

	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, berrors.Wrap(berrors.RpcTransport, "guest connect cancelled", err)
		}
		if lastErr = s.Guest().Ping(ctx); lastErr == nil {
			return s, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil, berrors.Wrap(berrors.RpcTransport, "guest did not answer within "+timeout.String(), lastErr)
}

// Guest returns the guest interface.
func (s *Session) Guest() *GuestInterface { return &GuestInterface{s: s} }

// Container returns the container interface.
func (s *Session) Container() *ContainerInterface { return &ContainerInterface{s: s} }

// Exec returns the exec interface.
func (s *Session) Exec() *ExecInterface { return &ExecInterface{s: s} }

// call POSTs a JSON body to path and decodes the JSON response into
// result (when non-nil). Guest-side application errors come back in an
// {"error": ...} envelope and surface as Portal errors.
func (s *Session) call(ctx context.Context, name, path string, body, result any) error {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("rpc.system", "boxlite"),
		attribute.String("rpc.method", name),
	))
	defer span.End()

	var payload []byte
	var err error
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return berrors.Wrap(berrors.Internal, "marshaling "+name+" request", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://guest"+path, bytes.NewReader(payload))
	if err != nil {
		return berrors.Wrap(berrors.Internal, "building "+name+" request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return berrors.Wrap(berrors.RpcTransport, name+" transport failure", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&envelope) == nil && envelope.Error != "" {
			err := berrors.Newf(berrors.Portal, "%s: %s", name, envelope.Error)
			span.RecordError(err)
			return err
		}
		err := berrors.Newf(berrors.Rpc, "%s: HTTP %d", name, resp.StatusCode)
		span.RecordError(err)
		return err
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return berrors.Wrap(berrors.Rpc, "decoding "+name+" response", err)
		}
	}
	return nil
}

// dialRaw opens a dedicated connection for streaming use (exec).
func (s *Session) dialRaw(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", s.socketPath)
	if err != nil {
		return nil, berrors.Wrap(berrors.RpcTransport, "dialing exec stream", err)
	}
	return conn, nil
}
