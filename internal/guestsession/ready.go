package guestsession

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/boxlite/boxlite/internal/berrors"
)

// ReadyListener is the host side of the guest readiness handshake: the
// host listens on a Unix socket bridged to the guest's ready vsock
// port; the guest connects once its agent is serving.
type ReadyListener struct {
	ln net.Listener
}

// ListenReady binds the ready socket. Must happen before the VM spawns
// so the guest's connect never races the listener.
func ListenReady(path string) (*ReadyListener, error) {
	// Stale socket from a previous run of this box.
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, berrors.Wrap(berrors.Network, "listening on ready socket", err)
	}
	return &ReadyListener{ln: ln}, nil
}

// Wait blocks until the guest connects or the timeout elapses.
func (r *ReadyListener) Wait(ctx context.Context, timeout time.Duration) error {
	type result struct{ err error }
	done := make(chan result, 1)
	go func() {
		conn, err := r.ln.Accept()
		if err == nil {
			conn.Close()
		}
		done <- result{err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return berrors.Wrap(berrors.Network, "accepting ready connection", res.err)
		}
		return nil
	case <-time.After(timeout):
		return berrors.Newf(berrors.Network, "guest not ready within %s", timeout)
	case <-ctx.Done():
		return berrors.Wrap(berrors.Network, "ready wait cancelled", ctx.Err())
	}
}

// Close releases the listener and unlinks the socket.
func (r *ReadyListener) Close() error {
	return r.ln.Close()
}
