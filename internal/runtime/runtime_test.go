package runtime

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/boxlite/boxlite/internal/berrors"
	"github.com/boxlite/boxlite/internal/guestsession"
	"github.com/boxlite/boxlite/internal/jailer"
	"github.com/boxlite/boxlite/internal/pipeline"
	"github.com/boxlite/boxlite/internal/state"
	"github.com/boxlite/boxlite/internal/store"
	"github.com/boxlite/boxlite/internal/vmm"
)

// fakeHandler stands in for a running shim.
type fakeHandler struct {
	pid     uint32
	stopped bool
	ready   time.Time
	started time.Time
}

func (f *fakeHandler) PID() uint32                      { return f.pid }
func (f *fakeHandler) IsRunning() bool                  { return !f.stopped }
func (f *fakeHandler) Stop(ctx context.Context) error   { f.stopped = true; return nil }
func (f *fakeHandler) Kill()                            { f.stopped = true }
func (f *fakeHandler) Metrics() (vmm.Metrics, error)    { return vmm.Metrics{MemoryBytes: 1 << 20}, nil }
func (f *fakeHandler) MarkGuestReady()                  { f.ready = time.Now() }
func (f *fakeHandler) GuestBootDuration() time.Duration { return f.ready.Sub(f.started) }

// fakeSpawner serves the guest agent protocol in-process instead of
// booting a VM: on Spawn it starts an HTTP agent on the transport
// socket, connects to the ready socket, and hands back a fake handler.
type fakeSpawner struct {
	t         *testing.T
	failSpawn bool
	spawned   int
}

func (f *fakeSpawner) Spawn(ctx context.Context, kind vmm.Kind, spec vmm.InstanceSpec, paths jailer.Paths, pidFilePath string) (pipeline.Handler, error) {
	if f.failSpawn {
		return nil, berrors.New(berrors.Engine, "injected spawn failure")
	}
	f.spawned++

	mux := http.NewServeMux()
	ok := func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Write([]byte(`{}`))
	}
	mux.HandleFunc("/guest/ping", ok)
	mux.HandleFunc("/guest/init", ok)
	mux.HandleFunc("/guest/shutdown", ok)
	mux.HandleFunc("/container/init", ok)

	_ = os.Remove(spec.TransportPath)
	ln, err := net.Listen("unix", spec.TransportPath)
	if err != nil {
		return nil, err
	}
	go serveFakeAgent(ln, mux)

	// The "guest" signals readiness.
	go func() {
		time.Sleep(10 * time.Millisecond)
		if conn, err := net.Dial("unix", spec.ReadySocketPath); err == nil {
			conn.Close()
		}
	}()

	return &fakeHandler{pid: uint32(os.Getpid()), started: time.Now()}, nil
}

// serveFakeAgent multiplexes HTTP RPCs and raw exec-frame connections
// on one listener the way the real agent does on its vsock port.
func serveFakeAgent(ln net.Listener, mux *http.ServeMux) {
	srv := &http.Server{Handler: mux}
	execLn := &peekListener{Listener: ln, httpConns: make(chan net.Conn, 8)}
	go srv.Serve(execLn)
	execLn.run()
}

// peekListener sniffs the first byte: JSON frames (exec) start with
// '{'; HTTP methods don't.
type peekListener struct {
	net.Listener
	httpConns chan net.Conn
}

func (p *peekListener) run() {
	for {
		conn, err := p.Listener.Accept()
		if err != nil {
			close(p.httpConns)
			return
		}
		go p.route(conn)
	}
}

func (p *peekListener) route(conn net.Conn) {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(conn, buf); err != nil {
		conn.Close()
		return
	}
	wrapped := &prefixedConn{Conn: conn, prefix: buf}
	if buf[0] == '{' {
		handleFakeExec(wrapped)
		return
	}
	p.httpConns <- wrapped
}

func (p *peekListener) Accept() (net.Conn, error) {
	conn, ok := <-p.httpConns
	if !ok {
		return nil, net.ErrClosed
	}
	return conn, nil
}

type prefixedConn struct {
	net.Conn
	prefix []byte
}

func (c *prefixedConn) Read(b []byte) (int, error) {
	if len(c.prefix) > 0 {
		n := copy(b, c.prefix)
		c.prefix = c.prefix[n:]
		return n, nil
	}
	return c.Conn.Read(b)
}

type execFrame struct {
	Type        string           `json:"type"`
	Data        []byte           `json:"data,omitempty"`
	Config      *json.RawMessage `json:"config,omitempty"`
	ExecutionID string           `json:"execution_id,omitempty"`
	Result      *struct {
		ExitCode int    `json:"exit_code"`
		Error    string `json:"error,omitempty"`
	} `json:"result,omitempty"`
}

// handleFakeExec acknowledges the start frame, emits "hi\n" on stdout
// and exits 0.
func handleFakeExec(conn net.Conn) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	var start execFrame
	if err := dec.Decode(&start); err != nil || start.Type != "start" {
		return
	}
	enc.Encode(execFrame{Type: "started", ExecutionID: "exec-test"})
	enc.Encode(execFrame{Type: "stdout", Data: []byte("hi\n")})
	enc.Encode(execFrame{
		Type: "result",
		Result: &struct {
			ExitCode int    `json:"exit_code"`
			Error    string `json:"error,omitempty"`
		}{ExitCode: 0},
	})
}

func (f *fakeSpawner) Attach(pidFilePath, boxID string) (pipeline.Handler, error) {
	return nil, berrors.New(berrors.InvalidState, "fake spawner cannot attach")
}

func newTestRuntime(t *testing.T, spawner pipeline.Spawner) *Runtime {
	t.Helper()
	// Short home path: unix socket paths must stay under the OS limit.
	home, err := os.MkdirTemp("", "blt")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(home) })
	rt, err := New(context.Background(), Options{HomeDir: home, Spawner: spawner})
	if err != nil {
		t.Fatalf("runtime.New: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

func hostRootfsOptions(t *testing.T) store.BoxOptions {
	t.Helper()
	rootfs := t.TempDir()
	return store.BoxOptions{HostRootfsPath: rootfs}
}

// S1: create, list, remove.
func TestCreateListRemove(t *testing.T) {
	rt := newTestRuntime(t, &fakeSpawner{t: t})
	ctx := context.Background()

	h, err := rt.Create(ctx, store.BoxOptions{ImageRef: "alpine:latest"}, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !h.ID().Valid() || len(h.ID()) != 26 {
		t.Errorf("box id %q not a valid 26-char id", h.ID())
	}

	infos, err := rt.ListInfo(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 {
		t.Fatalf("ListInfo len = %d, want 1", len(infos))
	}

	// Never started: status is Starting, so non-force remove refuses.
	err = rt.Remove(ctx, string(h.ID()), false)
	if !berrors.Is(err, berrors.InvalidState) {
		t.Errorf("remove without force: kind = %v, want invalid_state", berrors.KindOf(err))
	}
	if err := rt.Remove(ctx, string(h.ID()), true); err != nil {
		t.Fatalf("remove with force: %v", err)
	}

	infos, err = rt.ListInfo(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 0 {
		t.Errorf("ListInfo after remove = %d entries, want 0", len(infos))
	}
}

// S2: name uniqueness.
func TestNameUniqueness(t *testing.T) {
	rt := newTestRuntime(t, &fakeSpawner{t: t})
	ctx := context.Background()

	if _, err := rt.Create(ctx, store.BoxOptions{ImageRef: "alpine:latest"}, "a"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := rt.Create(ctx, store.BoxOptions{ImageRef: "alpine:latest"}, "a")
	if !berrors.Is(err, berrors.InvalidArgument) || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("second create: %v", err)
	}

	if err := rt.Remove(ctx, "a", true); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := rt.Create(ctx, store.BoxOptions{ImageRef: "alpine:latest"}, "a"); err != nil {
		t.Fatalf("re-create after remove: %v", err)
	}
}

// S3 (fake-backed): lifecycle create → start → exec → stop.
func TestLifecycle(t *testing.T) {
	spawner := &fakeSpawner{t: t}
	rt := newTestRuntime(t, spawner)
	ctx := context.Background()

	h, err := rt.Create(ctx, hostRootfsOptions(t), "life")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if spawner.spawned != 1 {
		t.Errorf("spawned = %d, want 1", spawner.spawned)
	}

	// start() on Running is a no-op.
	if err := h.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if spawner.spawned != 1 {
		t.Errorf("second start respawned: %d", spawner.spawned)
	}

	info := h.Info()
	if info.State.Status != state.Running {
		t.Errorf("status = %v, want running", info.State.Status)
	}
	if info.State.PID == nil {
		t.Error("running box must have a pid")
	}

	ex, err := h.Exec(ctx, guestsession.ExecConfig{Command: []string{"echo", "hi"}})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	out, _ := io.ReadAll(ex.Stdout)
	if string(out) != "hi\n" {
		t.Errorf("exec stdout = %q", out)
	}
	res := <-ex.Result
	if res.ExitCode != 0 {
		t.Errorf("exit = %d", res.ExitCode)
	}

	if err := h.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	st, err := rt.reg.LoadState(h.ID())
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != state.Stopped || st.PID != nil {
		t.Errorf("after stop: status=%v pid=%v", st.Status, st.PID)
	}
	pidFile := rt.layout.BoxLayout(h.ID(), false).ShimPIDPath()
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Error("shim.pid should be removed after stop")
	}

	// The handle is invalidated after stop().
	if _, err := h.Exec(ctx, guestsession.ExecConfig{Command: []string{"true"}}); !berrors.Is(err, berrors.InvalidState) {
		t.Errorf("exec after stop: %v", err)
	}
}

// S4: reboot recovery.
func TestRebootRecovery(t *testing.T) {
	home, err := os.MkdirTemp("", "blt")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(home) })
	ctx := context.Background()

	rt, err := New(ctx, Options{HomeDir: home, Spawner: &fakeSpawner{t: t}})
	if err != nil {
		t.Fatal(err)
	}

	// Box A: persisted as Running with a pid that will be "dead" after
	// reboot. Box B: Stopped.
	ha, err := rt.Create(ctx, store.BoxOptions{ImageRef: "alpine:latest"}, "a")
	if err != nil {
		t.Fatal(err)
	}
	stA := *state.New()
	if err := stA.TransitionTo(state.Running); err != nil {
		t.Fatal(err)
	}
	pid := uint32(1 << 22)
	stA.SetPID(&pid)
	if err := rt.reg.AddBox(ctx, ha.Config(), stA); err != nil {
		t.Fatal(err)
	}

	hb, err := rt.Create(ctx, store.BoxOptions{ImageRef: "alpine:latest"}, "b")
	if err != nil {
		t.Fatal(err)
	}
	stB := *state.New()
	if err := stB.TransitionTo(state.Stopped); err != nil {
		t.Fatal(err)
	}
	if err := rt.reg.AddBox(ctx, hb.Config(), stB); err != nil {
		t.Fatal(err)
	}

	// Simulate reboot: change the stored boot id behind the next
	// runtime's back.
	if _, err := rt.st.CheckAndUpdateBoot("previous-boot"); err != nil {
		t.Fatal(err)
	}
	rt.Close()

	rt2, err := New(ctx, Options{HomeDir: home, Spawner: &fakeSpawner{t: t}})
	if err != nil {
		t.Fatalf("runtime restart: %v", err)
	}
	defer rt2.Close()

	active, err := rt2.reg.ListActive()
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Errorf("ListActive after reboot = %d, want 0", len(active))
	}
	for _, name := range []string{"a", "b"} {
		info, err := rt2.GetInfo(ctx, name)
		if err != nil {
			t.Fatalf("GetInfo(%s): %v", name, err)
		}
		if info.State.Status != state.Stopped || info.State.PID != nil {
			t.Errorf("box %s after reboot: status=%v pid=%v", name, info.State.Status, info.State.PID)
		}
	}
}

// S5: pipeline failure rollback.
func TestPipelineFailureRollback(t *testing.T) {
	spawner := &fakeSpawner{t: t, failSpawn: true}
	rt := newTestRuntime(t, spawner)
	ctx := context.Background()

	h, err := rt.Create(ctx, hostRootfsOptions(t), "doomed")
	if err != nil {
		t.Fatal(err)
	}
	id := h.ID()

	if err := h.Start(ctx); err == nil {
		t.Fatal("Start should fail with injected spawn failure")
	}

	// No DB row.
	if has, err := rt.reg.HasBox(id); err != nil || has {
		t.Errorf("db row should be rolled back (has=%v err=%v)", has, err)
	}
	// No box directory.
	if _, err := os.Stat(filepath.Join(rt.layout.BoxesRoot(), string(id))); !os.IsNotExist(err) {
		t.Error("box directory should be rolled back")
	}
	// Lock freed.
	if n := rt.locks.AllocatedCount(); n != 0 {
		t.Errorf("allocated locks = %d, want 0", n)
	}
	// Failure counted.
	if got := rt.Metrics().BoxesFailed; got != 1 {
		t.Errorf("boxes_failed = %d, want 1", got)
	}
}

func TestHomeLockExclusive(t *testing.T) {
	home, err := os.MkdirTemp("", "blt")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(home) })
	ctx := context.Background()

	rt1, err := New(ctx, Options{HomeDir: home})
	if err != nil {
		t.Fatal(err)
	}
	defer rt1.Close()

	if _, err := New(ctx, Options{HomeDir: home}); !berrors.Is(err, berrors.InvalidState) {
		t.Errorf("second runtime on same home: %v", err)
	}
}
