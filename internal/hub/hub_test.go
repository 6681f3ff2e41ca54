package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/alinzhou20/miniServer/internal/registry"
	"github.com/alinzhou20/miniServer/internal/restore"
	"github.com/alinzhou20/miniServer/internal/router"
	"github.com/alinzhou20/miniServer/pkg/event"
)

type noopStore struct{}

func (noopStore) AppendMessage(ctx context.Context, msg *event.Message) error { return nil }
func (noopStore) ListByGroup(ctx context.Context, groupID int) ([]*event.Identity, error) {
	return nil, nil
}
func (noopStore) ListByGroupRole(ctx context.Context, groupID, role int) ([]*event.Identity, error) {
	return nil, nil
}

type noopRestorer struct{}

func (noopRestorer) ForParticipant(ctx context.Context, participantID, scope string) *restore.ParticipantView {
	return &restore.ParticipantView{}
}
func (noopRestorer) ForTeacher(ctx context.Context, scope string) restore.TeacherView {
	return restore.TeacherView{}
}

type hubConn struct {
	id       string
	identity *event.Identity

	mu   sync.Mutex
	sent []any
}

func (c *hubConn) ID() string                { return c.id }
func (c *hubConn) Identity() *event.Identity { return c.identity }
func (c *hubConn) Close() error              { return nil }

func (c *hubConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, v)
	return nil
}

func (c *hubConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *hubConn) sentEvents() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.sent))
	copy(out, c.sent)
	return out
}

func newTestHub(t *testing.T) (*Hub, *registry.Registry) {
	t.Helper()
	reg := registry.New(zerolog.Nop())
	rt := router.New(reg, noopStore{}, noopRestorer{}, zerolog.Nop())
	return New(reg, rt, zerolog.Nop()), reg
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHub_StartStop(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()

	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := h.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}
	if err := h.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := h.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Stop = %v, want ErrNotRunning", err)
	}
}

func TestHub_OperationsRequireRunning(t *testing.T) {
	h, _ := newTestHub(t)

	conn := &hubConn{id: "c1", identity: &event.Identity{ID: "p1", Role: event.RoleStudent}}
	if err := h.Connect(conn); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Connect before Start = %v, want ErrNotRunning", err)
	}
	if err := h.Disconnect("c1"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Disconnect before Start = %v, want ErrNotRunning", err)
	}
	if err := h.Dispatch(conn, &event.Envelope{}); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Dispatch before Start = %v, want ErrNotRunning", err)
	}
}

func TestHub_ConnectAdmitsToRegistry(t *testing.T) {
	h, reg := newTestHub(t)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = h.Stop() }()

	conn := &hubConn{id: "c1", identity: &event.Identity{ID: "p1", Role: event.RoleStudent, StudentNo: 1}}
	if err := h.Connect(conn); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	waitUntil(t, func() bool {
		_, ok := reg.Get("c1")
		return ok
	}, "connection never admitted")

	if err := h.Disconnect("c1"); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	waitUntil(t, func() bool {
		_, ok := reg.Get("c1")
		return !ok
	}, "connection never removed")
}

func TestHub_DispatchPreservesSenderOrder(t *testing.T) {
	h, _ := newTestHub(t)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = h.Stop() }()

	teacherConn := &hubConn{id: "t1", identity: &event.Identity{ID: event.TeacherID, Role: event.RoleTeacher}}
	sender := &hubConn{id: "c1", identity: &event.Identity{ID: "p1", Role: event.RoleStudent, StudentNo: 1}}
	if err := h.Connect(teacherConn); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := h.Connect(sender); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	const n = 20
	for i := 0; i < n; i++ {
		payload, _ := json.Marshal(map[string]int{"seq": i})
		env := &event.Envelope{EventType: event.TypeSubmit, MessageType: "vote", Payload: payload}
		if err := h.Dispatch(sender, env); err != nil {
			t.Fatalf("Dispatch %d failed: %v", i, err)
		}
	}

	// One presence notice plus n submits.
	waitUntil(t, func() bool { return teacherConn.sentCount() >= n+1 }, "submits never arrived")

	seq := 0
	for _, v := range teacherConn.sentEvents() {
		out, ok := v.(*event.Outbound)
		if !ok || out.EventType != event.TypeSubmit {
			continue
		}
		var body struct {
			Seq int `json:"seq"`
		}
		if err := json.Unmarshal(out.Payload, &body); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		if body.Seq != seq {
			t.Fatalf("out of order: got seq %d, want %d", body.Seq, seq)
		}
		seq++
	}
	if seq != n {
		t.Errorf("received %d submits, want %d", seq, n)
	}
}

func TestHub_EvictionBeforeNewConnectionEvents(t *testing.T) {
	h, reg := newTestHub(t)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = h.Stop() }()

	identity := &event.Identity{ID: "p1", Role: event.RoleStudent, StudentNo: 1}
	first := &hubConn{id: "c1", identity: identity}
	second := &hubConn{id: "c2", identity: identity}

	if err := h.Connect(first); err != nil {
		t.Fatalf("first Connect failed: %v", err)
	}
	if err := h.Connect(second); err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}

	waitUntil(t, func() bool {
		_, ok := reg.Get("c2")
		return ok
	}, "replacement never admitted")

	// The superseded connection is out of the registry once its
	// replacement is in; both rode the same queue.
	if _, ok := reg.Get("c1"); ok {
		t.Error("superseded connection still registered after replacement admitted")
	}

	var superseded bool
	for _, v := range first.sentEvents() {
		if out, ok := v.(*event.Outbound); ok && out.EventType == event.TypeSuperseded {
			superseded = true
		}
	}
	if !superseded {
		t.Error("superseded notice never sent")
	}
}

func TestHub_ContextCancelStopsLoop(t *testing.T) {
	h, _ := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())

	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	// The loop exits; queued operations are no longer processed. Stop still
	// flips the running flag cleanly.
	time.Sleep(20 * time.Millisecond)
	if err := h.Stop(); err != nil {
		t.Errorf("Stop after cancel failed: %v", err)
	}
}
