package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chatterd/chatterd/internal/bus"
	"github.com/chatterd/chatterd/internal/status"
)

// fakeConn is a scriptable connection: tests feed inbound data and observe
// writes. Read blocks until data is fed or the conn is closed.
type fakeConn struct {
	in     chan []byte
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	writes [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), done: make(chan struct{})}
}

func (f *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-f.in:
		return data, nil
	case <-f.done:
		return nil, errors.New("connection reset")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) Write(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, data)
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

// scriptDialer returns the scripted outcomes in order, then blocks.
type scriptDialer struct {
	mu       sync.Mutex
	outcomes []dialOutcome
	calls    int
}

type dialOutcome struct {
	conn *fakeConn
	err  error
}

func (d *scriptDialer) dial(ctx context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	if len(d.outcomes) == 0 {
		d.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	out := d.outcomes[0]
	d.outcomes = d.outcomes[1:]
	d.calls++
	d.mu.Unlock()
	if out.err != nil {
		return nil, out.err
	}
	return out.conn, nil
}

func newTestClient(t *testing.T, d *scriptDialer, maxAttempts int) (*Client, *bus.Bus) {
	t.Helper()
	b := bus.New()
	c := NewClient(
		func() string { return "ws://test/ws/1?token=t" },
		status.NewMachine(b), b, zap.NewNop(),
		Options{RetryDelay: time.Millisecond, MaxAttempts: maxAttempts, Dial: d.dial},
	)
	t.Cleanup(c.Close)
	return c, b
}

func waitFor(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %q", kind)
		}
	}
}

func TestConnectDeliversTaggedFrames(t *testing.T) {
	conn := newFakeConn()
	d := &scriptDialer{outcomes: []dialOutcome{{conn: conn}}}
	c, b := newTestClient(t, d, 3)

	ch, unsub := b.Subscribe("conn.", 16)
	defer unsub()

	if err := c.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	evt := waitFor(t, ch, bus.ConnUp)
	if info := evt.Payload.(bus.ConnInfo); info.Generation != 1 {
		t.Errorf("generation = %d, want 1", info.Generation)
	}
	if c.State() != status.Open {
		t.Errorf("state = %s, want OPEN", c.State())
	}

	conn.in <- []byte(`{"type":"message"}`)
	select {
	case in := <-c.Frames():
		if in.Gen != 1 {
			t.Errorf("frame generation = %d, want 1", in.Gen)
		}
		if string(in.Data) != `{"type":"message"}` {
			t.Errorf("frame data = %s", in.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")
	}
}

func TestDialFailureRetriesThenConnects(t *testing.T) {
	conn := newFakeConn()
	d := &scriptDialer{outcomes: []dialOutcome{
		{err: errors.New("refused")},
		{err: errors.New("refused")},
		{conn: conn},
	}}
	c, b := newTestClient(t, d, 10)

	ch, unsub := b.Subscribe("conn.", 16)
	defer unsub()

	if err := c.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, ch, bus.ConnUp)

	d.mu.Lock()
	calls := d.calls
	d.mu.Unlock()
	if calls != 3 {
		t.Errorf("dial calls = %d, want 3", calls)
	}
}

func TestReconnectAdvancesGeneration(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	d := &scriptDialer{outcomes: []dialOutcome{{conn: conn1}, {conn: conn2}}}
	c, b := newTestClient(t, d, 3)

	ch, unsub := b.Subscribe("conn.", 16)
	defer unsub()

	if err := c.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, ch, bus.ConnUp)

	// Kill the first connection; the client must reconnect with a new
	// generation.
	_ = conn1.Close()
	waitFor(t, ch, bus.ConnDown)
	evt := waitFor(t, ch, bus.ConnUp)
	if info := evt.Payload.(bus.ConnInfo); info.Generation != 2 {
		t.Errorf("generation = %d, want 2", info.Generation)
	}

	conn2.in <- []byte(`x`)
	select {
	case in := <-c.Frames():
		if in.Gen != 2 {
			t.Errorf("frame generation = %d, want 2 (stale generation leaked)", in.Gen)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")
	}
}

func TestSendRequiresOpen(t *testing.T) {
	d := &scriptDialer{}
	c, _ := newTestClient(t, d, 3)

	if err := c.Send(context.Background(), []byte(`x`)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send before open: err = %v, want ErrNotConnected", err)
	}
}

func TestSendWritesToLiveConn(t *testing.T) {
	conn := newFakeConn()
	d := &scriptDialer{outcomes: []dialOutcome{{conn: conn}}}
	c, b := newTestClient(t, d, 3)

	ch, unsub := b.Subscribe("conn.", 16)
	defer unsub()
	if err := c.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, ch, bus.ConnUp)

	if err := c.Send(context.Background(), []byte(`{"type":"join_chat","chat_id":1}`)); err != nil {
		t.Fatal(err)
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(conn.writes))
	}
}

func TestRetryCeilingGoesDownThenManualReconnect(t *testing.T) {
	conn := newFakeConn()
	d := &scriptDialer{outcomes: []dialOutcome{
		{err: errors.New("refused")},
		{err: errors.New("refused")},
		{conn: conn},
	}}
	c, b := newTestClient(t, d, 2)

	ch, unsub := b.Subscribe("conn.", 32)
	defer unsub()

	if err := c.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, ch, bus.ConnRetriesExhausted)
	if c.State() != status.Down {
		t.Errorf("state = %s, want DOWN", c.State())
	}

	// Only a manual reconnect re-arms the loop.
	c.Reconnect()
	waitFor(t, ch, bus.ConnUp)
	if c.State() != status.Open {
		t.Errorf("state = %s, want OPEN after manual reconnect", c.State())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	d := &scriptDialer{outcomes: []dialOutcome{{conn: conn}}}
	c, b := newTestClient(t, d, 3)

	ch, unsub := b.Subscribe("conn.", 16)
	defer unsub()
	if err := c.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, ch, bus.ConnUp)

	c.Close()
	c.Close()

	if err := c.Send(context.Background(), []byte(`x`)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send after close: err = %v, want ErrNotConnected", err)
	}
	if err := c.Open(context.Background()); err == nil {
		t.Error("Open after close should fail")
	}
}
