package registry

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maxwallstedt/go-maxserver/internal/quit"
)

type fakeConn struct {
	net.Conn
	closed atomic.Bool
}

func (f *fakeConn) Close() error {
	f.closed.Store(true)
	return nil
}

func newFakeConn() *fakeConn { return &fakeConn{} }

func TestSpawnImmediateReturnIsJoinedAndRemoved(t *testing.T) {
	q := quit.New()
	r := New(q, nil, nil)

	var ran atomic.Bool
	conn := newFakeConn()
	if err := r.Spawn(conn, func(net.Conn, <-chan struct{}) { ran.Store(true) }); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for r.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("entry never reaped, Len=%d", r.Len())
		}
		time.Sleep(time.Millisecond)
	}

	if !ran.Load() {
		t.Fatal("handler never ran")
	}
	if !conn.closed.Load() {
		t.Fatal("connection was not closed after handler returned")
	}
}

func TestSpawnPastInitialCapacity(t *testing.T) {
	q := quit.New()
	r := New(q, nil, nil)

	const n = initialCapacity * 3
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		conn := newFakeConn()
		if err := r.Spawn(conn, func(net.Conn, <-chan struct{}) {
			<-release
			wg.Done()
		}); err != nil {
			t.Fatalf("Spawn %d: %v", i, err)
		}
	}

	if got := r.Len(); got != n {
		t.Fatalf("Len() = %d, want %d", got, n)
	}

	close(release)
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for r.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("registry never drained, Len=%d", r.Len())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStopDrainsLiveHandlers(t *testing.T) {
	q := quit.New()
	r := New(q, nil, nil)

	started := make(chan struct{})
	var sawQuit atomic.Bool
	conn := newFakeConn()
	if err := r.Spawn(conn, func(_ net.Conn, done <-chan struct{}) {
		close(started)
		<-done
		sawQuit.Store(true)
	}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	<-started
	q.Fire()

	doneStop := make(chan error, 1)
	go func() { doneStop <- r.Stop() }()

	select {
	case err := <-doneStop:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after quit fired")
	}

	if !sawQuit.Load() {
		t.Fatal("handler never observed quit")
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d after Stop, want 0", r.Len())
	}
}

func TestSpawnNamedCountPrefix(t *testing.T) {
	q := quit.New()
	r := New(q, nil, nil)

	release := make(chan struct{})
	names := []string{"echo.1", "echo.2", "chat.1"}
	for _, name := range names {
		name := name
		conn := newFakeConn()
		if err := r.SpawnNamed(name, conn, func(net.Conn, <-chan struct{}) { <-release }); err != nil {
			t.Fatalf("SpawnNamed(%s): %v", name, err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for r.Len() != len(names) {
		if time.Now().After(deadline) {
			t.Fatalf("not all entries registered yet, Len=%d", r.Len())
		}
		time.Sleep(time.Millisecond)
	}

	if got := r.CountPrefix("echo."); got != 2 {
		t.Fatalf("CountPrefix(echo.) = %d, want 2", got)
	}
	if got := r.CountPrefix("chat."); got != 1 {
		t.Fatalf("CountPrefix(chat.) = %d, want 1", got)
	}

	close(release)
	_ = r.Stop()

	if got := r.CountPrefix("echo."); got != 0 {
		t.Fatalf("CountPrefix(echo.) after Stop = %d, want 0", got)
	}
}
