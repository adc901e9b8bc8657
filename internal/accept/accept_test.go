package accept

import (
	"bufio"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maxwallstedt/go-maxserver/internal/quit"
	"github.com/maxwallstedt/go-maxserver/internal/registry"
)

func echoOnce(conn net.Conn, done <-chan struct{}) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}
	conn.Write([]byte(line))
}

func TestAcceptorHandlesConnections(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	q := quit.New()
	reg := registry.New(q, nil, nil)
	a := Start(ln, q, reg, echoOnce, "", nil, nil)

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if reply != "hello\n" {
		t.Fatalf("reply = %q, want %q", reply, "hello\n")
	}

	q.Fire()
	ln.Close()

	doneStop := make(chan error, 1)
	go func() { doneStop <- a.Stop() }()

	select {
	case err := <-doneStop:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not converge after quit fired and listener closed")
	}
}

func TestAcceptorQuitBeforeHandlerDispatch(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	q := quit.New()
	reg := registry.New(q, nil, nil)
	var ran atomic.Bool
	a := Start(ln, q, reg, func(net.Conn, <-chan struct{}) { ran.Store(true) }, "", nil, nil)

	q.Fire()

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	if err == nil {
		conn.Close()
	}

	ln.Close()
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if ran.Load() {
		t.Fatal("handler ran for a connection accepted after quit fired")
	}
}
