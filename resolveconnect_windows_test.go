//go:build windows

package cio

import (
	"github.com/brickingsoft/cio/pkg/reference"
	"github.com/brickingsoft/cio/pkg/winsock"
	"io"
	"net"
	"strconv"
	"syscall"
	"testing"
	"unsafe"
)

func isRefused(errno syscall.Errno) bool {
	return errno == winsock.WSAECONNREFUSED || errno == winsock.ERROR_CONNECTION_REFUSED
}

// resolveConnectDriver owns one resolve-and-connect chain and records its
// finalization.
type resolveConnectDriver struct {
	op   AsyncResolveConnectOperation
	done bool
}

func newResolveConnectDriver() *resolveConnectDriver {
	d := new(resolveConnectDriver)
	d.op.Bind(d)
	return d
}

func (d *resolveConnectDriver) Resume() {
	d.done = true
}

// inet4Addrinfo builds one resolver-shaped list node for a loopback port.
// family lets a test plant an address no socket can be created for.
func inet4Addrinfo(family int32, port int) *winsock.AddrinfoExW {
	rsa := new(syscall.RawSockaddrAny)
	sa4 := (*syscall.RawSockaddrInet4)(unsafe.Pointer(rsa))
	sa4.Family = syscall.AF_INET
	sa4.Port = uint16(port)<<8 | uint16(port)>>8
	copy(sa4.Addr[:], net.IPv4(127, 0, 0, 1).To4())
	return &winsock.AddrinfoExW{
		Family:   family,
		Socktype: syscall.SOCK_STREAM,
		Protocol: syscall.IPPROTO_TCP,
		Addrlen:  unsafe.Sizeof(syscall.RawSockaddrInet4{}),
		Addr:     rsa,
	}
}

func chain(nodes ...*winsock.AddrinfoExW) *winsock.AddrinfoExW {
	for i := 0; i < len(nodes)-1; i++ {
		nodes[i].Next = nodes[i+1]
	}
	return nodes[0]
}

// seedResolved puts a driver's machine right past resolution with a
// hand-built address list, as if the resolver had returned it.
func seedResolved(svc *Service, sock *Socket, d *resolveConnectDriver, head *winsock.AddrinfoExW, payload []byte) {
	rc := &d.op.ResolveConnectOperation
	rc.svc = svc
	rc.sock = sock
	rc.payload = payload
	rc.self = &d.op
	rc.resolveOp.Bind(rc)
	rc.connectOp.Bind(rc)
	rc.resolveOp.errno = 0
	rc.resolveOp.result = reference.Share(head, func(*winsock.AddrinfoExW) {})
	rc.state = rcResolved
	rc.sync = false
}

// deadPort is a loopback port with nothing listening on it.
func deadPort(t *testing.T) int {
	t.Helper()
	ln, lnErr := net.Listen("tcp", "127.0.0.1:0")
	if lnErr != nil {
		t.Fatal("listen failed:", lnErr)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

// livePort runs a one-shot loopback listener that reports what the accepted
// connection's first want bytes were.
func livePort(t *testing.T, want int) (int, chan string) {
	t.Helper()
	ln, lnErr := net.Listen("tcp", "127.0.0.1:0")
	if lnErr != nil {
		t.Fatal("listen failed:", lnErr)
	}
	received := make(chan string, 1)
	go func() {
		defer close(received)
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			t.Error("accept failed:", acceptErr)
			return
		}
		buf := make([]byte, want)
		if _, readErr := io.ReadFull(conn, buf); readErr != nil {
			t.Error("read failed:", readErr)
		} else {
			received <- string(buf)
		}
		_ = conn.Close()
		_ = ln.Close()
	}()
	return ln.Addr().(*net.TCPAddr).Port, received
}

func TestFallbackReachesSecondAddress(t *testing.T) {
	svc := newTestService(t)
	port, received := livePort(t, 4)
	head := chain(
		inet4Addrinfo(syscall.AF_INET, deadPort(t)),
		inet4Addrinfo(syscall.AF_INET, port),
	)

	var sock Socket
	d := newResolveConnectDriver()
	seedResolved(svc, &sock, d, head, []byte("ping"))
	d.op.Resume()
	for !d.done {
		runOne(t, svc)
	}
	defer sock.Close()

	if d.op.Failed() {
		t.Fatal("fallback connect failed:", d.op.Err())
	}
	if d.op.Transferred() != 4 {
		t.Error("connect sent", d.op.Transferred(), "bytes")
	}
	if got := <-received; got != "ping" {
		t.Error("listener read", got)
	}
	if !sock.Valid() {
		t.Error("winning attempt left no socket")
	}
}

func TestExhaustionKeepsLastError(t *testing.T) {
	svc := newTestService(t)

	// the bogus family fails at socket creation, the dead port at connect;
	// the final code must be the second attempt's either way around
	t.Run("refused last", func(t *testing.T) {
		head := chain(
			inet4Addrinfo(77, 0),
			inet4Addrinfo(syscall.AF_INET, deadPort(t)),
		)
		var sock Socket
		d := newResolveConnectDriver()
		seedResolved(svc, &sock, d, head, nil)
		d.op.Resume()
		for !d.done {
			runOne(t, svc)
		}
		if !d.op.Failed() {
			t.Fatal("connect to a dead port succeeded")
		}
		if !isRefused(d.op.Errno()) {
			t.Error("final code", d.op.Errno(), "is not the last attempt's")
		}
	})
	t.Run("unsupported family last", func(t *testing.T) {
		head := chain(
			inet4Addrinfo(syscall.AF_INET, deadPort(t)),
			inet4Addrinfo(77, 0),
		)
		var sock Socket
		d := newResolveConnectDriver()
		seedResolved(svc, &sock, d, head, nil)
		d.op.Resume()
		for !d.done {
			runOne(t, svc)
		}
		if !d.op.Failed() {
			t.Fatal("attempt on an unsupported family succeeded")
		}
		if d.op.Errno() != winsock.WSAEAFNOSUPPORT {
			t.Error("final code", d.op.Errno(), "is not the last attempt's")
		}
	})
}

func TestResolveFailureMakesNoAttempt(t *testing.T) {
	svc := newTestService(t)
	var sock Socket
	d := newResolveConnectDriver()
	done := ResolveConnect(svc, &sock, "unresolvable.invalid", "80", nil, &d.op)
	for !done && !d.done {
		runOne(t, svc)
	}
	if !d.op.Failed() {
		t.Fatal("connect to a reserved invalid name succeeded")
	}
	if sock.Valid() {
		t.Error("a socket was created despite the failed resolution")
	}
}

func TestResolveConnectLoopback(t *testing.T) {
	svc := newTestService(t)
	port, received := livePort(t, 5)

	var sock Socket
	d := newResolveConnectDriver()
	done := ResolveConnect(svc, &sock, "localhost", strconv.Itoa(port), []byte("hello"), &d.op)
	for !done && !d.done {
		runOne(t, svc)
	}
	defer sock.Close()

	if d.op.Failed() {
		t.Fatal("resolve and connect failed:", d.op.Err())
	}
	if d.op.Transferred() != 5 {
		t.Error("connect sent", d.op.Transferred(), "bytes")
	}
	if got := <-received; got != "hello" {
		t.Error("listener read", got)
	}
}
