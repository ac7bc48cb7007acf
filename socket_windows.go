//go:build windows

package cio

import (
	"github.com/brickingsoft/cio/pkg/winsock"
	"golang.org/x/sys/windows"
	"syscall"
	"unsafe"
)

// AcceptAddrLen is the size of one kernel-written address slot at the tail
// of an AcceptReceive buffer; the buffer must reserve two of them past the
// initial-receive region.
const AcceptAddrLen = uint32(unsafe.Sizeof(syscall.RawSockaddrAny{}) + 16)

// Socket owns one overlapped socket handle bound to a service's completion
// queue. The zero value is an empty socket.
//
// Issuing methods share one contract: true means the operation finished on
// the call itself, with the descriptor's result fields already valid, and no
// completion hook will fire for it; false means it went pending and the hook
// fires once the service dispatches the completion. A submit failure is a
// synchronous completion carrying the failure. Buffers handed to a pending
// operation must stay alive and unchanged until its completion.
type Socket struct {
	svc    *Service
	handle windows.Handle
}

// NewSocket creates an overlapped socket of the given family, type and
// protocol, associates it with the service's queue, and turns completion
// notifications off for operations that finish on the issuing call, so each
// operation is reported through exactly one path.
func NewSocket(svc *Service, family, sotype, proto int32) (Socket, error) {
	sock, errno := newSocket(svc, family, sotype, proto)
	if errno != 0 {
		return Socket{}, newNetworkError("wsa_socket", errno)
	}
	return sock, nil
}

func newSocket(svc *Service, family, sotype, proto int32) (Socket, syscall.Errno) {
	handle, socketErr := windows.WSASocket(family, sotype, proto, nil, 0, windows.WSA_FLAG_OVERLAPPED|windows.WSA_FLAG_NO_HANDLE_INHERIT)
	if socketErr != nil {
		return Socket{}, errnoOf(socketErr)
	}
	if _, err := windows.CreateIoCompletionPort(handle, svc.cp, keyDispatch, 0); err != nil {
		_ = syscall.Closesocket(syscall.Handle(handle))
		return Socket{}, errnoOf(err)
	}
	mode := uint8(syscall.FILE_SKIP_COMPLETION_PORT_ON_SUCCESS | syscall.FILE_SKIP_SET_EVENT_ON_HANDLE)
	if err := syscall.SetFileCompletionNotificationModes(syscall.Handle(handle), mode); err != nil {
		_ = syscall.Closesocket(syscall.Handle(handle))
		return Socket{}, errnoOf(err)
	}
	return Socket{svc: svc, handle: handle}, 0
}

// Valid reports whether the socket currently owns a handle.
func (s *Socket) Valid() bool {
	return s.handle != 0 && s.handle != windows.InvalidHandle
}

// Close releases the handle. Safe to call repeatedly and on the zero value.
func (s *Socket) Close() error {
	if !s.Valid() {
		return nil
	}
	handle := s.handle
	s.handle = windows.InvalidHandle
	if err := syscall.Closesocket(syscall.Handle(handle)); err != nil {
		return newPlatformError("closesocket", err)
	}
	return nil
}

// Bind associates the socket with a local address in raw sockaddr form.
func (s *Socket) Bind(name *syscall.RawSockaddrAny, nameLen int32) error {
	if errno := winsock.Bind(s.handle, name, nameLen); errno != 0 {
		return newPlatformError("bind", errno)
	}
	return nil
}

// Listen marks the socket as accepting connections. A backlog of zero or
// less means the maximum reasonable one.
func (s *Socket) Listen(backlog int) error {
	if backlog <= 0 {
		backlog = syscall.SOMAXCONN
	}
	if err := syscall.Listen(syscall.Handle(s.handle), backlog); err != nil {
		return newPlatformError("listen", err)
	}
	return nil
}

// SetOptionInt sets a socket option.
func (s *Socket) SetOptionInt(level, name, value int) error {
	if err := syscall.SetsockoptInt(syscall.Handle(s.handle), level, name, value); err != nil {
		return newPlatformError("setsockopt", err)
	}
	return nil
}

// TrySetOptionInt sets a socket option, reporting success instead of
// failing, for options the platform may not honor.
func (s *Socket) TrySetOptionInt(level, name, value int) bool {
	return syscall.SetsockoptInt(syscall.Handle(s.handle), level, name, value) == nil
}

// AcceptReceive accepts one pending connection into conn, optionally
// reading the connection's first recvLen bytes in the same operation. buf
// holds the received data and, past recvLen, the kernel-written address
// pair: it needs at least recvLen+2*AcceptAddrLen bytes. With recvLen zero
// the operation completes as soon as a connection arrives.
func (s *Socket) AcceptReceive(conn *Socket, buf []byte, recvLen int, ctx SocketOp) bool {
	op := ctx.socketOperation()
	op.prepare(s.handle)
	if recvLen < 0 || len(buf) < recvLen+int(2*AcceptAddrLen) {
		op.fail(winsock.WSAEINVAL)
		return true
	}
	fn, errno := winsock.LoadExtension(s.handle, &winsock.WSAIDAcceptEx)
	if errno != 0 {
		op.fail(errno)
		return true
	}
	overlapped := s.svc.track(&op.Operation, ctx)
	errno = winsock.AcceptEx(fn, s.handle, conn.handle, &buf[0], uint32(recvLen), AcceptAddrLen, AcceptAddrLen, &op.transferred, overlapped)
	return s.issued(op, errno)
}

// Connect connects the socket to a remote address. The socket must be bound
// to a local address first.
func (s *Socket) Connect(name *syscall.RawSockaddrAny, nameLen int32, ctx ConnectOp) bool {
	return s.ConnectSend(name, nameLen, nil, ctx)
}

// ConnectSend connects and hands the stack an initial payload to transmit
// as part of connection establishment.
func (s *Socket) ConnectSend(name *syscall.RawSockaddrAny, nameLen int32, payload []byte, ctx ConnectOp) bool {
	op := ctx.socketOperation()
	op.prepare(s.handle)
	fn, errno := winsock.LoadExtension(s.handle, &winsock.WSAIDConnectEx)
	if errno != 0 {
		op.fail(errno)
		return true
	}
	overlapped := s.svc.track(&op.Operation, ctx)
	var payloadPtr *byte
	if len(payload) > 0 {
		payloadPtr = &payload[0]
	}
	errno = winsock.ConnectEx(fn, s.handle, name, nameLen, payloadPtr, uint32(len(payload)), &op.transferred, overlapped)
	return s.issued(op, errno)
}

// Send transmits b.
func (s *Socket) Send(b []byte, flags uint32, ctx SocketOp) bool {
	var buf syscall.WSABuf
	buf.Len = uint32(len(b))
	if len(b) > 0 {
		buf.Buf = &b[0]
	}
	return s.send(&buf, 1, flags, ctx)
}

// Sendv transmits the buffers of bufs as one gathered operation.
func (s *Socket) Sendv(bufs [][]byte, flags uint32, ctx SocketOp) bool {
	op := ctx.socketOperation()
	if len(bufs) == 0 {
		op.prepare(s.handle)
		op.fail(winsock.WSAEINVAL)
		return true
	}
	wsabufs := makeWSABufs(bufs)
	return s.send(&wsabufs[0], uint32(len(wsabufs)), flags, ctx)
}

func (s *Socket) send(bufs *syscall.WSABuf, count uint32, flags uint32, ctx SocketOp) bool {
	op := ctx.socketOperation()
	op.prepare(s.handle)
	overlapped := s.svc.track(&op.Operation, ctx)
	err := syscall.WSASend(syscall.Handle(s.handle), bufs, count, &op.transferred, flags, overlapped, nil)
	if err == nil {
		return s.issued(op, 0)
	}
	return s.issued(op, errnoOf(err))
}

// Receive reads into b. On a stream socket a successful completion of zero
// bytes is the peer's end of stream.
func (s *Socket) Receive(b []byte, flags uint32, ctx SocketOp) bool {
	var buf syscall.WSABuf
	buf.Len = uint32(len(b))
	if len(b) > 0 {
		buf.Buf = &b[0]
	}
	return s.receive(&buf, 1, flags, ctx)
}

// Receivev reads into the buffers of bufs as one scattered operation.
func (s *Socket) Receivev(bufs [][]byte, flags uint32, ctx SocketOp) bool {
	op := ctx.socketOperation()
	if len(bufs) == 0 {
		op.prepare(s.handle)
		op.fail(winsock.WSAEINVAL)
		return true
	}
	wsabufs := makeWSABufs(bufs)
	return s.receive(&wsabufs[0], uint32(len(wsabufs)), flags, ctx)
}

func (s *Socket) receive(bufs *syscall.WSABuf, count uint32, flags uint32, ctx SocketOp) bool {
	op := ctx.socketOperation()
	op.prepare(s.handle)
	overlapped := s.svc.track(&op.Operation, ctx)
	err := syscall.WSARecv(syscall.Handle(s.handle), bufs, count, &op.transferred, &flags, overlapped, nil)
	if err == nil {
		op.flags = flags
		return s.issued(op, 0)
	}
	return s.issued(op, errnoOf(err))
}

// Shutdown half-closes the socket in the given direction (syscall.SHUT_RD,
// syscall.SHUT_WR or syscall.SHUT_RDWR).
func (s *Socket) Shutdown(how int) error {
	if err := syscall.Shutdown(syscall.Handle(s.handle), how); err != nil {
		return newPlatformError("shutdown", err)
	}
	return nil
}

// Disconnect tears the connection down after pending sends settle. With
// reuse the handle stays usable for a later Connect without recreating the
// socket.
func (s *Socket) Disconnect(reuse bool, ctx SocketOp) bool {
	op := ctx.socketOperation()
	op.prepare(s.handle)
	fn, errno := winsock.LoadExtension(s.handle, &winsock.WSAIDDisconnectEx)
	if errno != 0 {
		op.fail(errno)
		return true
	}
	overlapped := s.svc.track(&op.Operation, ctx)
	var flags uint32
	if reuse {
		flags = winsock.TF_REUSE_SOCKET
	}
	errno = winsock.DisconnectEx(fn, s.handle, overlapped, flags, 0)
	return s.issued(op, errno)
}

// issued finishes the issuing triage for a tracked operation: errno zero is
// a synchronous completion, pending leaves the descriptor tracked for
// dispatch, anything else is a synchronous failure.
func (s *Socket) issued(op *SocketOperation, errno syscall.Errno) bool {
	switch errno {
	case 0:
		s.svc.untrack(&op.Operation)
		op.errno = 0
		return true
	case syscall.ERROR_IO_PENDING:
		return false
	default:
		s.svc.untrack(&op.Operation)
		op.errno = errno
		return true
	}
}

func makeWSABufs(bufs [][]byte) []syscall.WSABuf {
	wsabufs := make([]syscall.WSABuf, 0, len(bufs))
	for _, b := range bufs {
		buf := syscall.WSABuf{Len: uint32(len(b))}
		if len(b) > 0 {
			buf.Buf = &b[0]
		}
		wsabufs = append(wsabufs, buf)
	}
	return wsabufs
}
