//go:build windows

package cio

import (
	"github.com/brickingsoft/cio/pkg/winsock"
	"golang.org/x/sys/windows"
	"syscall"
)

// Completer is the completion hook shared by every operation descriptor. The
// service invokes it on the dispatch goroutine once the completion event for
// the descriptor's pending operation has been dequeued. Synchronous
// completions never reach it: the issuing call reports those through its
// boolean result alone.
type Completer interface {
	Complete()
}

// Resumable is a multi-step operation that suspends when a sub-operation
// goes pending and resumes from its recorded state once that sub-operation
// completes.
type Resumable interface {
	Resume()
}

// resumption carries the machine an async descriptor wrapper resumes.
type resumption struct {
	machine Resumable
}

// Bind attaches the machine resumed after the descriptor's own completion
// bookkeeping has run.
func (r *resumption) Bind(machine Resumable) {
	r.machine = machine
}

// Operation correlates one issued asynchronous request with its completion
// event. The overlapped block must stay the first field: dispatch recovers
// the issuing descriptor by casting the dequeued OVERLAPPED pointer back
// through it. A descriptor carries at most one pending operation at a time
// and must stay alive and unmoved from issue until the completion has been
// dispatched; the service's in-flight registry enforces both.
type Operation struct {
	overlapped syscall.Overlapped
	errno      syscall.Errno
}

// Errno is the operation's raw result code, valid once the operation has
// completed, synchronously or through dispatch.
func (op *Operation) Errno() syscall.Errno {
	return op.errno
}

// Failed reports whether the completed operation carries a failure code.
func (op *Operation) Failed() bool {
	return op.errno != 0
}

// Err is nil for a successful operation, and the stored code wrapped as a
// network error otherwise.
func (op *Operation) Err() error {
	if op.errno == 0 {
		return nil
	}
	return newNetworkError("operation", op.errno)
}

// Complete is the base hook. Descriptors whose result is captured before
// their event is posted need no bookkeeping here.
func (op *Operation) Complete() {}

// SocketOperation records the socket handle an overlapped operation was
// issued against, plus the transferred byte count and flags the stack
// reports for it.
type SocketOperation struct {
	Operation
	handle      windows.Handle
	transferred uint32
	flags       uint32
}

func (op *SocketOperation) socketOperation() *SocketOperation {
	return op
}

// Transferred is the number of bytes the operation moved.
func (op *SocketOperation) Transferred() int {
	return int(op.transferred)
}

// Flags are the completion flags the stack reported.
func (op *SocketOperation) Flags() uint32 {
	return op.flags
}

func (op *SocketOperation) prepare(handle windows.Handle) {
	op.handle = handle
	op.transferred = 0
	op.flags = 0
}

func (op *SocketOperation) fail(errno syscall.Errno) {
	op.errno = errno
	op.transferred = 0
	op.flags = 0
}

// Complete confirms the dequeued completion against the socket: a dequeued
// failure event does not carry the final code or counts, so they are
// queried, not trusted.
func (op *SocketOperation) Complete() {
	var flags uint32
	errno := winsock.WSAGetOverlappedResult(op.handle, &op.overlapped, &op.transferred, false, &flags)
	op.errno = errno
	op.flags = flags
}

// ConnectOperation finalizes a stream connect: after the base bookkeeping it
// synchronizes the socket with its connected state, and a failure there
// overrides a nominally successful connect.
type ConnectOperation struct {
	SocketOperation
}

func (op *ConnectOperation) connectOperation() *ConnectOperation {
	return op
}

func (op *ConnectOperation) Complete() {
	op.SocketOperation.Complete()
	if op.errno != 0 {
		return
	}
	if err := syscall.Setsockopt(syscall.Handle(op.handle), syscall.SOL_SOCKET, syscall.SO_UPDATE_CONNECT_CONTEXT, nil, 0); err != nil {
		op.errno = errnoOf(err)
	}
}

// SocketOp is any descriptor built on SocketOperation that the socket's
// issuing methods accept. The set is closed to this package's types.
type SocketOp interface {
	Completer
	socketOperation() *SocketOperation
}

// ConnectOp is any descriptor built on ConnectOperation.
type ConnectOp interface {
	SocketOp
	connectOperation() *ConnectOperation
}

// AsyncSocketOperation resumes its bound machine after the socket
// descriptor's completion bookkeeping.
type AsyncSocketOperation struct {
	SocketOperation
	resumption
}

func (op *AsyncSocketOperation) Complete() {
	op.SocketOperation.Complete()
	op.machine.Resume()
}

// AsyncConnectOperation resumes its bound machine after the connect
// descriptor's completion bookkeeping.
type AsyncConnectOperation struct {
	ConnectOperation
	resumption
}

func (op *AsyncConnectOperation) Complete() {
	op.ConnectOperation.Complete()
	op.machine.Resume()
}
