//go:build windows

package cio

import (
	"github.com/brickingsoft/cio/pkg/reference"
	"github.com/brickingsoft/cio/pkg/winsock"
	"golang.org/x/sys/windows"
	"syscall"
	"unsafe"
)

// ResolveOperation is the descriptor of one asynchronous name resolution.
// The resolver delivers on a worker thread of its own, so the completion
// routine only captures the outcome and re-posts a synthetic event onto the
// service queue: resolution then flows through the same dispatch loop as
// socket completions.
type ResolveOperation struct {
	Operation
	cp     windows.Handle
	raw    *winsock.AddrinfoExW
	result *reference.Counted[*winsock.AddrinfoExW]
}

func (op *ResolveOperation) resolveOperation() *ResolveOperation {
	return op
}

// Result is the shared handle over the resolved address list, non-nil only
// after a successful completion. Holders Retain it for as long as they read
// the list and Release when done; the last release frees the list.
func (op *ResolveOperation) Result() *reference.Counted[*winsock.AddrinfoExW] {
	return op.result
}

// releaseResult drops the descriptor's own hold on the list.
func (op *ResolveOperation) releaseResult() {
	if op.result != nil {
		op.result.Release()
		op.result = nil
	}
}

// ResolveOp is any descriptor built on ResolveOperation.
type ResolveOp interface {
	Completer
	resolveOperation() *ResolveOperation
}

// AsyncResolveOperation resumes its bound machine after the resolve
// descriptor's completion bookkeeping.
type AsyncResolveOperation struct {
	ResolveOperation
	resumption
}

func (op *AsyncResolveOperation) Complete() {
	op.ResolveOperation.Complete()
	op.machine.Resume()
}

// resolveDone is the resolver's completion routine. It runs on a resolver
// worker thread and must not dispatch there: it wraps the raw list into the
// shared handle, records the code, and re-posts the descriptor onto the
// queue it was issued against.
var resolveDone = windows.NewCallback(func(errno, transferred, overlapped uintptr) uintptr {
	_ = transferred
	op := (*ResolveOperation)(unsafe.Pointer(overlapped))
	if errno == 0 && op.raw != nil {
		op.result = reference.Share(op.raw, winsock.FreeAddrInfoEx)
		op.raw = nil
	}
	op.errno = syscall.Errno(errno)
	_ = windows.PostQueuedCompletionStatus(op.cp, 0, keyDispatch, (*windows.Overlapped)(unsafe.Pointer(&op.overlapped)))
	return 0
})

// Resolve issues an asynchronous resolution of name and service against the
// service's queue. hints may be nil. The issuing contract matches the
// socket's: true means the descriptor's result is already valid, false
// means the completion arrives through dispatch. On success, synchronous or
// not, the descriptor holds the shared address list.
func Resolve(svc *Service, name string, service string, hints *winsock.AddrinfoExW, ctx ResolveOp) bool {
	op := ctx.resolveOperation()
	op.cp = svc.cp
	op.raw = nil
	op.releaseResult()
	namePtr, nameErr := windows.UTF16PtrFromString(name)
	if nameErr != nil {
		op.errno = winsock.WSAEINVAL
		return true
	}
	servicePtr, serviceErr := windows.UTF16PtrFromString(service)
	if serviceErr != nil {
		op.errno = winsock.WSAEINVAL
		return true
	}
	overlapped := svc.track(&op.Operation, ctx)
	errno := winsock.GetAddrInfoEx(namePtr, servicePtr, winsock.NS_ALL, nil, hints, &op.raw, nil, overlapped, resolveDone, nil)
	switch errno {
	case 0:
		// Finished on the issuing call: the completion routine will not
		// run, so ownership of the raw list is taken here.
		svc.untrack(&op.Operation)
		if op.raw != nil {
			op.result = reference.Share(op.raw, winsock.FreeAddrInfoEx)
			op.raw = nil
		}
		op.errno = 0
		return true
	case winsock.WSA_IO_PENDING:
		return false
	default:
		svc.untrack(&op.Operation)
		op.errno = errno
		return true
	}
}
