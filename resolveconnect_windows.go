//go:build windows

package cio

import (
	"github.com/brickingsoft/cio/pkg/reference"
	"github.com/brickingsoft/cio/pkg/winsock"
	"syscall"
)

// rcState is the resumption point of a ResolveConnectOperation.
type rcState int

const (
	rcStart rcState = iota
	rcResolved
	rcConnectAttempted
)

// ResolveConnectOperation resolves a host and service name, then tries the
// resolved addresses strictly in the order the resolver returned them: for
// each, create a socket of the address's family, type and protocol, bind it
// to the family's wildcard address, and connect with the initial payload.
// The first address that connects wins; a failed attempt closes its socket
// and the next address is tried; when every address has failed, the last
// attempt's error stands. Failing to even set an attempt's socket up counts
// as that attempt failing.
//
// The chain advances on the issuing call for as long as every sub-operation
// completes synchronously, and suspends when one goes pending, resuming
// from the recorded state and cursor on that sub-operation's dispatch.
type ResolveConnectOperation struct {
	SocketOperation

	state     rcState
	resolveOp AsyncResolveOperation
	connectOp AsyncConnectOperation

	// sync is true while the machine is still unwinding on the stack of
	// the issuing call, whose boolean result then carries the outcome; the
	// owner's hook must not also fire there.
	sync bool

	addrs *reference.Counted[*winsock.AddrinfoExW]
	iter  *winsock.AddrinfoExW

	svc     *Service
	sock    *Socket
	host    string
	service string
	payload []byte

	self Completer
}

func (rc *ResolveConnectOperation) resolveConnectOperation() *ResolveConnectOperation {
	return rc
}

// Complete overrides the socket descriptor's hook: the machine records its
// final code and counts itself in finish, nothing is queried from the
// stack.
func (rc *ResolveConnectOperation) Complete() {}

// ResolveConnectOp is any descriptor built on ResolveConnectOperation.
type ResolveConnectOp interface {
	Completer
	resolveConnectOperation() *ResolveConnectOperation
}

// AsyncResolveConnectOperation resumes its bound machine once the whole
// resolve-and-connect chain has finalized.
type AsyncResolveConnectOperation struct {
	ResolveConnectOperation
	resumption
}

func (op *AsyncResolveConnectOperation) Complete() {
	op.ResolveConnectOperation.Complete()
	op.machine.Resume()
}

// ResolveConnect resolves host and service through svc and connects sock to
// the first reachable resolved address, transmitting payload as part of
// establishment. The issuing contract matches the socket's: true means the
// chain finished on this call and ctx's result fields are valid, false
// means it suspended and ctx completes through dispatch.
func ResolveConnect(svc *Service, sock *Socket, host string, service string, payload []byte, ctx ResolveConnectOp) bool {
	rc := ctx.resolveConnectOperation()
	rc.svc = svc
	rc.sock = sock
	rc.host = host
	rc.service = service
	rc.payload = payload
	rc.self = ctx
	rc.resolveOp.Bind(rc)
	rc.connectOp.Bind(rc)
	rc.state = rcStart
	rc.sync = true
	rc.Resume()
	return rc.sync
}

// Resume drives the machine from its recorded suspension point. Each pass
// either reaches the final result through synchronous completions alone, or
// issues a sub-operation that went pending and returns with the state and
// cursor recorded in the machine itself.
func (rc *ResolveConnectOperation) Resume() {
	for {
		switch rc.state {
		case rcStart:
			rc.state = rcResolved
			if !Resolve(rc.svc, rc.host, rc.service, nil, &rc.resolveOp) {
				rc.sync = false
				return
			}
		case rcResolved:
			if rc.resolveOp.Failed() {
				rc.finish(rc.resolveOp.Errno(), 0, 0)
				return
			}
			result := rc.resolveOp.Result()
			if result == nil || result.Value() == nil {
				rc.finish(winsock.WSAHOST_NOT_FOUND, 0, 0)
				return
			}
			rc.addrs = result.Retain()
			rc.iter = rc.addrs.Value()
			if !rc.attempt() {
				rc.sync = false
				return
			}
		case rcConnectAttempted:
			if !rc.connectOp.Failed() {
				rc.finish(0, rc.connectOp.transferred, rc.connectOp.flags)
				return
			}
			_ = rc.sock.Close()
			if rc.iter.Next == nil {
				rc.finish(rc.connectOp.Errno(), rc.connectOp.transferred, rc.connectOp.flags)
				return
			}
			rc.iter = rc.iter.Next
			if !rc.attempt() {
				rc.sync = false
				return
			}
		}
	}
}

// attempt issues the connect for the cursor's address, reporting completion
// the way issuing calls do: true when the attempt already finished, its
// result recorded in the connect descriptor, false when the connect is
// pending.
func (rc *ResolveConnectOperation) attempt() bool {
	ai := rc.iter
	rc.state = rcConnectAttempted
	next, errno := newSocket(rc.svc, ai.Family, ai.Socktype, ai.Protocol)
	if errno != 0 {
		rc.connectOp.fail(errno)
		return true
	}
	_ = rc.sock.Close()
	*rc.sock = next
	var local syscall.RawSockaddrAny
	local.Addr.Family = uint16(ai.Family)
	if errno = winsock.Bind(rc.sock.handle, &local, int32(ai.Addrlen)); errno != 0 {
		rc.connectOp.fail(errno)
		return true
	}
	return rc.sock.ConnectSend(ai.Addr, int32(ai.Addrlen), rc.payload, &rc.connectOp)
}

// finish records the chain's final result, releases the address list, and
// notifies the owner unless the chain never suspended, where the issuing
// call's boolean result already carries the outcome.
func (rc *ResolveConnectOperation) finish(errno syscall.Errno, transferred uint32, flags uint32) {
	rc.errno = errno
	rc.transferred = transferred
	rc.flags = flags
	rc.handle = rc.sock.handle
	rc.iter = nil
	if rc.addrs != nil {
		rc.addrs.Release()
		rc.addrs = nil
	}
	rc.resolveOp.releaseResult()
	if !rc.sync {
		rc.self.Complete()
	}
}
