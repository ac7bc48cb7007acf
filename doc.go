// Package cio is a minimal asynchronous socket reactor built directly on the
// Windows I/O completion port facility.
//
// A Service owns one completion queue. Sockets are associated with it at
// creation and issue overlapped operations against it; every issuing call
// reports through one boolean whether the operation finished on the call
// itself or went pending, in which case its completion is delivered exactly
// once through the service's dispatch loop (RunOne or RunBatch, driven by
// one goroutine). Name resolution joins the same loop: its completion is
// re-posted onto the queue rather than delivered on the resolver's thread.
//
// Multi-step operations suspend and resume through the Resumable contract
// instead of holding a call stack across pending sub-operations.
// ResolveConnect is the built-in one: it resolves a name and tries each
// returned address in order until one connects.
package cio
