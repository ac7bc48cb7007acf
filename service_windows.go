//go:build windows

package cio

import (
	"github.com/brickingsoft/cio/pkg/winsock"
	"github.com/brickingsoft/errors"
	"golang.org/x/sys/windows"
	"sync"
	"syscall"
	"unsafe"
)

// Completion keys: sockets are associated with keyDispatch; keyShutdown
// marks the sentinel RequestShutdown posts.
const (
	keyDispatch uintptr = 0
	keyShutdown uintptr = 1
)

// batchSize bounds how many ready completions one RunBatch wait drains.
const batchSize = 16

// Service owns the completion queue every socket and resolution completion
// funnels through. One goroutine drains it with RunOne or RunBatch; all
// completion hooks and resumptions run on that goroutine, strictly
// serialized.
type Service struct {
	cp       windows.Handle
	mu       sync.Mutex
	inflight map[*Operation]Completer
}

// NewService starts winsock and allocates the completion queue.
func NewService() (*Service, error) {
	var data windows.WSAData
	if err := windows.WSAStartup(uint32(0x202), &data); err != nil {
		return nil, newPlatformError("wsa_startup", err)
	}
	cp, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, newPlatformError("create_io_completion_port", err)
	}
	return &Service{
		cp:       cp,
		inflight: make(map[*Operation]Completer),
	}, nil
}

// Close releases the queue handle. Safe to call repeatedly. Operations still
// queued with the OS are abandoned, not cancelled.
func (svc *Service) Close() error {
	if svc.cp == windows.InvalidHandle {
		return nil
	}
	cp := svc.cp
	svc.cp = windows.InvalidHandle
	if err := windows.CloseHandle(cp); err != nil {
		return newPlatformError("close_handle", err)
	}
	return nil
}

// RunOne blocks until one completion event is ready and dispatches it,
// reporting whether the caller should keep draining. The shutdown sentinel
// is not dispatched: it just makes the result false. A dequeue failure that
// still carries a descriptor is that operation's failure and dispatches
// normally; the hook recovers the code from the socket.
func (svc *Service) RunOne() (bool, error) {
	var qty uint32
	var key uintptr
	var overlapped *windows.Overlapped
	err := windows.GetQueuedCompletionStatus(svc.cp, &qty, &key, &overlapped, windows.INFINITE)
	if err != nil && overlapped == nil {
		return false, newPlatformError("get_queued_completion_status", err)
	}
	if key == keyShutdown {
		return false, nil
	}
	return true, svc.dispatch(overlapped)
}

// RunBatch drains up to batchSize ready completions in one wait and
// dispatches them in delivery order. A shutdown sentinel inside the batch
// does not stop the entries after it from being dispatched; it only makes
// the result false so the caller's loop ends after this batch.
func (svc *Service) RunBatch() (bool, error) {
	var entries [batchSize]winsock.OverlappedEntry
	var removed uint32
	if errno := winsock.GetQueuedCompletionStatusEx(svc.cp, entries[:], &removed, windows.INFINITE, false); errno != 0 {
		return false, newPlatformError("get_queued_completion_status_ex", errno)
	}
	keepRunning := true
	var dispatchErr error
	for i := uint32(0); i < removed; i++ {
		if entries[i].CompletionKey == keyShutdown {
			keepRunning = false
			continue
		}
		if err := svc.dispatch(entries[i].Overlapped); err != nil && dispatchErr == nil {
			dispatchErr = err
		}
	}
	return keepRunning, dispatchErr
}

// RequestShutdown posts the shutdown sentinel. Completions dequeued before
// it still dispatch normally.
func (svc *Service) RequestShutdown() error {
	if err := windows.PostQueuedCompletionStatus(svc.cp, 0, keyShutdown, nil); err != nil {
		return newPlatformError("post_queued_completion_status", err)
	}
	return nil
}

// track registers op as in flight just before it is handed to the OS,
// resetting its result state, and returns the overlapped block to issue
// with. The registry entry keeps the descriptor reachable for as long as the
// kernel may write to that block, and guards the one-pending-operation-per-
// descriptor contract.
func (svc *Service) track(op *Operation, self Completer) *syscall.Overlapped {
	svc.mu.Lock()
	if _, exists := svc.inflight[op]; exists {
		svc.mu.Unlock()
		panic("cio: operation descriptor reissued while still pending")
	}
	svc.inflight[op] = self
	svc.mu.Unlock()
	op.overlapped = syscall.Overlapped{}
	op.errno = 0
	return &op.overlapped
}

// untrack removes op from the registry and returns its registered
// completer, nil when op was not in flight.
func (svc *Service) untrack(op *Operation) Completer {
	svc.mu.Lock()
	self := svc.inflight[op]
	delete(svc.inflight, op)
	svc.mu.Unlock()
	return self
}

// dispatch recovers the descriptor that issued the dequeued event and runs
// its registered completion hook. Which concrete descriptor fired stays
// behind Completer.
func (svc *Service) dispatch(overlapped *windows.Overlapped) error {
	op := (*Operation)(unsafe.Pointer(overlapped))
	self := svc.untrack(op)
	if self == nil {
		return errors.From(
			ErrUnexpectedCompletion,
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
		)
	}
	self.Complete()
	return nil
}
