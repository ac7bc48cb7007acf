package cio

import (
	"github.com/brickingsoft/errors"
	"os"
	"syscall"
)

var (
	// ErrPlatform marks failures of process, handle and queue level calls:
	// service setup, socket association, bind, listen, shutdown, close.
	ErrPlatform = errors.Define("platform error")
	// ErrNetwork marks failures the network stack reports for an issued
	// socket or resolution operation.
	ErrNetwork = errors.Define("network error")
	// ErrUnexpectedCompletion marks a dequeued completion whose descriptor
	// was not registered as in flight.
	ErrUnexpectedCompletion = errors.Define("unexpected completion error")
)

func IsPlatformError(err error) bool {
	return errors.Is(err, ErrPlatform)
}

func IsNetworkError(err error) bool {
	return errors.Is(err, ErrNetwork)
}

func IsUnexpectedCompletionError(err error) bool {
	return errors.Is(err, ErrUnexpectedCompletion)
}

const (
	errMetaPkgKey  = "pkg"
	errMetaPkgVal  = "cio"
	errMetaCallKey = "call"
)

func newPlatformError(call string, cause error) error {
	return errors.From(
		ErrPlatform,
		errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
		errors.WithMeta(errMetaCallKey, call),
		errors.WithWrap(os.NewSyscallError(call, cause)),
	)
}

func newNetworkError(call string, errno syscall.Errno) error {
	return errors.From(
		ErrNetwork,
		errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
		errors.WithMeta(errMetaCallKey, call),
		errors.WithWrap(os.NewSyscallError(call, errno)),
	)
}

// errnoOf unwraps the raw code the syscall layer reports; syscall functions
// on this platform surface failures as bare syscall.Errno values.
func errnoOf(err error) syscall.Errno {
	if errno, ok := err.(syscall.Errno); ok {
		return errno
	}
	return syscall.EINVAL
}
