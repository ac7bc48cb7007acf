//go:build windows

// Package winsock binds the pieces of ws2_32 and kernel32 the reactor needs
// beyond what syscall and golang.org/x/sys/windows export: GetAddrInfoExW
// with a completion routine, GetQueuedCompletionStatusEx, raw bind, and the
// winsock extension functions resolved through WSAIoctl.
package winsock

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	// WSA_IO_PENDING reports an overlapped operation successfully queued.
	WSA_IO_PENDING = syscall.Errno(997)

	// ERROR_CONNECTION_REFUSED is the Win32 rendering of a refused
	// connect; the stack reports overlapped connect failures with it or
	// with WSAECONNREFUSED depending on the query path.
	ERROR_CONNECTION_REFUSED = syscall.Errno(1225)

	WSAEINVAL         = syscall.Errno(10022)
	WSAEAFNOSUPPORT   = syscall.Errno(10047)
	WSAECONNREFUSED   = syscall.Errno(10061)
	WSAHOST_NOT_FOUND = syscall.Errno(11001)

	// NS_ALL queries every namespace provider.
	NS_ALL = uint32(0)

	// TF_REUSE_SOCKET makes DisconnectEx leave the handle reusable for a
	// later ConnectEx.
	TF_REUSE_SOCKET = uint32(0x02)
)

// Extension function GUIDs, resolved per socket through WSAIoctl with
// SIO_GET_EXTENSION_FUNCTION_POINTER.
var (
	WSAIDAcceptEx     = windows.GUID{Data1: 0xb5367df1, Data2: 0xcbac, Data3: 0x11cf, Data4: [8]byte{0x95, 0xca, 0x00, 0x80, 0x5f, 0x48, 0xa1, 0x92}}
	WSAIDConnectEx    = windows.GUID{Data1: 0x25a207b9, Data2: 0xddf3, Data3: 0x4660, Data4: [8]byte{0x8e, 0xe9, 0x76, 0xe5, 0x8c, 0x74, 0x06, 0x3e}}
	WSAIDDisconnectEx = windows.GUID{Data1: 0x7fda2e11, Data2: 0x8630, Data3: 0x436f, Data4: [8]byte{0xa0, 0x31, 0xf5, 0x36, 0xa6, 0xee, 0xc1, 0x57}}
)

var (
	modws2_32   = windows.NewLazySystemDLL("ws2_32.dll")
	modkernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procbind                        = modws2_32.NewProc("bind")
	procGetAddrInfoExW              = modws2_32.NewProc("GetAddrInfoExW")
	procFreeAddrInfoExW             = modws2_32.NewProc("FreeAddrInfoExW")
	procWSAGetOverlappedResult      = modws2_32.NewProc("WSAGetOverlappedResult")
	procGetQueuedCompletionStatusEx = modkernel32.NewProc("GetQueuedCompletionStatusEx")
)

// AddrinfoExW mirrors ADDRINFOEXW, the node type of the list GetAddrInfoEx
// hands back. The list is resolver-owned memory, released as a whole with
// FreeAddrInfoEx on the head node.
type AddrinfoExW struct {
	Flags     int32
	Family    int32
	Socktype  int32
	Protocol  int32
	Addrlen   uintptr
	Canonname *uint16
	Addr      *syscall.RawSockaddrAny
	Blob      unsafe.Pointer
	Bloblen   uintptr
	Provider  *windows.GUID
	Next      *AddrinfoExW
}

// OverlappedEntry mirrors OVERLAPPED_ENTRY.
type OverlappedEntry struct {
	CompletionKey uintptr
	Overlapped    *windows.Overlapped
	Internal      uintptr
	Transferred   uint32
}

func errnoOf(e syscall.Errno) syscall.Errno {
	if e == 0 {
		return syscall.EINVAL
	}
	return e
}

// Bind associates s with a local address given in raw sockaddr form.
func Bind(s windows.Handle, name *syscall.RawSockaddrAny, nameLen int32) syscall.Errno {
	r1, _, e1 := syscall.SyscallN(procbind.Addr(), uintptr(s), uintptr(unsafe.Pointer(name)), uintptr(nameLen))
	if r1 != 0 {
		return errnoOf(e1)
	}
	return 0
}

// LoadExtension resolves a winsock extension function pointer for s.
func LoadExtension(s windows.Handle, guid *windows.GUID) (uintptr, syscall.Errno) {
	var fn uintptr
	var returned uint32
	err := windows.WSAIoctl(
		s,
		windows.SIO_GET_EXTENSION_FUNCTION_POINTER,
		(*byte)(unsafe.Pointer(guid)), uint32(unsafe.Sizeof(*guid)),
		(*byte)(unsafe.Pointer(&fn)), uint32(unsafe.Sizeof(fn)),
		&returned,
		nil, 0,
	)
	if err != nil {
		if errno, ok := err.(syscall.Errno); ok {
			return 0, errnoOf(errno)
		}
		return 0, syscall.EINVAL
	}
	return fn, 0
}

// ConnectEx issues an overlapped connect, optionally handing the stack an
// initial payload, through the pointer LoadExtension resolved for
// WSAIDConnectEx. The socket must be bound first.
func ConnectEx(fn uintptr, s windows.Handle, name *syscall.RawSockaddrAny, nameLen int32, payload *byte, payloadLen uint32, sent *uint32, overlapped *syscall.Overlapped) syscall.Errno {
	r1, _, e1 := syscall.SyscallN(
		fn,
		uintptr(s),
		uintptr(unsafe.Pointer(name)),
		uintptr(nameLen),
		uintptr(unsafe.Pointer(payload)),
		uintptr(payloadLen),
		uintptr(unsafe.Pointer(sent)),
		uintptr(unsafe.Pointer(overlapped)),
	)
	if r1 == 0 {
		return errnoOf(e1)
	}
	return 0
}

// AcceptEx accepts a connection on ln into conn, optionally receiving the
// connection's first bytes. buf must provide recvLen data bytes plus
// localLen+remoteLen of kernel-written address space at its tail.
func AcceptEx(fn uintptr, ln, conn windows.Handle, buf *byte, recvLen, localLen, remoteLen uint32, received *uint32, overlapped *syscall.Overlapped) syscall.Errno {
	r1, _, e1 := syscall.SyscallN(
		fn,
		uintptr(ln),
		uintptr(conn),
		uintptr(unsafe.Pointer(buf)),
		uintptr(recvLen),
		uintptr(localLen),
		uintptr(remoteLen),
		uintptr(unsafe.Pointer(received)),
		uintptr(unsafe.Pointer(overlapped)),
	)
	if r1 == 0 {
		return errnoOf(e1)
	}
	return 0
}

// DisconnectEx tears the connection down after pending sends settle.
func DisconnectEx(fn uintptr, s windows.Handle, overlapped *syscall.Overlapped, flags uint32, reserved uint32) syscall.Errno {
	r1, _, e1 := syscall.SyscallN(
		fn,
		uintptr(s),
		uintptr(unsafe.Pointer(overlapped)),
		uintptr(flags),
		uintptr(reserved),
	)
	if r1 == 0 {
		return errnoOf(e1)
	}
	return 0
}

// WSAGetOverlappedResult reports the final status of an overlapped socket
// operation. With wait false the caller must already hold the completion
// event for it.
func WSAGetOverlappedResult(s windows.Handle, overlapped *syscall.Overlapped, transferred *uint32, wait bool, flags *uint32) syscall.Errno {
	waitArg := uintptr(0)
	if wait {
		waitArg = 1
	}
	r1, _, e1 := syscall.SyscallN(
		procWSAGetOverlappedResult.Addr(),
		uintptr(s),
		uintptr(unsafe.Pointer(overlapped)),
		uintptr(unsafe.Pointer(transferred)),
		waitArg,
		uintptr(unsafe.Pointer(flags)),
	)
	if r1 == 0 {
		return errnoOf(e1)
	}
	return 0
}

// GetAddrInfoEx issues a name resolution. With a completion routine it
// reports WSA_IO_PENDING and delivers through the routine; the error comes
// back as the return value, not through WSAGetLastError.
func GetAddrInfoEx(name, service *uint16, namespace uint32, nsID *windows.GUID, hints *AddrinfoExW, result **AddrinfoExW, timeout *syscall.Timeval, overlapped *syscall.Overlapped, completion uintptr, handle *windows.Handle) syscall.Errno {
	r1, _, _ := syscall.SyscallN(
		procGetAddrInfoExW.Addr(),
		uintptr(unsafe.Pointer(name)),
		uintptr(unsafe.Pointer(service)),
		uintptr(namespace),
		uintptr(unsafe.Pointer(nsID)),
		uintptr(unsafe.Pointer(hints)),
		uintptr(unsafe.Pointer(result)),
		uintptr(unsafe.Pointer(timeout)),
		uintptr(unsafe.Pointer(overlapped)),
		completion,
		uintptr(unsafe.Pointer(handle)),
	)
	return syscall.Errno(r1)
}

// FreeAddrInfoEx releases a list GetAddrInfoEx allocated.
func FreeAddrInfoEx(ai *AddrinfoExW) {
	_, _, _ = syscall.SyscallN(procFreeAddrInfoExW.Addr(), uintptr(unsafe.Pointer(ai)))
}

// GetQueuedCompletionStatusEx dequeues up to len(entries) ready completions
// in one wait, writing how many were removed.
func GetQueuedCompletionStatusEx(cp windows.Handle, entries []OverlappedEntry, removed *uint32, timeout uint32, alertable bool) syscall.Errno {
	alertArg := uintptr(0)
	if alertable {
		alertArg = 1
	}
	r1, _, e1 := syscall.SyscallN(
		procGetQueuedCompletionStatusEx.Addr(),
		uintptr(cp),
		uintptr(unsafe.Pointer(&entries[0])),
		uintptr(len(entries)),
		uintptr(unsafe.Pointer(removed)),
		uintptr(timeout),
		alertArg,
	)
	if r1 == 0 {
		return errnoOf(e1)
	}
	return 0
}
