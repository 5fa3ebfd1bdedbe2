package vnk

import "errors"

// ErrAddressFamilyUnsupported is returned by Bind/Connect for anything
// other than an IPv4 address. It is fatal to the calling engine.
var ErrAddressFamilyUnsupported = errors.New("vnk: only AF_INET is supported")

// ErrDisconnected is returned by Send when src has no live peer fd.
// Callers surface this as an EPIPE-equivalent write error.
var ErrDisconnected = errors.New("vnk: not connected")

// ErrNoSuchNode is returned by Connect when no node is bound at addr.
var ErrNoSuchNode = errors.New("vnk: no node bound at address")

// ErrLockPoisoned names the fatal poisoned-lock condition. No Kernel
// method returns it: sync.Mutex has no poisoned state, and a panic
// under the lock crashes the process instead.
var ErrLockPoisoned = errors.New("vnk: lock poisoned")

// ErrClosed names the kernel-closed condition. No Kernel method returns
// it: EpollWait reports a closed kernel, or a done context, as ok ==
// false.
var ErrClosed = errors.New("vnk: kernel closed")
