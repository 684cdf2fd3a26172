package model

import "errors"

// ErrorKind classifies failures per spec §7 so callers can branch on
// category without string-matching. Each sentinel is wrapped with
// fmt.Errorf("...: %w", ErrX) at the call site, the same way the teacher
// wraps errors throughout internal/exchange and internal/store.
var (
	// ErrIOError covers disk full, permission, and EOF failures from WAL,
	// SSTable, or checkpoint I/O.
	ErrIOError = errors.New("io error")

	// ErrCorruptFile covers bad magic, CRC mismatch, and truncated trailers
	// from WAL replay or SSTable open.
	ErrCorruptFile = errors.New("corrupt file")

	// ErrNotFound is returned by point lookups; callers should treat it as
	// an empty result, not a hard failure.
	ErrNotFound = errors.New("not found")

	// ErrOverloaded covers full queues and subscriber lag beyond threshold.
	ErrOverloaded = errors.New("overloaded")

	// ErrProtocol covers malformed client frames and unknown aids.
	ErrProtocol = errors.New("protocol error")

	// ErrAuth covers authentication/authorization failures.
	ErrAuth = errors.New("auth error")

	// ErrPermission covers permission failures distinct from auth.
	ErrPermission = errors.New("permission error")
)
