package rcp

import "errors"

var (
	// ErrClosedForSend is returned by Session.Send once the local side has
	// sent (or is sending) its FIN, or once the session has failed.
	ErrClosedForSend = errors.New("rcp: session closed for send")

	// ErrSessionFailed names a session torn down by inactivity timeout or
	// router shutdown rather than a clean bilateral close. No function in
	// this package returns it: Recv/Read, per spec.md §7, resolve
	// end-of-stream and failure identically by returning an empty slice.
	ErrSessionFailed = errors.New("rcp: session failed")

	// ErrBindFailed wraps a UDP bind failure from NewRouter.
	ErrBindFailed = errors.New("rcp: failed to bind UDP socket")
)
