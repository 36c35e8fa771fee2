package peermesh

import "errors"

var (
	// Store errors.
	ErrNoStore          = errors.New("peermesh: no store configured")
	ErrSnapshotNotFound = errors.New("peermesh: snapshot not found")

	// Not found errors.
	ErrWorkerNotFound = errors.New("peermesh: worker not found")
	ErrLockNotFound   = errors.New("peermesh: lock not found")

	// Conflict errors.
	ErrWorkerBusy = errors.New("peermesh: worker busy")
	ErrLockHeld   = errors.New("peermesh: lock held by another holder")

	// Message errors.
	ErrUnknownMessageType = errors.New("peermesh: unknown message type")
	ErrInvalidPayload     = errors.New("peermesh: invalid message payload")
	ErrStaleMessage       = errors.New("peermesh: message past its ttl")

	// Transport errors.
	ErrTransportClosed = errors.New("peermesh: transport closed")
)
