package domain

import "errors"

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionFull       = errors.New("session is full")
	ErrPeerNotFound      = errors.New("peer not found")
	ErrTransportNotFound = errors.New("transport not found")
	ErrProducerNotFound  = errors.New("producer not found")
	ErrNoInstructor      = errors.New("session has no instructor")
	ErrAlreadyRequested  = errors.New("speak request already pending")
	ErrSourceRequired    = errors.New("producer source is required")
	ErrNotPermitted      = errors.New("transmit permission not granted")
	ErrForbidden         = errors.New("operation requires instructor role")
	ErrIncompatible      = errors.New("consumer capabilities incompatible with producer")
	ErrRecorderRejected  = errors.New("recording service rejected the request")
	ErrEmptyWorkerPool   = errors.New("worker pool is empty")
)
