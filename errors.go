package driftmq

import "errors"

// Configuration errors. Returned by AddCategory, AddCommand, AddCommandAlias,
// and Start; never affect an already-running Proxy.
var (
	ErrAlreadyStarted    = errors.New("driftmq: proxy already started")
	ErrSealed            = errors.New("driftmq: configuration is sealed after start")
	ErrDuplicateCategory = errors.New("driftmq: category already registered")
	ErrUnknownCategory   = errors.New("driftmq: unknown category")
	ErrDuplicateCommand  = errors.New("driftmq: command already registered")
	ErrInvalidName       = errors.New("driftmq: invalid category or command name")
)

// Runtime errors.
var (
	ErrNotStarted  = errors.New("driftmq: proxy not started")
	ErrClosed      = errors.New("driftmq: proxy is closing or closed")
	ErrNoRoute     = errors.New("driftmq: no route to peer")
	ErrAuthDenied  = errors.New("driftmq: connection denied by allow callback")
	ErrQueueFull   = errors.New("driftmq: category pending queue is full")
	ErrBindFailed  = errors.New("driftmq: failed to bind listener")
	ErrHandshake   = errors.New("driftmq: handshake timed out")
	ErrUnknownVerb = errors.New("driftmq: unknown control verb")
)
