package server

// EventKind is the readiness edge a Reactor delivers for a socket
// (spec.md section 4.1).
type EventKind int

const (
	Readable EventKind = iota
	Writable
	HangUp
)

// Reactor is the Readiness Reactor capability: register/unregister
// sockets, toggle WRITE interest, and run an event loop delivering
// readiness edges. Implementations are expected to prefer edge-triggered
// semantics; when level-triggered, the Orchestrator is responsible for
// draining until EAGAIN (spec.md section 4.1).
//
// add enables READ interest only; WRITE interest defaults to off.
// remove must be idempotent for handles already closed by the peer.
type Reactor interface {
	Add(handle int) error
	Remove(handle int) error
	SetWriteInterest(handle int, on bool) error
	Run(onListener func(), onConn func(handle int, kind EventKind)) error
	Close() error
}

// ErrorCollector exposes a channel of reactor initialization errors.
// Per-fd errors never appear on it: only *initialization* errors are
// fatal, and per-fd errors are delivered as HangUp instead (spec.md
// section 4.1). Both built-in Reactors implement it; neither sends on
// the channel.
type ErrorCollector interface {
	InitErrors() <-chan error
}
