package server

import (
	"fmt"

	"github.com/pkg/errors"
)

// CloseReason is the status code family from RFC 6455 section 11.7 that
// this core can produce on its own initiative (as opposed to echoing a
// client-supplied code).
type CloseReason uint16

const (
	CloseNormal            CloseReason = 1000
	CloseGoingAway         CloseReason = 1001
	CloseProtocolError     CloseReason = 1002
	CloseUnsupportedData   CloseReason = 1003
	CloseNoStatus          CloseReason = 1005
	CloseAbnormal          CloseReason = 1006
	CloseInvalidPayload    CloseReason = 1007
	ClosePolicyViolation   CloseReason = 1008
	CloseMessageTooBig     CloseReason = 1009
	CloseExtensionFailure  CloseReason = 1010
	CloseInternalServerErr CloseReason = 1011
)

// reasonEcho lists the status codes the core echoes verbatim when the
// peer's CLOSE frame names one of them (spec.md section 4.6). Anything
// else maps to an empty (no-status) close reply.
var reasonEcho = map[uint16]bool{
	1000: true, 1002: true, 1003: true, 1007: true,
	1008: true, 1009: true, 1010: true, 1011: true,
}

// mapCloseStatus implements the status-code mapping table of spec.md
// section 4.6: 1001 maps to 1000, echoable codes pass through, everything
// else becomes a no-status close.
func mapCloseStatus(status uint16) (uint16, bool) {
	if status == 1001 {
		return uint16(CloseNormal), true
	}
	if reasonEcho[status] {
		return status, true
	}
	return 0, false
}

// wsError is the compact error value decoder/assembler/encoder return to
// the Orchestrator (spec.md section 7). It always carries the close
// status that should be sent to the peer (if any) alongside an optional
// wrapped cause for logging.
type wsError struct {
	Reason  CloseReason
	NoFrame bool // true for I/O errors: close without sending a close frame
	cause   error
}

func (e *wsError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("close %d: %v", e.Reason, e.cause)
	}
	return fmt.Sprintf("close %d", e.Reason)
}

func (e *wsError) Unwrap() error { return e.cause }

func protocolError(format string, args ...interface{}) *wsError {
	return &wsError{Reason: CloseProtocolError, cause: errors.Errorf(format, args...)}
}

func unsupportedData(format string, args ...interface{}) *wsError {
	return &wsError{Reason: CloseUnsupportedData, cause: errors.Errorf(format, args...)}
}

func invalidPayload(format string, args ...interface{}) *wsError {
	return &wsError{Reason: CloseInvalidPayload, cause: errors.Errorf(format, args...)}
}

func tooLarge(format string, args ...interface{}) *wsError {
	return &wsError{Reason: CloseMessageTooBig, cause: errors.Errorf(format, args...)}
}

func extensionFailure(format string, args ...interface{}) *wsError {
	return &wsError{Reason: CloseExtensionFailure, cause: errors.Errorf(format, args...)}
}

func internalError(cause error) *wsError {
	return &wsError{Reason: CloseInternalServerErr, cause: errors.WithStack(cause)}
}

func ioFailure(cause error) *wsError {
	return &wsError{Reason: CloseAbnormal, NoFrame: true, cause: errors.WithStack(cause)}
}
