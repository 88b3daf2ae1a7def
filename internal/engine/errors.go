package engine

import (
	"fmt"

	"github.com/sssxyd/face-liveness-detector/internal/models"
)

// ErrorKind classifies an engine failure per spec §7's error taxonomy.
type ErrorKind string

const (
	// KindInit covers an external dependency (ImageOps, FaceAnalyzer)
	// failing to load or returning a malformed instance.
	KindInit ErrorKind = "init"
	// KindAcquisition covers camera/stream access failures and
	// video_load_timeout expiry.
	KindAcquisition ErrorKind = "acquisition"
	// KindPrimitive covers an Image kernel failure. Callers recover these
	// locally (neutral score, debug warning) — this kind is never returned
	// from StartDetection itself, only logged.
	KindPrimitive ErrorKind = "primitive"
	// KindFraud covers a classified fraud signal: suspected non-live real
	// score, high-confidence screen capture, or photo-attack detection.
	KindFraud ErrorKind = "fraud"
	// KindInternalInvariant covers a required sub-detector being absent or
	// mis-wired — a programmer error, not a runtime condition.
	KindInternalInvariant ErrorKind = "internal_invariant"
)

// Error is the engine's structured error type. Every user-visible failure
// carries a code from the published InfoCode set and a human-readable
// message (spec §7).
type Error struct {
	Kind    ErrorKind
	Code    models.InfoCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine: %s (%s): %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("engine: %s (%s): %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func initError(code models.InfoCode, message string, cause error) *Error {
	return &Error{Kind: KindInit, Code: code, Message: message, Err: cause}
}

func acquisitionError(code models.InfoCode, message string, cause error) *Error {
	return &Error{Kind: KindAcquisition, Code: code, Message: message, Err: cause}
}

func internalInvariantError(message string) *Error {
	return &Error{Kind: KindInternalInvariant, Code: models.CodeInternalError, Message: message}
}
