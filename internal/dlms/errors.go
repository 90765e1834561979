package dlms

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match with errors.Is; concrete failures wrap these
// with fmt.Errorf("...: %w", ...).
var (
	// ErrFormat reports malformed or truncated binary/XML input.
	ErrFormat = errors.New("dlms: format error")
	// ErrInvalidIndex reports an attribute or method index outside the declared range.
	ErrInvalidIndex = errors.New("dlms: invalid index")
	// ErrReadWriteDenied reports a valid index whose operation is not permitted.
	ErrReadWriteDenied = errors.New("dlms: read/write denied")
	// ErrTypeMismatch reports a value whose shape does not match the declared type.
	ErrTypeMismatch = errors.New("dlms: type mismatch")
	// ErrUnknownType reports an unsupported data type tag or name.
	ErrUnknownType = errors.New("dlms: unknown data type")
)

// AccessResult is the protocol-level data access result code.
type AccessResult uint8

const (
	ResultSuccess           AccessResult = 0
	ResultHardwareFault     AccessResult = 1
	ResultTemporaryFailure  AccessResult = 2
	ResultReadWriteDenied   AccessResult = 3
	ResultObjectUndefined   AccessResult = 4
	ResultObjectUnavailable AccessResult = 11
	ResultTypeUnmatched     AccessResult = 12
	ResultOtherReason       AccessResult = 250
)

func (r AccessResult) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultHardwareFault:
		return "hardware-fault"
	case ResultTemporaryFailure:
		return "temporary-failure"
	case ResultReadWriteDenied:
		return "read-write-denied"
	case ResultObjectUndefined:
		return "object-undefined"
	case ResultObjectUnavailable:
		return "object-unavailable"
	case ResultTypeUnmatched:
		return "type-unmatched"
	case ResultOtherReason:
		return "other-reason"
	}
	return fmt.Sprintf("result(%d)", uint8(r))
}

// ResultOf maps an error returned by the codec or an object onto the access
// result the transport reports for that attribute.
func ResultOf(err error) AccessResult {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, ErrReadWriteDenied), errors.Is(err, ErrInvalidIndex):
		return ResultReadWriteDenied
	case errors.Is(err, ErrTypeMismatch):
		return ResultTypeUnmatched
	default:
		return ResultOtherReason
	}
}
