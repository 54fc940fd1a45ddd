// Package roomerr implements the realtime transport's error envelope
// (spec §6) so every error the lifecycle manager produces or carries
// can be inspected by code, not just logged.
package roomerr

import "fmt"

// Code enumerates the manager-raised error codes from spec §6 plus the
// open-question fallback for a state change observed without a reason.
type Code int

const (
	CodeRoomIsReleasing Code = 102_001
	CodeRoomIsReleased  Code = 102_002
	CodeRoomInFailed    Code = 102_003

	CodeAttachmentFailed          Code = 102_101
	CodeDetachmentFailed          Code = 102_102
	CodePresenceRequiresAttach    Code = 102_201
	CodeInvalidStateForPresenceOp Code = 102_202

	CodeInconsistentRoomOptions Code = 102_301

	CodeUnknownError Code = 102_999
)

// RoomError mirrors the wire envelope {code, statusCode, message, cause}.
type RoomError struct {
	Code       Code
	StatusCode int
	Message    string
	Cause      error
}

func (e *RoomError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (code %d): %v", e.Message, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

func (e *RoomError) Unwrap() error { return e.Cause }

func newErr(code Code, status int, msg string, cause error) *RoomError {
	return &RoomError{Code: code, StatusCode: status, Message: msg, Cause: cause}
}

func ErrRoomIsReleasing() *RoomError {
	return newErr(CodeRoomIsReleasing, 400, "the room is in the process of releasing", nil)
}

func ErrRoomIsReleased() *RoomError {
	return newErr(CodeRoomIsReleased, 400, "the room has been released", nil)
}

func ErrRoomInFailedState() *RoomError {
	return newErr(CodeRoomInFailed, 400, "the room is in a failed state", nil)
}

func ErrAttachmentFailed(feature string, cause error) *RoomError {
	return newErr(CodeAttachmentFailed, 500, fmt.Sprintf("failed to attach %s contributor", feature), cause)
}

func ErrDetachmentFailed(feature string, cause error) *RoomError {
	return newErr(CodeDetachmentFailed, 500, fmt.Sprintf("failed to detach %s contributor", feature), cause)
}

func ErrPresenceOperationRequiresRoomAttach(feature string) *RoomError {
	return newErr(CodePresenceRequiresAttach, 400, fmt.Sprintf("%s presence operation requires the room to be attached", feature), nil)
}

func ErrRoomTransitionedToInvalidStateForPresenceOperation(cause error) *RoomError {
	return newErr(CodeInvalidStateForPresenceOp, 400, "room transitioned to a state invalid for presence operations", cause)
}

func ErrInconsistentRoomOptions(requested, existing string) *RoomError {
	return newErr(CodeInconsistentRoomOptions, 400,
		fmt.Sprintf("room already exists with different options: requested=%s existing=%s", requested, existing), nil)
}

// ErrUnknown is fabricated when a failed/suspended state-change record
// arrives without a reason (spec §9, open question). Logged at warn
// level by the caller before being wrapped into a room status cause.
func ErrUnknown() *RoomError {
	return newErr(CodeUnknownError, 500, "contributor reported an error state without a reason", nil)
}

// As reports whether err is (or wraps) a *RoomError with the given code.
func As(err error, code Code) bool {
	var re *RoomError
	for err != nil {
		if e, ok := err.(*RoomError); ok {
			re = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return re != nil && re.Code == code
}
