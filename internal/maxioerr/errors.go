// Package maxioerr defines the error taxonomy shared by every core
// subsystem: erasure engine, dsync, grid, healing, replication and the
// scanner all return errors built from this package so that callers can
// dispatch on Code with errors.As instead of matching on strings.
package maxioerr

import "fmt"

// Code is a coarse error classification. It is deliberately small: the core
// only needs enough kinds to decide an HTTP status one layer up (spec.md §7);
// it is not an exhaustive S3 error catalogue.
type Code int

const (
	CodeUnknown Code = iota
	CodeBucketNotFound
	CodeBucketAlreadyExists
	CodeObjectNotFound
	CodeInvalidBucketName
	CodeInvalidObjectName
	CodeInvalidArgument
	CodeEntityTooLarge
	CodeAccessDenied
	CodeSignatureDoesNotMatch
	CodeNotImplemented
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeBucketNotFound:
		return "BucketNotFound"
	case CodeBucketAlreadyExists:
		return "BucketAlreadyExists"
	case CodeObjectNotFound:
		return "ObjectNotFound"
	case CodeInvalidBucketName:
		return "InvalidBucketName"
	case CodeInvalidObjectName:
		return "InvalidObjectName"
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeEntityTooLarge:
		return "EntityTooLarge"
	case CodeAccessDenied:
		return "AccessDenied"
	case CodeSignatureDoesNotMatch:
		return "SignatureDoesNotMatch"
	case CodeNotImplemented:
		return "NotImplemented"
	case CodeInternal:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned across package boundaries in
// this module. Cause, when set, is reachable through Unwrap so callers can
// still errors.Is/errors.As into a lower-level disk or codec error.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no wrapped cause.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error carrying cause as its Unwrap target.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is lets errors.Is match two *Error values purely on Code, the way callers
// actually want to compare them (message text is informational only).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}
