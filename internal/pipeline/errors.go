package pipeline

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Code classifies pipeline failures for callers and metrics.
type Code string

const (
	CodeSourceUnavailable Code = "SOURCE_UNAVAILABLE"
	CodeDetectionFailure  Code = "DETECTION_FAILURE"
	CodeNoGalleryEntry    Code = "NO_GALLERY_ENTRY"
	CodeStorageFailure    Code = "STORAGE_FAILURE"
	CodeRedactionFailure  Code = "REDACTION_FAILURE"
)

// Sentinels for errors.Is. Any *Error with the same code matches.
var (
	ErrSourceUnavailable = &Error{Code: CodeSourceUnavailable}
	ErrDetectionFailure  = &Error{Code: CodeDetectionFailure}
	ErrNoGalleryEntry    = &Error{Code: CodeNoGalleryEntry}
	ErrStorageFailure    = &Error{Code: CodeStorageFailure}
	ErrRedactionFailure  = &Error{Code: CodeRedactionFailure}
)

var (
	// ErrForbidden is returned when a non-owner manages a photo.
	ErrForbidden = errors.New("only the uploader may manage this photo")
	// ErrNotIngested is returned when regenerating a photo whose faces were never detected.
	ErrNotIngested = errors.New("photo not ingested")
)

// Error is a classified failure for one photo.
type Error struct {
	Code    Code
	PhotoID uuid.UUID
	Op      string
	Err     error
}

func newError(code Code, photoID uuid.UUID, op string, err error) *Error {
	return &Error{Code: code, PhotoID: photoID, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	if e.PhotoID == uuid.Nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s photo %s: %v", e.Code, e.Op, e.PhotoID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
