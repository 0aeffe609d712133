package composer

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptyMessage     = errors.New("add a message")
	ErrUploadInProgress = errors.New("an upload is already in progress")
	ErrInvalidUpload    = errors.New("invalid upload")
	ErrClosed           = errors.New("composer closed")
)

// NetworkError wraps a failure reported by the channel store or the upload
// backend.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindUploadInProgress ErrorKind = "upload_in_progress"
	KindNetwork          ErrorKind = "network"
)

// Category groups errors by the action that clears them: a successful send
// clears message errors, a new upload attempt clears upload errors.
type Category string

const (
	CategoryMessage Category = "message"
	CategoryUpload  Category = "upload"
)

type ErrorRecord struct {
	Kind     ErrorKind
	Category Category
	Err      error
	At       time.Time
}

func (r ErrorRecord) Error() string {
	return r.Err.Error()
}

func kindOf(err error) ErrorKind {
	var netErr *NetworkError
	switch {
	case errors.As(err, &netErr):
		return KindNetwork
	case errors.Is(err, ErrUploadInProgress):
		return KindUploadInProgress
	default:
		return KindValidation
	}
}
