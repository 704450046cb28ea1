package extraction

import (
	"errors"
	"fmt"
)

var (
	// ErrNoFileSelected is returned when submit is called without a file
	ErrNoFileSelected = errors.New("no file selected")

	// ErrTimeout is returned when the server does not answer within the request timeout
	ErrTimeout = errors.New("processing timeout")

	// ErrBusy is returned when a submit is already in progress
	ErrBusy = errors.New("extraction already in progress")
)

// defaultServerMessage is used when the server gives no error text
const defaultServerMessage = "unknown error"

// ServerError is a failure reported by the server, either through the
// error field or a non-success status
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("server error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("server error: %s", e.Message)
}

// NetworkError is a transport failure or an undecodable response
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
