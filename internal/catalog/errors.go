package catalog

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is matched by a RemoteError carrying HTTP 404.
var ErrNotFound = errors.New("catalog: not found")

// RemoteError is returned when the API answers with a status other than 200 or 201.
type RemoteError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: API request failed with status code %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Is reports whether target is ErrNotFound and the status was 404.
func (e *RemoteError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// DecodeError is returned when a response body is not valid JSON or does not
// fit the expected shape.
type DecodeError struct {
	Endpoint string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: decode response: %v", e.Endpoint, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// TransportError is returned when the request could not be sent or its
// response could not be read.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
