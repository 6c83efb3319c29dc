package api

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a TransportError.
type ErrorKind string

const (
	KindNetwork ErrorKind = "network"
	KindStatus  ErrorKind = "status"
	KindDecode  ErrorKind = "decode"
)

// TransportError is returned for every failed fetch or command: a network
// failure, a non-2xx status, or a payload that could not be decoded.
type TransportError struct {
	Resource   Resource
	Method     string
	Kind       ErrorKind
	StatusCode int
	Err        error
	Body       string
}

func (e *TransportError) Error() string {
	switch e.Kind {
	case KindStatus:
		if e.Body != "" {
			return fmt.Sprintf("%s %s: http %d: %s", e.Method, e.Resource, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("%s %s: http %d", e.Method, e.Resource, e.StatusCode)
	case KindDecode:
		return fmt.Sprintf("%s %s: decode: %v", e.Method, e.Resource, e.Err)
	default:
		return fmt.Sprintf("%s %s: %v", e.Method, e.Resource, e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AsTransportError extracts a *TransportError from err's chain.
func AsTransportError(err error) (*TransportError, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
