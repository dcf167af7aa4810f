package router

import (
	"errors"
	"fmt"
)

// ErrBindConflict reports an endpoint already bound by this process or held
// by another one.
var ErrBindConflict = errors.New("endpoint already bound")

// ErrClosed reports a route on a closed channel.
var ErrClosed = errors.New("channel closed")

// BindError wraps a failure to bind an endpoint.
type BindError struct {
	Endpoint string
	Err      error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("binding %s: %v", e.Endpoint, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// TransportError wraps a send-time failure. It is never retried.
type TransportError struct {
	Tag string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("routing tag %q: %v", e.Tag, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
