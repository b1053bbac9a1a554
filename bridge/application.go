// Package bridge translates between wire-level HTTP exchanges and the
// canonical request/response objects a hosted application consumes.
//
// The hosted application implements a single entry point, Application.
// Everything it needs about the inbound request travels in an explicit,
// read-only *Request built fresh for every call.
package bridge

import (
	"context"
	"errors"
)

var (
	// ErrNilResponse is reported when an application returns neither a
	// response nor an error.
	ErrNilResponse = errors.New("application returned a nil response")

	// ErrResponseEnded is returned by a ResponseWriter that already wrote
	// its body.
	ErrResponseEnded = errors.New("response already ended")
)

// Application is the single contract a hosted application implements.
type Application interface {
	Dispatch(ctx context.Context, req *Request) (*Response, error)
}

// ApplicationFunc adapts a plain function to Application.
type ApplicationFunc func(ctx context.Context, req *Request) (*Response, error)

// Dispatch calls f(ctx, req).
func (f ApplicationFunc) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
