package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"go-appbridge/bridge"
)

// PanicError is a recovered panic from the application.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("application panic: %v", e.Value)
}

// safeDispatch runs the application and turns panics and nil responses
// into errors.
func safeDispatch(ctx context.Context, app bridge.Application, req *bridge.Request) (resp *bridge.Response, err error) {
	defer func() {
		if v := recover(); v != nil {
			resp = nil
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()

	resp, err = app.Dispatch(ctx, req)
	if err == nil && resp == nil {
		err = bridge.ErrNilResponse
	}
	return resp, err
}

// errorResponse is the canonical response for a failed dispatch. Errors
// that carry a 5xx status (worker timeouts, dead workers) keep it;
// everything else is a plain 500. No error detail reaches the client.
func errorResponse(err error) *bridge.Response {
	var hs interface{ HTTPStatus() int }
	if errors.As(err, &hs) {
		if s := hs.HTTPStatus(); s > http.StatusInternalServerError && s <= 599 {
			resp := bridge.NewResponse(s, []byte(http.StatusText(s)))
			resp.Headers.Set("Content-Type", "text/plain; charset=utf-8")
			return resp
		}
	}
	return bridge.InternalServerError()
}

// failureKind labels dispatch errors for metrics.
func failureKind(err error) string {
	var pe *PanicError
	switch {
	case errors.As(err, &pe):
		return "panic"
	case errors.Is(err, bridge.ErrNilResponse):
		return "nil_response"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
