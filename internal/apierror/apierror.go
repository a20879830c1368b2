// Package apierror translates internal errors into the canonical envelope
// that crosses the wire to the voice platform — or, in the turn pipeline's
// case, into an apologetic SSE chunk. No Go error is ever rendered raw.
package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/voicebridge/proxy/internal/core"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

// FromError maps any error into a canonical *core.Error and the HTTP status
// it would warrant if surfaced directly. The turn pipeline mostly cares
// about the Type field; the status is used by the HTTP surface's own
// non-streaming error paths (body decode failures, etc).
func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{Type: core.ErrUpstreamStreamError, Message: "upstream timeout", RequestID: requestID}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{Type: core.ErrCancelled, Message: "cancelled", RequestID: requestID}, http.StatusRequestTimeout
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, statusFromType(coreErr.Type)
	}

	return &core.Error{Type: core.ErrInternal, Message: "internal error", RequestID: requestID}, http.StatusInternalServerError
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrUpstreamHTTPError, core.ErrUpstreamStreamError:
		return http.StatusBadGateway
	case core.ErrCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
