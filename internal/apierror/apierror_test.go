package apierror

import (
	"context"
	"net/http"
	"testing"

	"github.com/voicebridge/proxy/internal/core"
)

func TestFromError_ContextDeadlineExceeded(t *testing.T) {
	apiErr, status := FromError(context.DeadlineExceeded, "req_1")
	if apiErr.Type != core.ErrUpstreamStreamError {
		t.Errorf("type = %q, want %q", apiErr.Type, core.ErrUpstreamStreamError)
	}
	if status != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want %d", status, http.StatusGatewayTimeout)
	}
	if apiErr.RequestID != "req_1" {
		t.Errorf("request id = %q, want req_1", apiErr.RequestID)
	}
}

func TestFromError_ContextCanceled(t *testing.T) {
	apiErr, status := FromError(context.Canceled, "req_2")
	if apiErr.Type != core.ErrCancelled {
		t.Errorf("type = %q, want %q", apiErr.Type, core.ErrCancelled)
	}
	if status != http.StatusRequestTimeout {
		t.Errorf("status = %d, want %d", status, http.StatusRequestTimeout)
	}
}

func TestFromError_CanonicalCoreError(t *testing.T) {
	apiErr, status := FromError(core.NewInvalidRequestError("bad body"), "req_3")
	if apiErr.Type != core.ErrInvalidRequest || apiErr.Message != "bad body" {
		t.Errorf("apiErr = %+v, want invalid_request_error/bad body", apiErr)
	}
	if status != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", status, http.StatusBadRequest)
	}
	if apiErr.RequestID != "req_3" {
		t.Errorf("request id = %q, want req_3", apiErr.RequestID)
	}
}

func TestFromError_UnknownErrorNeverLeaksDetail(t *testing.T) {
	apiErr, status := FromError(errUnexpected{}, "req_4")
	if apiErr.Type != core.ErrInternal {
		t.Errorf("type = %q, want %q", apiErr.Type, core.ErrInternal)
	}
	if apiErr.Message != "internal error" {
		t.Errorf("message = %q, want generic internal error, got raw detail leak", apiErr.Message)
	}
	if status != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", status, http.StatusInternalServerError)
	}
}

type errUnexpected struct{}

func (errUnexpected) Error() string { return "some raw internal detail" }
