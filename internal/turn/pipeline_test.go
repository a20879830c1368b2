package turn

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/voicebridge/proxy/internal/config"
	"github.com/voicebridge/proxy/internal/convlog"
	"github.com/voicebridge/proxy/internal/core"
	"github.com/voicebridge/proxy/internal/dedup"
	"github.com/voicebridge/proxy/internal/metrics"
	"github.com/voicebridge/proxy/internal/phrase"
	"github.com/voicebridge/proxy/internal/session"
	"github.com/voicebridge/proxy/internal/upstream"
)

func testPipeline(t *testing.T, upstreamURL string) (*Pipeline, *convlog.Log) {
	t.Helper()
	cfg := config.Config{
		UpstreamURL:         upstreamURL,
		UpstreamAgent:       "main",
		ModelPrefix:         "agent",
		VoiceHint:           " [voice]",
		DebounceInterval:    10 * time.Millisecond,
		KeepAliveInterval:   time.Hour,
		KeepAliveStaleAfter: time.Hour,
		MinBufferSpeech:     5 * time.Millisecond,
		DedupWindow:         time.Minute,
		DedupEvictAfter:     time.Hour,
		MaxConversations:    50,
	}
	coord := session.New()
	store := dedup.NewMemoryStore()
	catalog := phrase.New()
	client := upstream.New(cfg)
	log := convlog.New(50)
	m := metrics.Noop()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := New(cfg, coord, store, catalog, client, log, m, logger)
	return p, log
}

func TestHandle_Silence_NoUpstreamCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	p, _ := testPipeline(t, srv.URL)

	body := strings.NewReader(`{"user":"u1","messages":[{"role":"user","content":"..."}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()

	p.Handle(rec, req)

	if called {
		t.Error("silence should never reach the upstream")
	}
	respBody := rec.Body.String()
	if !strings.Contains(respBody, `"content":" "`) {
		t.Errorf("expected a single-space chunk, got %q", respBody)
	}
	if !strings.HasSuffix(strings.TrimRight(respBody, "\n"), "data: [DONE]") {
		t.Errorf("expected terminal DONE, got %q", respBody)
	}
}

func TestHandle_BufferFirst_ThenLLMContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Ten past three.\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p, log := testPipeline(t, srv.URL)

	body := strings.NewReader(`{"user":"u1","messages":[{"role":"user","content":"check my inbox please"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()

	p.Handle(rec, req)

	respBody := rec.Body.String()
	frames := strings.Split(strings.TrimRight(respBody, "\n"), "\n\n")
	if len(frames) < 2 {
		t.Fatalf("expected at least 2 frames, got %d: %q", len(frames), respBody)
	}
	if !strings.Contains(frames[0], "Checking your inbox") && !strings.Contains(frames[0], "Pulling up your emails") && !strings.Contains(frames[0], "Let me look at your mail") {
		t.Errorf("first frame should be an email buffer phrase, got %q", frames[0])
	}
	if frames[len(frames)-1] != "data: [DONE]" {
		t.Errorf("last frame = %q, want terminal DONE", frames[len(frames)-1])
	}
	foundContent := false
	for _, f := range frames {
		if strings.Contains(f, "Ten past three.") {
			foundContent = true
		}
	}
	if !foundContent {
		t.Errorf("expected LLM content to be forwarded, got %q", respBody)
	}

	snap := log.Snapshot()
	sl, ok := snap["u1"]
	if !ok || len(sl.Messages) != 2 {
		t.Errorf("expected user+assistant log entries, got %+v", sl)
	}
}

func TestHandle_InvalidBody_ReturnsCanonicalErrorEnvelope(t *testing.T) {
	p, _ := testPipeline(t, "http://unused.invalid")

	body := strings.NewReader(`not json`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()

	p.Handle(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	respBody := rec.Body.String()
	if !strings.Contains(respBody, `"type":"invalid_request_error"`) {
		t.Errorf("expected canonical error envelope, got %q", respBody)
	}
	if strings.Contains(respBody, "invalid request body\n") {
		t.Errorf("expected JSON envelope, not a raw http.Error line, got %q", respBody)
	}
}

func TestHandle_UpstreamNonOKStatus_SendsApologeticChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p, _ := testPipeline(t, srv.URL)

	body := strings.NewReader(`{"user":"u1","messages":[{"role":"user","content":"check my inbox please"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()

	p.Handle(rec, req)

	respBody := rec.Body.String()
	if !strings.Contains(respBody, apologeticChunk) {
		t.Errorf("expected apologetic chunk on upstream HTTP error, got %q", respBody)
	}
	if !strings.HasSuffix(strings.TrimRight(respBody, "\n"), "data: [DONE]") {
		t.Errorf("expected terminal DONE, got %q", respBody)
	}
}

func TestClassifyUpstreamErr_DistinguishesHTTPFromStreamErrors(t *testing.T) {
	httpErr := classifyUpstreamErr(&upstream.HTTPError{StatusCode: http.StatusBadGateway})
	if httpErr.Type != core.ErrUpstreamHTTPError {
		t.Errorf("type = %q, want %q", httpErr.Type, core.ErrUpstreamHTTPError)
	}

	streamErr := classifyUpstreamErr(fmt.Errorf("decode: unexpected EOF"))
	if streamErr.Type != core.ErrUpstreamStreamError {
		t.Errorf("type = %q, want %q", streamErr.Type, core.ErrUpstreamStreamError)
	}
}

func TestHandle_DedupHit_NoSecondUpstreamCall(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Ten past three.\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p, _ := testPipeline(t, srv.URL)
	reqBody := `{"user":"u1","messages":[{"role":"user","content":"what is the time"}]}`

	first := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(reqBody))
	p.Handle(httptest.NewRecorder(), first)

	second := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(reqBody))
	rec := httptest.NewRecorder()
	p.Handle(rec, second)

	if calls != 1 {
		t.Errorf("expected exactly 1 upstream call, got %d", calls)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Ten past three.") {
		t.Errorf("expected cached content in second response, got %q", body)
	}
}
