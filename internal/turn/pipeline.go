package turn

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/voicebridge/proxy/internal/apierror"
	"github.com/voicebridge/proxy/internal/config"
	"github.com/voicebridge/proxy/internal/convlog"
	"github.com/voicebridge/proxy/internal/core"
	"github.com/voicebridge/proxy/internal/dedup"
	"github.com/voicebridge/proxy/internal/metrics"
	"github.com/voicebridge/proxy/internal/mw"
	"github.com/voicebridge/proxy/internal/phrase"
	"github.com/voicebridge/proxy/internal/session"
	"github.com/voicebridge/proxy/internal/sse"
	"github.com/voicebridge/proxy/internal/upstream"
)

const apologeticChunk = "Sorry, I'm having trouble reaching that right now. "

// classifyUpstreamErr turns a raw upstream.Client error into the canonical
// taxonomy, distinguishing a non-2xx response from a mid-stream decode or
// transport failure.
func classifyUpstreamErr(err error) *core.Error {
	var httpErr *upstream.HTTPError
	if errors.As(err, &httpErr) {
		return core.NewUpstreamHTTPError(httpErr.Error())
	}
	return core.NewUpstreamStreamError(err.Error())
}

// Pipeline orchestrates one user turn end to end, per spec §4.F.
type Pipeline struct {
	cfg      config.Config
	coord    *session.Coordinator
	dedup    dedup.Store
	catalog  *phrase.Catalog
	upstream *upstream.Client
	convlog  *convlog.Log
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(cfg config.Config, coord *session.Coordinator, store dedup.Store, catalog *phrase.Catalog, client *upstream.Client, log *convlog.Log, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, coord: coord, dedup: store, catalog: catalog, upstream: client, convlog: log, metrics: m, logger: logger}
}

// Handle is the HTTP entry point for POST /v1/chat/completions.
func (p *Pipeline) Handle(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	logger := p.logger.With("request_id", reqID)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		p.writeError(w, core.NewInvalidRequestError("request body too large or unreadable"), reqID)
		return
	}

	req, err := ParseRequest(body)
	if err != nil {
		p.writeError(w, core.NewInvalidRequestError("invalid request body"), reqID)
		return
	}

	// Step 2: silence gate.
	if req.IsSilence() {
		p.metrics.TurnsTotal.WithLabelValues(metrics.OutcomeSilence).Inc()
		writer, err := sse.New(w)
		if err != nil {
			return
		}
		writer.SendChunk(sse.NewChunk(newChunkID(), nowUnix(), " "))
		writer.SendDone()
		return
	}

	// Step 3: log the user message regardless of what the debounce decides.
	p.convlog.Append(req.SessionID, "user", req.UserText)

	// Step 4: abort any in-flight upstream fetch for this session.
	p.coord.AbortInFlight(req.SessionID)

	// Step 5: supersede any pending debounce, then arm a fresh wait. Only
	// the survivor proceeds past this point.
	p.coord.SupersedePending(req.SessionID)
	outcome := p.coord.ArmPending(r.Context(), req.SessionID, p.cfg.DebounceInterval)
	if outcome == session.Superseded {
		p.metrics.TurnsTotal.WithLabelValues(metrics.OutcomeSuperseded).Inc()
		writer, err := sse.New(w)
		if err != nil {
			return
		}
		writer.SendChunk(sse.NewChunk(newChunkID(), nowUnix(), " "))
		writer.SendDone()
		return
	}

	// Step 6: prepare the upstream body.
	upstreamBody, err := req.UpstreamBody(p.cfg)
	if err != nil {
		logger.Error("failed to prepare upstream body", "error", err)
		writer, werr := sse.New(w)
		if werr == nil {
			writer.SendChunk(sse.NewChunk(newChunkID(), nowUnix(), apologeticChunk))
			writer.SendDone()
		}
		return
	}

	// Step 7: dedup check.
	fingerprint := req.Fingerprint()
	if cached, ok := p.dedup.Lookup(r.Context(), fingerprint, p.cfg.DedupWindow); ok {
		p.metrics.TurnsTotal.WithLabelValues(metrics.OutcomeDedupHit).Inc()
		writer, err := sse.New(w)
		if err != nil {
			return
		}
		writer.SendChunk(sse.NewChunk(newChunkID(), nowUnix(), cached))
		writer.SendDone()
		p.convlog.Append(req.SessionID, "assistant", cached)
		return
	}

	// Step 8: open the SSE response.
	writer, err := sse.New(w)
	if err != nil {
		logger.Warn("response writer does not support flushing", "error", err)
		return
	}

	p.streamTurn(r.Context(), writer, req, upstreamBody, fingerprint, logger)
}

// streamTurn runs steps 9-14: buffer phrase, keep-alive loop, upstream
// fetch, smart hold, passthrough, and the terminal cleanup paths.
func (p *Pipeline) streamTurn(parentCtx context.Context, w *sse.Writer, req *Request, upstreamBody []byte, fingerprint string, logger *slog.Logger) {
	chunkID := newChunkID()

	// Step 9: buffer phrase.
	category := p.catalog.MatchCategory(req.UserText)
	initial := p.catalog.PickInitial(category)
	if err := w.SendChunk(sse.NewChunk(chunkID, nowUnix(), initial)); err != nil {
		p.finishDownstreamClosed(req.SessionID, logger)
		return
	}

	var lastChunkMillis atomic.Int64
	lastChunkMillis.Store(nowMillis())
	bufferSentAt := time.Now()

	// Step 10: keep-alive loop, running for the entire upstream lifetime.
	keepAliveCtx, stopKeepAlive := context.WithCancel(parentCtx)
	defer stopKeepAlive()
	kaCounter := &phrase.Counter{}
	go p.runKeepAlive(keepAliveCtx, w, category, kaCounter, &lastChunkMillis)

	// Step 11: fetch upstream, registering the cancellation handle.
	ctx, cancel := upstream.ConnectTimeoutContext(parentCtx, p.cfg)
	clearInFlight := p.coord.SetInFlight(req.SessionID, cancel, req.UserText)
	defer cancel()

	stream, err := p.upstream.Stream(ctx, upstreamBody)
	if err != nil {
		stopKeepAlive()
		clearInFlight()
		p.handleUpstreamError(ctx, err, w, req, logger)
		return
	}
	defer stream.Close()

	llmContent, err := p.pump(ctx, w, stream, &lastChunkMillis, bufferSentAt)
	stopKeepAlive()
	clearInFlight()

	switch {
	case err == nil:
		p.metrics.TurnsTotal.WithLabelValues(metrics.OutcomeNormal).Inc()
		p.dedup.Store(parentCtx, fingerprint, llmContent, p.cfg.DedupEvictAfter)
		if llmContent != "" {
			p.convlog.Append(req.SessionID, "assistant", llmContent)
		}
		w.SendDone()
	case errors.Is(err, context.Canceled):
		// Step 14: cancellation path — expected, silent to the user.
		p.metrics.TurnsTotal.WithLabelValues(metrics.OutcomeCancelled).Inc()
		w.SendDone()
	default:
		p.metrics.TurnsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		reqID, _ := mw.RequestIDFrom(parentCtx)
		apiErr, _ := apierror.FromError(classifyUpstreamErr(err), reqID)
		logger.Warn("upstream stream error", "type", apiErr.Type, "message", apiErr.Message)
		w.SendChunk(sse.NewChunk(chunkID, nowUnix(), apologeticChunk))
		w.SendDone()
	}
}

// pump decodes the upstream stream, applying the smart-hold on the first
// content delta and forwarding every payload verbatim.
func (p *Pipeline) pump(ctx context.Context, w *sse.Writer, stream *upstream.Stream, lastChunkMillis *atomic.Int64, bufferSentAt time.Time) (string, error) {
	var content strings.Builder
	firstDelta := true

	for {
		payload, done, err := stream.Next()
		if done {
			return content.String(), nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return content.String(), nil
			}
			if ctx.Err() != nil {
				return content.String(), ctx.Err()
			}
			return content.String(), err
		}

		delta, hasDelta := extractContentDelta(payload)
		if hasDelta && firstDelta {
			firstDelta = false
			p.metrics.UpstreamLatency.Observe(time.Since(bufferSentAt).Seconds())
			p.applySmartHold(bufferSentAt)
		}
		if hasDelta {
			content.WriteString(delta)
		}

		lastChunkMillis.Store(nowMillis())
		if err := w.SendRawPayload(payload); err != nil {
			return content.String(), err
		}
	}
}

// applySmartHold sleeps the remainder of MinBufferSpeech if fewer than
// that much time has elapsed since the buffer phrase was sent.
func (p *Pipeline) applySmartHold(bufferSentAt time.Time) {
	elapsed := time.Since(bufferSentAt)
	if remaining := p.cfg.MinBufferSpeech - elapsed; remaining > 0 {
		time.Sleep(remaining)
	}
}

func (p *Pipeline) runKeepAlive(ctx context.Context, w *sse.Writer, category phrase.Category, counter *phrase.Counter, lastChunkMillis *atomic.Int64) {
	ticker := time.NewTicker(p.cfg.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Duration(nowMillis()-lastChunkMillis.Load()) * time.Millisecond
			if elapsed < p.cfg.KeepAliveStaleAfter {
				continue
			}
			text := p.catalog.PickKeepAlive(category, counter.Next())
			if err := w.SendChunk(sse.NewChunk(newChunkID(), nowUnix(), text)); err != nil {
				return
			}
			p.metrics.KeepAliveEmitted.Inc()
			lastChunkMillis.Store(nowMillis())
		}
	}
}

func (p *Pipeline) handleUpstreamError(ctx context.Context, err error, w *sse.Writer, req *Request, logger *slog.Logger) {
	if errors.Is(err, context.Canceled) {
		p.metrics.TurnsTotal.WithLabelValues(metrics.OutcomeCancelled).Inc()
		w.SendDone()
		return
	}
	p.metrics.TurnsTotal.WithLabelValues(metrics.OutcomeError).Inc()
	reqID, _ := mw.RequestIDFrom(ctx)
	apiErr, _ := apierror.FromError(classifyUpstreamErr(err), reqID)
	logger.Warn("upstream request failed", "type", apiErr.Type, "message", apiErr.Message, "session_id", req.SessionID)
	w.SendChunk(sse.NewChunk(newChunkID(), nowUnix(), apologeticChunk))
	w.SendDone()
}

func (p *Pipeline) finishDownstreamClosed(sessionID string, logger *slog.Logger) {
	p.coord.AbortInFlight(sessionID)
	logger.Info("downstream closed early", "session_id", sessionID)
}

// writeError renders a canonical error envelope for the non-streaming
// failure paths (body decode, request parse) that happen before an SSE
// response has been opened.
func (p *Pipeline) writeError(w http.ResponseWriter, err error, requestID string) {
	apiErr, status := apierror.FromError(err, requestID)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apierror.Envelope{Error: apiErr})
}

func newChunkID() string {
	return "chatcmpl-" + uuid.NewString()
}

func nowUnix() int64 {
	return time.Now().Unix()
}

func nowMillis() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}
