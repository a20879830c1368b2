package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

type healthResponse struct {
	OK            bool    `json:"ok"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{OK: true, UptimeSeconds: time.Since(s.started).Seconds()})
}

func (s *Server) handleConversationsGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.convlog.Snapshot())
}

func (s *Server) handleConversationsDelete(w http.ResponseWriter, r *http.Request) {
	s.convlog.Clear()
	w.WriteHeader(http.StatusNoContent)
}

var debugTailUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleDebugTail streams every conversation-log append to a websocket
// client, letting an operator watch turns arrive without polling
// GET /conversations. Supplemented feature, not part of the original
// request/response contract.
func (s *Server) handleDebugTail(w http.ResponseWriter, r *http.Request) {
	conn, err := debugTailUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, unsubscribe := s.convlog.Subscribe()
	defer unsubscribe()

	// Drain client reads in the background so close frames and read errors
	// are observed, then fall through to the write loop below.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case append, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(append); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
