// Package convlog implements the bounded per-session conversation log used
// for debug inspection (spec §4.H). It is a process-local, non-persistent
// facility — never a replacement for real conversation memory.
package convlog

import (
	"sync"
	"time"
)

// Entry is one logged message.
type Entry struct {
	Role          string `json:"role"`
	Content       string `json:"content"`
	TimestampISO  string `json:"timestampIso"`
}

type SessionLog struct {
	Messages  []Entry   `json:"messages"`
	StartedAt time.Time `json:"startedAt"`
}

// Log is the append-only, capped conversation log. On insertion, if the
// number of distinct sessions exceeds the cap, the session whose first
// insertion is oldest is evicted.
type Log struct {
	mu       sync.Mutex
	cap      int
	sessions map[string]*SessionLog
	order    []string // insertion order of first-seen sessions, oldest first
	now      func() time.Time

	subscribers map[chan Append]struct{}
}

// Append is published to subscribers (the /debug/tail websocket) whenever
// a message is appended.
type Append struct {
	SessionID string `json:"sessionId"`
	Entry     Entry  `json:"entry"`
}

func New(capSessions int) *Log {
	return &Log{
		cap:         capSessions,
		sessions:    make(map[string]*SessionLog),
		now:         time.Now,
		subscribers: make(map[chan Append]struct{}),
	}
}

// Append records a message for the session, evicting the oldest session
// if this insertion pushes the log over its cap.
func (l *Log) Append(sessionID, role, content string) {
	l.mu.Lock()
	sl, ok := l.sessions[sessionID]
	if !ok {
		sl = &SessionLog{StartedAt: l.now()}
		l.sessions[sessionID] = sl
		l.order = append(l.order, sessionID)
		if len(l.order) > l.cap {
			oldest := l.order[0]
			l.order = l.order[1:]
			delete(l.sessions, oldest)
		}
	}
	entry := Entry{Role: role, Content: content, TimestampISO: l.now().UTC().Format(time.RFC3339Nano)}
	sl.Messages = append(sl.Messages, entry)
	subs := make([]chan Append, 0, len(l.subscribers))
	for ch := range l.subscribers {
		subs = append(subs, ch)
	}
	l.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- Append{SessionID: sessionID, Entry: entry}:
		default: // a slow subscriber must never block a turn
		}
	}
}

// Snapshot returns the full log, keyed by session id, for GET /conversations.
func (l *Log) Snapshot() map[string]SessionLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]SessionLog, len(l.sessions))
	for id, sl := range l.sessions {
		msgs := make([]Entry, len(sl.Messages))
		copy(msgs, sl.Messages)
		out[id] = SessionLog{Messages: msgs, StartedAt: sl.StartedAt}
	}
	return out
}

// Clear empties the log for DELETE /conversations.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions = make(map[string]*SessionLog)
	l.order = nil
}

// Subscribe registers a channel to receive Append events; Unsubscribe must
// be called (typically via defer) when the caller is done.
func (l *Log) Subscribe() (ch chan Append, unsubscribe func()) {
	ch = make(chan Append, 16)
	l.mu.Lock()
	l.subscribers[ch] = struct{}{}
	l.mu.Unlock()
	return ch, func() {
		l.mu.Lock()
		delete(l.subscribers, ch)
		l.mu.Unlock()
		close(ch)
	}
}
