package app

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/studycall/internal/core"
)

type sessionEntry struct {
	Session core.ViewerSession
	Cancel  context.CancelFunc
}

// Registry tracks connected viewers by session token. A token holds at most
// one viewer; binding it again cancels the previous connection.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

func (r *Registry) Bind(sess core.ViewerSession, cancel context.CancelFunc) {
	sid := sess.ID()
	r.mu.Lock()
	old, ok := r.sessions[sid]
	r.sessions[sid] = &sessionEntry{Session: sess, Cancel: cancel}
	r.mu.Unlock()

	if ok && old.Cancel != nil {
		old.Cancel()
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("replaced viewer")
		return
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound viewer")
}

func (r *Registry) Get(sid core.SessionID) (core.ViewerSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

// Unbind removes sess. It is a no-op if the token was rebound meanwhile.
func (r *Registry) Unbind(sess core.ViewerSession) {
	sid := sess.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok && e.Session == sess {
		delete(r.sessions, sid)
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind viewer")
	}
}

// Sessions returns the connected viewers ordered by session id.
func (r *Registry) Sessions() []core.ViewerSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ViewerSession, 0, len(r.sessions))
	for _, sid := range slices.Sorted(maps.Keys(r.sessions)) {
		out = append(out, r.sessions[sid].Session)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled viewer")
	return true
}
