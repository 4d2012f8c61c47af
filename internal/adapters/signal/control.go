package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/studycall/internal/app/orch"
	"github.com/dkeye/studycall/internal/core"
)

func (ctl *ViewController) handlePing(conn core.SignalConnection) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	ctl.sendJSON(conn, resp)
}

func (ctl *ViewController) handleView(conn core.SignalConnection) {
	ctl.sendJSON(conn, viewFrame{Type: "view", View: ctl.Engine.View()})
}

// handleToggle forwards a control intent. The outcome shows up in the next
// view, or as a notice if the room rejected it.
func (ctl *ViewController) handleToggle(sess core.ViewerSession, data []byte) {
	var p struct {
		Intent string `json:"intent"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(sess.Signal(), "bad_payload")
		return
	}
	in, err := orch.ParseIntent(p.Intent)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("toggle")
		ctl.sendError(sess.Signal(), "unknown_intent")
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(sess.ID()) {
		log.Warn().Str("module", "signal").Str("sid", string(sess.ID())).Msg("toggle rate limited")
		ctl.sendError(sess.Signal(), "rate_limited")
		return
	}
	if !ctl.Engine.Toggle(in) {
		ctl.sendError(sess.Signal(), "engine_stopped")
	}
}
