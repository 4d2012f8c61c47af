package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/studycall/internal/core"
)

func (ctl *ViewController) writePump(ctx context.Context, c *WsSignalConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *ViewController) readPump(ctx context.Context, cancel context.CancelFunc, sess core.ViewerSession) {
	sid := sess.ID()
	c := sess.Signal().(*WsSignalConn)
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		cancel()
		c.Close()
		if mc := sess.Media(); mc != nil {
			mc.Close()
		}
		ctl.Registry.Unbind(sess)
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(sid)
		}
	}()
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Info().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read ended")
			}
			return
		}
		ctl.handleSignal(ctx, sess, data)
	}
}

func (ctl *ViewController) handleSignal(ctx context.Context, sess core.ViewerSession, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(sess.Signal(), "bad_payload")
		return
	}

	switch env.Type {
	case "ping":
		ctl.handlePing(sess.Signal())
	case "view":
		ctl.handleView(sess.Signal())
	case "toggle":
		ctl.handleToggle(sess, data)
	case "watch":
		ctl.handleWatch(ctx, sess)
	case "answer":
		ctl.handleAnswer(sess, data)
	case "candidate":
		ctl.handleCandidate(sess, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(sess.Signal(), "unknown_type")
	}
}

func (ctl *ViewController) sendJSON(c core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *ViewController) sendError(c core.SignalConnection, reason string) {
	ctl.sendJSON(c, map[string]string{
		"type":  "error",
		"error": reason,
	})
}
