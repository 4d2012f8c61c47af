package signal

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/studycall/internal/adapters/render"
	"github.com/dkeye/studycall/internal/adapters/rtc"
	"github.com/dkeye/studycall/internal/core"
)

func (ctl *ViewController) sendCandidate(c core.SignalConnection, ci webrtc.ICECandidateInit) {
	resp := struct {
		Type          string `json:"type"`
		Candidate     string `json:"candidate"`
		SDPMid        string `json:"sdpMid,omitempty"`
		SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
	}{
		Type:      "candidate",
		Candidate: ci.Candidate,
	}
	if ci.SDPMid != nil {
		resp.SDPMid = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		resp.SDPMLineIndex = *ci.SDPMLineIndex
	}
	ctl.sendJSON(c, resp)
}

// handleWatch opens the viewer peer connection. Every render target is sent
// as one video track whose id is the target id.
func (ctl *ViewController) handleWatch(ctx context.Context, sess core.ViewerSession) {
	if ctl.Surface == nil {
		ctl.sendError(sess.Signal(), "media_disabled")
		return
	}
	wc, err := rtc.NewWebRTCConnection(ctl.API, rtc.ConfigFromURLs(ctl.ICE), string(sess.ID()))
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc new pc")
		ctl.sendError(sess.Signal(), "media_failed")
		return
	}

	wc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		ctl.sendCandidate(sess.Signal(), ci)
	})

	if err = wc.Start(ctx); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc start")
		wc.Close()
		ctl.sendError(sess.Signal(), "media_failed")
		return
	}

	for _, t := range ctl.Surface.Targets() {
		if _, err := wc.AddLocalTrack(t.Track()); err != nil {
			log.Error().Err(err).Str("module", "signal").Str("target", string(t.ID())).Msg("add local track")
			wc.Close()
			ctl.sendError(sess.Signal(), "media_failed")
			return
		}
	}

	offer, err := wc.CreateAndSetOffer()
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc create offer")
		wc.Close()
		ctl.sendError(sess.Signal(), "media_failed")
		return
	}

	sess.UpdateMedia(wc)
	ctl.sendJSON(sess.Signal(), map[string]string{
		"type": "offer",
		"sdp":  offer.SDP,
	})
}

// renegotiate adds a target created after viewers connected to their peer
// connections and sends each a fresh offer.
func (ctl *ViewController) renegotiate(t *render.Target) {
	for _, sess := range ctl.Registry.Sessions() {
		mc := sess.Media()
		if mc == nil || mc.IsClosed() {
			continue
		}
		if _, err := mc.AddLocalTrack(t.Track()); err != nil {
			log.Error().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("renegotiate add track")
			continue
		}
		offer, err := mc.CreateAndSetOffer()
		if err != nil {
			log.Error().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("renegotiate offer")
			continue
		}
		ctl.sendJSON(sess.Signal(), map[string]string{
			"type": "offer",
			"sdp":  offer.SDP,
		})
	}
}

func (ctl *ViewController) handleAnswer(sess core.ViewerSession, data []byte) {
	var p struct {
		SDP string `json:"sdp"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad answer payload")
		ctl.sendError(sess.Signal(), "bad_payload")
		return
	}
	mc := sess.Media()
	if mc == nil {
		log.Warn().Str("module", "signal").Str("sid", string(sess.ID())).Msg("answer: no media connection")
		ctl.sendError(sess.Signal(), "no_media")
		return
	}
	answer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  p.SDP,
	}
	if err := mc.ApplyAnswer(answer); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc apply answer")
		ctl.sendError(sess.Signal(), "media_failed")
	}
}

func (ctl *ViewController) handleCandidate(sess core.ViewerSession, data []byte) {
	type candidatePayload struct {
		Type          string `json:"type"`
		Candidate     string `json:"candidate"`
		SDPMid        string `json:"sdpMid"`
		SDPMLineIndex uint16 `json:"sdpMLineIndex"`
	}
	var p candidatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		return
	}

	cand := webrtc.ICECandidateInit{
		Candidate: p.Candidate,
	}
	if p.SDPMid != "" {
		cand.SDPMid = &p.SDPMid
	}
	cand.SDPMLineIndex = &p.SDPMLineIndex

	mc := sess.Media()
	if mc == nil {
		log.Warn().Str("module", "signal").Str("sid", string(sess.ID())).Msg("candidate: no media connection")
		return
	}
	if err := mc.AddICECandidate(cand); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("add ice candidate")
	}
}
