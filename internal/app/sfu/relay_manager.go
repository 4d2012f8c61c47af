package sfu

import (
	"context"
	"sync"

	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
)

// RelayManager owns one relay per remote track id.
type RelayManager struct {
	mu     sync.RWMutex
	relays map[string]*Relay
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[string]*Relay),
	}
}

// StartRelay creates a relay for trackID and starts its loop. onPacket may be nil.
func (m *RelayManager) StartRelay(ctx context.Context, trackID string, src PacketSource, onPacket func(*rtp.Packet)) *Relay {
	logger := log.With().
		Str("module", "relay").
		Str("track", trackID).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(src, cancel)
	relay.OnPacket(onPacket)

	m.mu.Lock()
	if old, ok := m.relays[trackID]; ok {
		logger.Info().Msg("replacing existing relay for track")
		old.cancel()
	}
	m.relays[trackID] = relay
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")

	go func() {
		relay.loop(relayCtx, &logger)
		m.forget(trackID, relay)
	}()
	return relay
}

// StopRelay cancels the relay of trackID and removes it from the manager.
func (m *RelayManager) StopRelay(trackID string) {
	m.mu.Lock()
	relay, ok := m.relays[trackID]
	if ok {
		delete(m.relays, trackID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.cancel()
	relay.stop()
}

// StopAll cancels every relay.
func (m *RelayManager) StopAll() {
	m.mu.Lock()
	relays := m.relays
	m.relays = make(map[string]*Relay)
	m.mu.Unlock()
	for _, relay := range relays {
		relay.cancel()
		relay.stop()
	}
}

// HasRelay reports whether a relay exists for trackID.
func (m *RelayManager) HasRelay(trackID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[trackID]
	return ok
}

func (m *RelayManager) Relay(trackID string) (*Relay, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	relay, ok := m.relays[trackID]
	return relay, ok
}

func (m *RelayManager) forget(trackID string, relay *Relay) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.relays[trackID] == relay {
		delete(m.relays, trackID)
	}
}
