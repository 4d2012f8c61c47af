package core

import "sync"

type viewerSession struct {
	id     SessionID
	signal SignalConnection

	mu    sync.RWMutex
	media MediaConnection
}

func NewViewerSession(id SessionID, signal SignalConnection) ViewerSession {
	return &viewerSession{id: id, signal: signal}
}

func (v *viewerSession) ID() SessionID            { return v.id }
func (v *viewerSession) Signal() SignalConnection { return v.signal }

func (v *viewerSession) Media() MediaConnection {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.media
}

// UpdateMedia swaps the viewer peer connection, closing the previous one.
func (v *viewerSession) UpdateMedia(mc MediaConnection) ViewerSession {
	v.mu.Lock()
	old := v.media
	v.media = mc
	v.mu.Unlock()
	if old != nil && old != mc {
		old.Close()
	}
	return v
}
