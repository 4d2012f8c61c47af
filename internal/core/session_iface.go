package core

// Frame is a raw payload pushed to a viewer.
type Frame []byte

type SessionID string

// SignalConnection abstracts the viewer messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// ViewerSession binds one rendering surface client to its transport endpoints.
type ViewerSession interface {
	ID() SessionID
	Signal() SignalConnection
	Media() MediaConnection
	UpdateMedia(MediaConnection) ViewerSession
}
