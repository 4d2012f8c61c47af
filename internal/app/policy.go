package app

import "github.com/dkeye/studycall/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickViewer
)

func (a BackpressureAction) String() string {
	switch a {
	case DropFrame:
		return "drop_frame"
	case KickViewer:
		return "kick_viewer"
	default:
		return "no_action"
	}
}

// Policy decides what happens to a viewer whose send queue is full.
// misses counts consecutive frames the viewer could not take.
type Policy interface {
	OnBackPressure(viewer core.ViewerSession, misses int) BackpressureAction
}

// SimplePolicy drops frames and kicks a viewer after MaxMisses in a row.
// Views are full snapshots, so a dropped frame is repaired by the next one.
type SimplePolicy struct {
	MaxMisses int
}

func (p SimplePolicy) OnBackPressure(_ core.ViewerSession, misses int) BackpressureAction {
	if p.MaxMisses > 0 && misses >= p.MaxMisses {
		return KickViewer
	}
	return DropFrame
}
