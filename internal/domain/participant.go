// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const MaxDisplayNameLen = 36

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrUnknownTrackKind   = errors.New("unknown track kind")
)

// ParticipantID is stable for the participant's lifetime in the room.
type ParticipantID string

type TrackKind string

const (
	TrackCamera     TrackKind = "camera"
	TrackMicrophone TrackKind = "microphone"
	TrackScreen     TrackKind = "screen"
)

var TrackKinds = []TrackKind{TrackCamera, TrackMicrophone, TrackScreen}

func ParseTrackKind(s string) (TrackKind, error) {
	switch TrackKind(strings.ToLower(strings.TrimSpace(s))) {
	case TrackCamera, "video":
		return TrackCamera, nil
	case TrackMicrophone, "mic", "audio":
		return TrackMicrophone, nil
	case TrackScreen, "screenshare":
		return TrackScreen, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTrackKind, s)
}

func ValidateDisplayName(name string) error {
	if len(name) == 0 {
		return ErrDisplayNameEmpty
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	return nil
}

// DisplayNameOr trims a transport supplied name to a renderable one.
// Empty names fall back to the participant id.
func DisplayNameOr(name string, id ParticipantID) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = string(id)
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLen {
		name = string([]rune(name)[:MaxDisplayNameLen])
	}
	return name
}
