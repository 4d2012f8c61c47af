package domain

import "fmt"

// Variant is the on-screen arrangement chosen for the call.
type Variant string

const (
	VariantEmpty        Variant = "empty"
	VariantSolo         Variant = "solo"
	VariantPair         Variant = "pair"
	VariantGrid         Variant = "grid"
	VariantSpeakerFocus Variant = "speaker_focus"
	VariantScreenShare  Variant = "screen_share"
)

// Area is a region of a layout variant holding one or more slots.
type Area string

const (
	AreaMain   Area = "main"
	AreaTile   Area = "tile"
	AreaStrip  Area = "strip"
	AreaColumn Area = "column"
	AreaScreen Area = "screen"
	AreaPIP    Area = "pip"
	AreaThumb  Area = "thumb"
)

type Slot struct {
	Area  Area `json:"area"`
	Index int  `json:"index"`
}

func (s Slot) String() string {
	return fmt.Sprintf("%s-%d", s.Area, s.Index)
}
