package shape

import (
	"fmt"
	"unicode/utf16"
	"unicode/utf8"
)

const cursorRadius = 5

// HashColor maps an identifier to a "#RRGGBB" color. It is a pure function
// of the UTF-16 code units of id, so browsers and Go clients agree on the
// color of a given connection.
func HashColor(id string) string {
	var hash int32
	for _, unit := range utf16.Encode([]rune(id)) {
		hash = int32(unit) + ((hash << 5) - hash)
	}
	return fmt.Sprintf("#%06X", uint32(hash)&0x00FFFFFF)
}

// NewCursor builds the glyph shown for a remote participant: a dot in the
// participant's color labelled with their display name.
func NewCursor(connectionId string, label string, x float64, y float64) Shape {
	if utf8.RuneCountInString(label) > maxLabelLength {
		label = string([]rune(label)[:maxLabelLength])
	}
	return Shape{
		Kind:   KindCursor,
		Fill:   HashColor(connectionId),
		Left:   x,
		Top:    y,
		Radius: cursorRadius,
		Label:  label,
	}
}
