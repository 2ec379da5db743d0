// Package presence tracks the cursors of remote participants.
package presence

import (
	"sort"

	"github.com/zlnvch/whiteboard/shape"
)

// Glyph is the cursor shown for one remote connection.
type Glyph struct {
	ConnectionId string
	Name         string
	Shape        shape.Shape
}

// Tracker maps connection ids to glyphs. It is not safe for concurrent use;
// the sync client serializes access.
type Tracker struct {
	glyphs map[string]*Glyph
}

func NewTracker() *Tracker {
	return &Tracker{glyphs: make(map[string]*Glyph)}
}

// Upsert creates the glyph for connectionId on first sight and afterwards
// only moves it, so its color never changes.
func (t *Tracker) Upsert(connectionId string, displayName string, x float64, y float64) (Glyph, bool) {
	if g, ok := t.glyphs[connectionId]; ok {
		g.Shape.Left = x
		g.Shape.Top = y
		return *g, false
	}

	g := &Glyph{
		ConnectionId: connectionId,
		Name:         displayName,
		Shape:        shape.NewCursor(connectionId, displayName, x, y),
	}
	t.glyphs[connectionId] = g
	return *g, true
}

// Remove drops the glyph of a connection that left the room.
func (t *Tracker) Remove(connectionId string) bool {
	if _, ok := t.glyphs[connectionId]; !ok {
		return false
	}
	delete(t.glyphs, connectionId)
	return true
}

func (t *Tracker) Get(connectionId string) (Glyph, bool) {
	g, ok := t.glyphs[connectionId]
	if !ok {
		return Glyph{}, false
	}
	return *g, true
}

func (t *Tracker) Len() int {
	return len(t.glyphs)
}

// All returns every glyph ordered by connection id.
func (t *Tracker) All() []Glyph {
	out := make([]Glyph, 0, len(t.glyphs))
	for _, g := range t.glyphs {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionId < out[j].ConnectionId })
	return out
}

func (t *Tracker) Reset() {
	clear(t.glyphs)
}
