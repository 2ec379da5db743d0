// Package canvas is an in-memory rendering surface for headless clients.
package canvas

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/zlnvch/whiteboard/shape"
)

const White = "#FFFFFF"

type state struct {
	Background string        `json:"background"`
	Objects    []shape.Shape `json:"objects"`
}

// Canvas holds the shapes drawn so far. It keeps no pixels.
type Canvas struct {
	mu         sync.Mutex
	background string
	objects    []shape.Shape
}

func New() *Canvas {
	return &Canvas{background: White}
}

func (c *Canvas) Add(s shape.Shape) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects = append(c.objects, s)
}

// Clear drops every shape and resets the background to white.
func (c *Canvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects = nil
	c.background = White
}

func (c *Canvas) SerializeState() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	objects := c.objects
	if objects == nil {
		objects = []shape.Shape{}
	}
	return json.Marshal(state{Background: c.background, Objects: objects})
}

// LoadState replaces the canvas with a snapshot from SerializeState. On error
// the canvas is left unchanged.
func (c *Canvas) LoadState(snapshot []byte) error {
	var st state
	if err := json.Unmarshal(snapshot, &st); err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	for i, s := range st.Objects {
		if err := shape.Validate(s); err != nil {
			return fmt.Errorf("load state: object %d: %w", i, err)
		}
	}
	if st.Background == "" {
		st.Background = White
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.background = st.Background
	c.objects = st.Objects
	return nil
}

// Shapes returns a copy of the shapes in drawing order.
func (c *Canvas) Shapes() []shape.Shape {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]shape.Shape(nil), c.objects...)
}

func (c *Canvas) Background() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.background
}
