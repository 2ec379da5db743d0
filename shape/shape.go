package shape

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"unicode/utf8"
)

type Kind string

const (
	KindPath   Kind = "path"
	KindCursor Kind = "cursor"
)

// payloadVersion is bumped whenever a field changes meaning.
const payloadVersion = 1

const (
	minWidth        = 1
	maxWidth        = 50
	maxPathPoints   = 5000
	maxRadius       = 50
	maxLabelLength  = 64
	maxPayloadBytes = 256 * 1024
)

var hexColorRegex = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Shape is one self-contained visual object. Path points are relative to
// (Left, Top).
type Shape struct {
	Kind        Kind    `json:"type"`
	Stroke      string  `json:"stroke,omitempty"`
	Fill        string  `json:"fill,omitempty"`
	StrokeWidth float64 `json:"strokeWidth,omitempty"`
	Left        float64 `json:"left"`
	Top         float64 `json:"top"`
	Path        []Point `json:"path,omitempty"`
	Radius      float64 `json:"radius,omitempty"`
	Label       string  `json:"label,omitempty"`
}

type payload struct {
	Version int `json:"version"`
	Shape
}

// DecodeError reports a payload that could not be turned back into a Shape.
// Callers drop the event and carry on.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "shape decode: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func Serialize(s Shape) ([]byte, error) {
	if err := Validate(s); err != nil {
		return nil, fmt.Errorf("serialize %s: %w", s.Kind, err)
	}
	return json.Marshal(payload{Version: payloadVersion, Shape: s})
}

func Deserialize(data []byte) (Shape, error) {
	if len(data) > maxPayloadBytes {
		return Shape{}, &DecodeError{Err: errors.New("payload too large")}
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Shape{}, &DecodeError{Err: errors.New("invalid payload format")}
	}
	if p.Version != payloadVersion {
		return Shape{}, &DecodeError{Err: fmt.Errorf("unsupported payload version %d", p.Version)}
	}
	if err := Validate(p.Shape); err != nil {
		return Shape{}, &DecodeError{Err: err}
	}
	return p.Shape, nil
}

func Validate(s Shape) error {
	if !finite(s.Left) || !finite(s.Top) {
		return errors.New("invalid position")
	}

	switch s.Kind {
	case KindPath:
		if !hexColorRegex.MatchString(s.Stroke) {
			return errors.New("invalid color")
		}
		if s.StrokeWidth < minWidth || s.StrokeWidth > maxWidth {
			return errors.New("invalid width")
		}
		if len(s.Path) == 0 {
			return errors.New("empty path")
		}
		if len(s.Path) > maxPathPoints {
			return errors.New("path too long")
		}
		for _, p := range s.Path {
			if !finite(p.X) || !finite(p.Y) {
				return errors.New("invalid path point")
			}
		}

	case KindCursor:
		if !hexColorRegex.MatchString(s.Fill) {
			return errors.New("invalid color")
		}
		if s.Radius <= 0 || s.Radius > maxRadius {
			return errors.New("invalid radius")
		}
		if utf8.RuneCountInString(s.Label) > maxLabelLength {
			return errors.New("label too long")
		}

	default:
		return fmt.Errorf("unrecognized shape type %q", s.Kind)
	}

	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
