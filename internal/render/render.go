// Package render turns projected annotations into the markers a map
// surface draws. All styling lives here; the projector never picks colors.
package render

import (
	"fmt"
	"strconv"

	"github.com/chaseio/chase-client/model"
)

// Style carries every presentation constant. Pass it explicitly; there is
// no package-level instance to mutate.
type Style struct {
	LocalColor  string
	PlayerColor string
	PickupColor string

	// WideRingRadius is the radius in metres above which ring points use
	// WideGlyph instead of NarrowGlyph.
	WideRingRadius float64
	WideGlyph      string
	NarrowGlyph    string
}

// DefaultStyle matches the game's original look.
func DefaultStyle() Style {
	return Style{
		LocalColor:     "#0a84ff",
		PlayerColor:    "#ff3b30",
		PickupColor:    "#ff9500",
		WideRingRadius: 20,
		WideGlyph:      "--",
		NarrowGlyph:    "-",
	}
}

// Marker is a styled annotation.
type Marker struct {
	Key       string           `json:"key"`
	Kind      string           `json:"kind"`
	Position  model.Coordinate `json:"position"`
	Color     string           `json:"color"`
	Local     bool             `json:"local,omitempty"`
	Glyph     string           `json:"glyph,omitempty"`
	Rotation  float64          `json:"rotation,omitempty"`
	Labels    []string         `json:"labels,omitempty"`
	RingPoint bool             `json:"ringPoint"`
}

// Build styles annotations, preserving their order and keys.
func Build(annotations []model.ProjectedAnnotation, localPlayerName string, style Style) []Marker {
	out := make([]Marker, 0, len(annotations))
	for _, a := range annotations {
		out = append(out, marker(a, localPlayerName, style))
	}
	return out
}

func marker(a model.ProjectedAnnotation, localName string, style Style) Marker {
	m := Marker{
		Key:      a.Key,
		Kind:     a.Source.Kind().String(),
		Position: a.Position,
	}

	switch e := a.Source.(type) {
	case model.Player:
		m.Local = e.Name == localName
		if m.Local {
			m.Color = style.LocalColor
		} else {
			m.Color = style.PlayerColor
		}
		if a.IsCenter() {
			m.Labels = append(m.Labels, e.Name)
			if e.HasHeartRate() {
				m.Labels = append(m.Labels, fmt.Sprintf("❤️ %d", e.HeartRate))
			}
			m.Labels = append(m.Labels, strconv.Itoa(e.Points))
		}
	case model.Pickup:
		// Same highlight rule as players, keyed on the display name.
		m.Local = e.DisplayName() == localName
		if m.Local {
			m.Color = style.LocalColor
		} else {
			m.Color = style.PickupColor
		}
		if a.IsCenter() {
			m.Labels = []string{strconv.Itoa(e.Points)}
		}
	}

	if !a.IsCenter() {
		m.RingPoint = true
		m.Rotation = *a.RingAngle
		m.Glyph = style.NarrowGlyph
		if a.Source.Radius() > style.WideRingRadius {
			m.Glyph = style.WideGlyph
		}
	}
	return m
}
