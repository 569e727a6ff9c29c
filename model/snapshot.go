package model

import "time"

// WorldSnapshot is the complete world state returned by one update_game
// call. A newer snapshot replaces an older one in full.
type WorldSnapshot struct {
	Players          []Player `json:"players"`
	Pickups          []Pickup `json:"pickups"`
	SecondsRemaining *int     `json:"secondsRemaining,omitempty"`

	// Seq is assigned by the client when the request is issued, not by the
	// backend. Larger values were requested later.
	Seq        uint64    `json:"-"`
	ReceivedAt time.Time `json:"-"`
}

// EntityCount returns the number of players plus pickups.
func (s WorldSnapshot) EntityCount() int {
	return len(s.Players) + len(s.Pickups)
}

// Entities returns players then pickups, each group in input order.
func (s WorldSnapshot) Entities() []Entity {
	out := make([]Entity, 0, s.EntityCount())
	for _, p := range s.Players {
		out = append(out, p)
	}
	for _, p := range s.Pickups {
		out = append(out, p)
	}
	return out
}

// ProjectedAnnotation is one pin the map surface should draw.
type ProjectedAnnotation struct {
	Source Entity
	// RingAngle is the bearing in degrees of a ring point; nil marks the
	// entity's center annotation.
	RingAngle *float64
	Position  Coordinate
	// Key is unique within one projection batch and stable across batches
	// for the same entity and angle.
	Key string
}

// IsCenter reports whether the annotation sits at the entity's own position.
func (a ProjectedAnnotation) IsCenter() bool { return a.RingAngle == nil }

// UpdateRequest is the body of both start_game and update_game.
type UpdateRequest struct {
	Coordinate Coordinate `json:"coordinate"`
	Username   string     `json:"username"`
	Radius     float64    `json:"radius"`
	UUID       string     `json:"uuid"`
}
