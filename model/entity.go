package model

import "github.com/google/uuid"

// PickupName is the display name shared by every pickup.
const PickupName = "Pickup"

// EntityKind distinguishes the variants of Entity.
type EntityKind int

const (
	EntityKindPlayer EntityKind = iota
	EntityKindPickup
)

func (k EntityKind) String() string {
	switch k {
	case EntityKindPlayer:
		return "player"
	case EntityKindPickup:
		return "pickup"
	default:
		return "unknown"
	}
}

// Entity is something drawn on the map. The set of implementations is
// closed: only Player and Pickup satisfy it.
type Entity interface {
	EntityID() uuid.UUID
	DisplayName() string
	Score() int
	Radius() float64
	Position() Coordinate
	Kind() EntityKind

	isEntity()
}

// Player is a participant as reported by the game backend.
type Player struct {
	ID         uuid.UUID  `json:"uuid"`
	Name       string     `json:"username"`
	Points     int        `json:"points"`
	RadiusM    float64    `json:"radius"`
	HeartRate  int        `json:"heartRate"` // 0 when no wearable is streaming
	Coordinate Coordinate `json:"coordinate"`
}

func (p Player) EntityID() uuid.UUID  { return p.ID }
func (p Player) DisplayName() string  { return p.Name }
func (p Player) Score() int           { return p.Points }
func (p Player) Radius() float64      { return p.RadiusM }
func (p Player) Position() Coordinate { return p.Coordinate }
func (p Player) Kind() EntityKind     { return EntityKindPlayer }
func (Player) isEntity()              {}

// HasHeartRate reports whether a wearable reading is attached.
func (p Player) HasHeartRate() bool { return p.HeartRate != 0 }

// Pickup is a collectible worth Points when a player reaches it.
type Pickup struct {
	ID         uuid.UUID  `json:"uuid"`
	Points     int        `json:"points"`
	RadiusM    float64    `json:"radius"`
	Coordinate Coordinate `json:"coordinate"`
}

func (p Pickup) EntityID() uuid.UUID  { return p.ID }
func (p Pickup) DisplayName() string  { return PickupName }
func (p Pickup) Score() int           { return p.Points }
func (p Pickup) Radius() float64      { return p.RadiusM }
func (p Pickup) Position() Coordinate { return p.Coordinate }
func (p Pickup) Kind() EntityKind     { return EntityKindPickup }
func (Pickup) isEntity()              {}
