package core

import (
	"strconv"

	"github.com/chaseio/chase-client/model"
)

// DefaultRingStepDegrees is the bearing step between ring points, giving
// twelve points per entity.
const DefaultRingStepDegrees = 30.0

const centerKeySuffix = "center"

// ProjectorConfig controls how entities are expanded into annotations.
type ProjectorConfig struct {
	// RingStepDegrees must divide 360; zero selects DefaultRingStepDegrees.
	RingStepDegrees float64
}

// Projector turns world snapshots into map annotations. It holds no state
// between calls and is safe for concurrent use.
type Projector struct {
	angles []float64
}

// NewProjector builds a Projector, applying defaults for zero fields.
func NewProjector(cfg ProjectorConfig) *Projector {
	step := cfg.RingStepDegrees
	if step <= 0 || step > 360 {
		step = DefaultRingStepDegrees
	}
	angles := make([]float64, 0, int(360/step))
	for i := 0; float64(i)*step < 360; i++ {
		angles = append(angles, float64(i)*step)
	}
	return &Projector{angles: angles}
}

var defaultProjector = NewProjector(ProjectorConfig{})

// Project expands snapshot into annotations using the default 30° ring step.
// See Projector.Project.
func Project(snapshot model.WorldSnapshot, localPlayerName string, ringMode bool) []model.ProjectedAnnotation {
	return defaultProjector.Project(snapshot, localPlayerName, ringMode)
}

// RingAngles returns the bearings of the ring points in emission order.
func (p *Projector) RingAngles() []float64 {
	out := make([]float64, len(p.angles))
	copy(out, p.angles)
	return out
}

// PointsPerEntity is the number of annotations one entity yields.
func (p *Projector) PointsPerEntity(ringMode bool) int {
	if !ringMode {
		return 1
	}
	return len(p.angles) + 1
}

// Project expands every entity of the snapshot, players first then pickups,
// each group in input order.
//
// In ring mode an entity yields one annotation per ring bearing, ascending,
// each offset by the entity's radius, followed by a center annotation at the
// raw position. Otherwise it yields only an annotation at the raw position
// keyed by the bare id.
//
// localPlayerName is accepted for the presentation layer's benefit and has
// no effect on geometry. Coordinates are not validated and duplicate ids are
// not removed.
func (p *Projector) Project(snapshot model.WorldSnapshot, localPlayerName string, ringMode bool) []model.ProjectedAnnotation {
	out := make([]model.ProjectedAnnotation, 0, snapshot.EntityCount()*p.PointsPerEntity(ringMode))
	for _, player := range snapshot.Players {
		out = p.expand(out, player, ringMode)
	}
	for _, pickup := range snapshot.Pickups {
		out = p.expand(out, pickup, ringMode)
	}
	return out
}

func (p *Projector) expand(out []model.ProjectedAnnotation, e model.Entity, ringMode bool) []model.ProjectedAnnotation {
	id := e.EntityID().String()
	origin := e.Position()

	if !ringMode {
		return append(out, model.ProjectedAnnotation{Source: e, Position: origin, Key: id})
	}

	for _, angle := range p.angles {
		out = append(out, model.ProjectedAnnotation{
			Source:    e,
			RingAngle: &angle,
			Position:  DestinationPoint(origin, e.Radius(), angle),
			Key:       id + "-" + strconv.FormatFloat(angle, 'f', -1, 64),
		})
	}
	return append(out, model.ProjectedAnnotation{
		Source:   e,
		Position: origin,
		Key:      id + "-" + centerKeySuffix,
	})
}

// FindLocalPlayer returns the first player, in snapshot order, whose display
// name equals name. When several players share the name the earliest one
// wins. ok is false when nobody matches, which is normal until the
// backend has echoed the local player's first update.
func FindLocalPlayer(players []model.Player, name string) (model.Player, bool) {
	for _, p := range players {
		if p.Name == name {
			return p, true
		}
	}
	return model.Player{}, false
}
