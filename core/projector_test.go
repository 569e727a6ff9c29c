package core

import (
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/chaseio/chase-client/model"
)

func sampleSnapshot() model.WorldSnapshot {
	remaining := 90
	return model.WorldSnapshot{
		Players: []model.Player{
			{
				ID:         uuid.MustParse("0b8f3c1e-5a4c-4c2a-9e21-0c1a2b3c4d01"),
				Name:       "alice",
				Points:     12,
				RadiusM:    20,
				HeartRate:  121,
				Coordinate: infiniteLoop,
			},
			{
				ID:         uuid.MustParse("0b8f3c1e-5a4c-4c2a-9e21-0c1a2b3c4d02"),
				Name:       "bob",
				Points:     3,
				RadiusM:    35,
				Coordinate: model.Coordinate{Latitude: 51.4988, Longitude: -0.1749},
			},
		},
		Pickups: []model.Pickup{
			{
				ID:         uuid.MustParse("0b8f3c1e-5a4c-4c2a-9e21-0c1a2b3c4d03"),
				Points:     5,
				RadiusM:    10,
				Coordinate: model.Coordinate{Latitude: 37.3351, Longitude: -122.0095},
			},
		},
		SecondsRemaining: &remaining,
	}
}

func TestProjectRingModeCount(t *testing.T) {
	snap := sampleSnapshot()
	got := Project(snap, "alice", true)
	if want := 13 * snap.EntityCount(); len(got) != want {
		t.Fatalf("len = %d, want %d", len(got), want)
	}
}

func TestProjectPlainModeCount(t *testing.T) {
	snap := sampleSnapshot()
	got := Project(snap, "alice", false)
	if len(got) != snap.EntityCount() {
		t.Fatalf("len = %d, want %d", len(got), snap.EntityCount())
	}
	for i, a := range got {
		if !a.IsCenter() {
			t.Fatalf("annotation %d has ring angle %v", i, *a.RingAngle)
		}
		if a.Position != a.Source.Position() {
			t.Fatalf("annotation %d moved: %+v != %+v", i, a.Position, a.Source.Position())
		}
		if a.Key != a.Source.EntityID().String() {
			t.Fatalf("annotation %d key = %q", i, a.Key)
		}
	}
}

func TestProjectEmptySnapshot(t *testing.T) {
	if got := Project(model.WorldSnapshot{}, "", true); len(got) != 0 {
		t.Fatalf("expected no annotations, got %d", len(got))
	}
}

func TestProjectKeysUnique(t *testing.T) {
	for _, ring := range []bool{true, false} {
		seen := map[string]bool{}
		for _, a := range Project(sampleSnapshot(), "alice", ring) {
			if seen[a.Key] {
				t.Fatalf("ring=%v: duplicate key %q", ring, a.Key)
			}
			seen[a.Key] = true
		}
	}
}

func TestProjectOrderAndCenter(t *testing.T) {
	snap := sampleSnapshot()
	got := Project(snap, "alice", true)

	entities := snap.Entities()
	for i, e := range entities {
		group := got[i*13 : (i+1)*13]
		for j, a := range group[:12] {
			if a.Source.EntityID() != e.EntityID() {
				t.Fatalf("entity %d point %d belongs to %s", i, j, a.Source.EntityID())
			}
			if a.RingAngle == nil || *a.RingAngle != float64(j*30) {
				t.Fatalf("entity %d point %d angle = %v, want %d", i, j, a.RingAngle, j*30)
			}
			if !strings.HasPrefix(a.Key, e.EntityID().String()+"-") {
				t.Fatalf("key %q lacks id prefix", a.Key)
			}
		}
		center := group[12]
		if !center.IsCenter() {
			t.Fatalf("entity %d: last annotation is not the center", i)
		}
		if center.Position != e.Position() {
			t.Fatalf("entity %d: center %+v != raw %+v", i, center.Position, e.Position())
		}
		if center.Key != e.EntityID().String()+"-center" {
			t.Fatalf("entity %d: center key = %q", i, center.Key)
		}
	}

	if got[3*13-1].Source.Kind() != model.EntityKindPickup {
		t.Fatalf("expected pickups after players")
	}
}

func TestProjectRingPointsAtRadius(t *testing.T) {
	for _, a := range Project(sampleSnapshot(), "alice", true) {
		if a.IsCenter() {
			continue
		}
		d := DistanceMeters(a.Source.Position(), a.Position)
		if math.Abs(d-a.Source.Radius()) > 1e-6 {
			t.Fatalf("%s: distance %v, want %v", a.Key, d, a.Source.Radius())
		}
	}
}

func TestProjectZeroRadiusCollapses(t *testing.T) {
	snap := sampleSnapshot()
	for i := range snap.Players {
		snap.Players[i].RadiusM = 0
	}
	for i := range snap.Pickups {
		snap.Pickups[i].RadiusM = 0
	}
	for _, a := range Project(snap, "alice", true) {
		raw := a.Source.Position()
		if math.Abs(a.Position.Latitude-raw.Latitude) > 1e-9 || math.Abs(a.Position.Longitude-raw.Longitude) > 1e-9 {
			t.Fatalf("%s: %+v not at %+v", a.Key, a.Position, raw)
		}
	}
}

func TestProjectDeterministic(t *testing.T) {
	snap := sampleSnapshot()
	first := Project(snap, "alice", true)
	second := Project(snap, "bob", true)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("projection differs between identical inputs")
	}
}

func TestProjectRingKeyFormat(t *testing.T) {
	snap := model.WorldSnapshot{Pickups: sampleSnapshot().Pickups}
	got := Project(snap, "", true)
	id := snap.Pickups[0].ID.String()
	if got[1].Key != id+"-30" {
		t.Fatalf("key = %q, want %q", got[1].Key, id+"-30")
	}
	if got[11].Key != id+"-330" {
		t.Fatalf("key = %q, want %q", got[11].Key, id+"-330")
	}
}

func TestProjectorCustomStep(t *testing.T) {
	p := NewProjector(ProjectorConfig{RingStepDegrees: 90})
	if want := []float64{0, 90, 180, 270}; !reflect.DeepEqual(p.RingAngles(), want) {
		t.Fatalf("angles = %v, want %v", p.RingAngles(), want)
	}
	if got := p.Project(sampleSnapshot(), "", true); len(got) != 5*3 {
		t.Fatalf("len = %d, want 15", len(got))
	}
}

func TestProjectDuplicateIDsCollide(t *testing.T) {
	snap := sampleSnapshot()
	snap.Pickups[0].ID = snap.Players[0].ID

	got := Project(snap, "", false)
	if got[0].Key != got[2].Key {
		t.Fatalf("expected colliding keys, got %q and %q", got[0].Key, got[2].Key)
	}
}

func TestFindLocalPlayer(t *testing.T) {
	players := sampleSnapshot().Players

	p, ok := FindLocalPlayer(players, "bob")
	if !ok || p.Name != "bob" {
		t.Fatalf("FindLocalPlayer(bob) = %+v, %v", p, ok)
	}
	if _, ok := FindLocalPlayer(players, "carol"); ok {
		t.Fatalf("expected carol to be missing")
	}
	if _, ok := FindLocalPlayer(nil, "bob"); ok {
		t.Fatalf("expected miss on empty player list")
	}
}

func TestFindLocalPlayerDuplicateNamePrefersFirst(t *testing.T) {
	players := sampleSnapshot().Players
	players[1].Name = "alice"

	p, ok := FindLocalPlayer(players, "alice")
	if !ok || p.ID != players[0].ID {
		t.Fatalf("expected first alice, got %+v", p)
	}
}
