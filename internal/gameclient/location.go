package gameclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/chaseio/chase-client/model"
)

// LocationSource yields the local player's current position. It returns
// ErrNoFix (possibly wrapped) while no position is known.
type LocationSource interface {
	Location(ctx context.Context) (model.Coordinate, error)
}

// FixedLocation always reports the same coordinate.
type FixedLocation model.Coordinate

// Location implements LocationSource.
func (f FixedLocation) Location(context.Context) (model.Coordinate, error) {
	return model.Coordinate(f), nil
}

// ReplayLocation steps through a recorded track, one fix per call, and
// keeps reporting the final fix once the track is exhausted.
type ReplayLocation struct {
	mu    sync.Mutex
	track []model.Coordinate
	next  int
}

// NewReplayLocation wraps an in-memory track.
func NewReplayLocation(track []model.Coordinate) *ReplayLocation {
	cp := make([]model.Coordinate, len(track))
	copy(cp, track)
	return &ReplayLocation{track: cp}
}

// LoadReplayLocation reads one JSON coordinate per line
// ({"latitude":..,"longitude":..}); blank lines are skipped.
func LoadReplayLocation(r io.Reader) (*ReplayLocation, error) {
	var track []model.Coordinate
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var c model.Coordinate
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("track line %d: %w", line, err)
		}
		if !c.Valid() {
			return nil, fmt.Errorf("track line %d: coordinate %+v out of range", line, c)
		}
		track = append(track, c)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read track: %w", err)
	}
	return NewReplayLocation(track), nil
}

// Location implements LocationSource.
func (r *ReplayLocation) Location(context.Context) (model.Coordinate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.track) == 0 {
		return model.Coordinate{}, ErrNoFix
	}
	c := r.track[r.next]
	if r.next < len(r.track)-1 {
		r.next++
	}
	return c, nil
}
