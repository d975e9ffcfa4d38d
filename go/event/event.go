// Package event defines the demand-response event model shared by ingest,
// storage, and the control loop.
package event

import (
	"fmt"
	"math/rand"
	"slices"
	"time"

	"github.com/voltgrid/oadr2/go/schedule"
)

// Status is an event's lifecycle state as carried on the wire.
type Status string

const (
	StatusNone      Status = "none"
	StatusFar       Status = "far"
	StatusNear      Status = "near"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Interval is one segment of an event's signal profile. Duration stays in its
// ISO-8601 wire form so stored events round-trip byte-for-byte.
type Interval struct {
	Index    int
	Duration string
	Level    float64
}

// Targets are an event's optional audience selectors.
type Targets struct {
	VenIDs      []string
	GroupIDs    []string
	ResourceIDs []string
	PartyIDs    []string
}

// IsEmpty returns true when no selector set names anyone.
func (t Targets) IsEmpty() bool {
	return len(t.VenIDs) == 0 && len(t.GroupIDs) == 0 &&
		len(t.ResourceIDs) == 0 && len(t.PartyIDs) == 0
}

// Matches reports whether a VEN holding the given identifiers is addressed by
// these selectors. An event without selectors addresses everyone; otherwise
// at least one identifier must be a member of its corresponding set.
func (t Targets) Matches(venID, groupID, resourceID, partyID string) bool {
	if t.IsEmpty() {
		return true
	}
	return (venID != "" && slices.Contains(t.VenIDs, venID)) ||
		(groupID != "" && slices.Contains(t.GroupIDs, groupID)) ||
		(resourceID != "" && slices.Contains(t.ResourceIDs, resourceID)) ||
		(partyID != "" && slices.Contains(t.PartyIDs, partyID))
}

// Event is a scheduled demand-response instruction. Identified by an opaque
// ID; per ID only the highest modification number observed is retained.
type Event struct {
	ID            string
	ModNumber     int
	Status        Status
	Priority      int
	MarketContext string
	TestEvent     bool

	// OriginalStart is the instant the VTN asked for; Start has the
	// per-VEN offset within the startafter tolerance applied.
	OriginalStart time.Time
	Start         time.Time
	// End is Start plus the summed interval durations. It is the zero
	// time for an unending event, which runs until cancelled.
	End time.Time

	// StartAfter and CancelOffset keep their ISO-8601 wire form.
	StartAfter   string
	CancelOffset string

	Signals []Interval
	Targets Targets
}

// Unending returns true when the event has no scheduled end.
func (e *Event) Unending() bool {
	return e.End.IsZero()
}

// Expired reports whether the event's end has passed. Unending events never
// expire.
func (e *Event) Expired(now time.Time) bool {
	return !e.End.IsZero() && e.End.Before(now)
}

// CurrentInterval returns the index of the signal interval covering now.
// Interval windows are start-inclusive and end-exclusive. The index is -1
// when the event has not started yet, and len(e.Signals) when the final
// interval has already ended. A zero-duration interval never ends: once
// reached it stays current until the event is cancelled.
func (e *Event) CurrentInterval(now time.Time) (int, error) {
	var boundaries = make([]time.Time, 0, len(e.Signals)+1)
	boundaries = append(boundaries, e.Start)

	var at = e.Start
	for i, sig := range e.Signals {
		var d, err = schedule.ParseDuration(sig.Duration)
		if err != nil {
			return 0, fmt.Errorf("interval %d of event %s: %w", i, e.ID, err)
		}
		at = d.AddTo(at)
		boundaries = append(boundaries, at)
	}

	var prev time.Time
	for i, b := range boundaries {
		if b.After(now) {
			return i - 1, nil
		}
		if i > 0 && b.Equal(prev) {
			return i - 1, nil
		}
		prev = b
	}
	return len(e.Signals), nil
}

// Cancel marks the event cancelled effective now. When the event was being
// actively followed, the end is pushed out by a random tail bounded by the
// cancellation offset, so a fleet does not restore load at the same instant.
// Anything else ends immediately.
func (e *Event) Cancel(now time.Time, wasActive bool) {
	var tail time.Duration
	if wasActive && e.CancelOffset != "" {
		if d, err := schedule.ParseDuration(e.CancelOffset); err == nil {
			if window := d.Window(now); window > 0 {
				tail = time.Duration(rand.Int63n(int64(window) + 1))
			}
		}
	}
	e.Status = StatusCancelled
	e.End = now.Add(tail)
}

// Copy returns a deep copy, so callers may mutate it without aliasing stored
// state.
func (e *Event) Copy() *Event {
	var c = *e
	c.Signals = append([]Interval(nil), e.Signals...)
	c.Targets = Targets{
		VenIDs:      append([]string(nil), e.Targets.VenIDs...),
		GroupIDs:    append([]string(nil), e.Targets.GroupIDs...),
		ResourceIDs: append([]string(nil), e.Targets.ResourceIDs...),
		PartyIDs:    append([]string(nil), e.Targets.PartyIDs...),
	}
	return &c
}
