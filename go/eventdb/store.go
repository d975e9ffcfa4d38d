// Package eventdb persists demand-response events between polls, so a
// restart does not lose instructions the VTN has already distributed.
package eventdb

import "github.com/voltgrid/oadr2/go/event"

// Store is the persistence contract shared by the SQLite and in-memory
// implementations. Each mutation is individually atomic.
type Store interface {
	// Add inserts a new event and its intervals. It fails when the ID is
	// already stored.
	Add(e *event.Event) error
	// Update replaces a stored event and its intervals.
	Update(e *event.Event) error
	// Get returns the stored event with the given ID, or nil when absent.
	Get(id string) (*event.Event, error)
	// Remove deletes the given events and their intervals. Absent IDs are
	// not an error.
	Remove(ids ...string) error
	// Active returns all stored events ordered by start time ascending.
	Active() ([]*event.Event, error)
}
