package ingest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/voltgrid/oadr2/go/event"
	"github.com/voltgrid/oadr2/go/protocol"
	"github.com/voltgrid/oadr2/go/schedule"
)

// convertEvent builds the stored model of one broadcast event. The start
// gets this VEN's deterministic offset within the startafter tolerance, and
// the end is the start plus the summed interval durations. A zero sum means
// the event runs until cancelled.
func convertEvent(e *protocol.EiEvent, venID string) (*event.Event, error) {
	var desc = &e.Descriptor
	if desc.EventID == "" {
		return nil, fmt.Errorf("event carries no eventID")
	}

	var modNumber, err = strconv.Atoi(desc.ModNumber)
	if err != nil {
		return nil, fmt.Errorf("modificationNumber of event %s: %w", desc.EventID, err)
	}

	var priority int
	if desc.Priority != "" {
		if priority, err = strconv.Atoi(desc.Priority); err != nil {
			return nil, fmt.Errorf("priority of event %s: %w", desc.EventID, err)
		}
	}

	if e.ActivePeriod.Start == "" {
		return nil, fmt.Errorf("event %s carries no active period start", desc.EventID)
	}
	originalStart, err := schedule.ParseDatetime(e.ActivePeriod.Start)
	if err != nil {
		return nil, fmt.Errorf("active period start of event %s: %w", desc.EventID, err)
	}

	var startAfter = e.ActivePeriod.StartAfter
	var start = originalStart
	if startAfter != "" {
		tolerance, err := schedule.ParseDuration(startAfter)
		if err != nil {
			return nil, fmt.Errorf("startafter tolerance of event %s: %w", desc.EventID, err)
		}
		start = originalStart.Add(schedule.Smear(
			venID+"/"+desc.EventID+"/"+startAfter,
			tolerance.Window(originalStart)))
	}

	var signals []event.Interval
	if simple := e.Simple(); simple != nil {
		for i := range simple.Intervals {
			var wire = &simple.Intervals[i]

			index, err := strconv.Atoi(wire.UID)
			if err != nil {
				return nil, fmt.Errorf("interval uid of event %s: %w", desc.EventID, err)
			}
			level, err := strconv.ParseFloat(wire.Value, 64)
			if err != nil {
				return nil, fmt.Errorf("interval value of event %s: %w", desc.EventID, err)
			}
			d, err := schedule.ParseDuration(wire.Duration)
			if err != nil {
				return nil, fmt.Errorf("interval duration of event %s: %w", desc.EventID, err)
			}
			if d.Negative {
				return nil, fmt.Errorf("interval duration %q of event %s is negative",
					wire.Duration, desc.EventID)
			}
			signals = append(signals, event.Interval{
				Index:    index,
				Duration: wire.Duration,
				Level:    level,
			})
		}
		sort.Slice(signals, func(i, j int) bool { return signals[i].Index < signals[j].Index })
	}

	// Chain interval durations to find the end. Calendar components make
	// the walk order-dependent, so it follows index order.
	var end = start
	for _, sig := range signals {
		var d, _ = schedule.ParseDuration(sig.Duration) // validated above
		end = d.AddTo(end)
	}
	if end.Equal(start) {
		end = time.Time{}
	}

	return &event.Event{
		ID:            desc.EventID,
		ModNumber:     modNumber,
		Status:        event.Status(desc.Status),
		Priority:      priority,
		MarketContext: desc.MarketContext,
		TestEvent:     isTestEvent(desc.TestEvent),
		OriginalStart: originalStart,
		Start:         start,
		End:           end,
		StartAfter:    startAfter,
		CancelOffset:  startAfter,
		Signals:       signals,
		Targets: event.Targets{
			VenIDs:      e.Target.VenIDs,
			GroupIDs:    e.Target.GroupIDs,
			ResourceIDs: e.Target.ResourceIDs,
			PartyIDs:    e.Target.PartyIDs,
		},
	}, nil
}

// isTestEvent follows the wire convention: absent or any casing of "false"
// means a real event, anything else marks a test.
func isTestEvent(s string) bool {
	return s != "" && strings.ToLower(s) != "false"
}
