// Package ingest applies oadrDistributeEvent broadcasts to the event store
// and builds the oadrCreatedEvent replies they require.
package ingest

import (
	"fmt"
	"slices"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/voltgrid/oadr2/go/event"
	"github.com/voltgrid/oadr2/go/eventdb"
	"github.com/voltgrid/oadr2/go/protocol"
)

// Config identifies this VEN and scopes which broadcasts it accepts.
type Config struct {
	// VenID is this VEN's identity. Required.
	VenID string
	// VtnIDs is an allow-list of VTN identities. Empty accepts any VTN.
	VtnIDs []string
	// MarketContexts is an allow-list of market contexts. Empty accepts
	// any context.
	MarketContexts []string
	// GroupID, ResourceID and PartyID are this VEN's optional memberships,
	// matched against event target selectors.
	GroupID    string
	ResourceID string
	PartyID    string
	// Profile selects the oadr namespace of replies. Defaults to 2.0a.
	Profile protocol.Profile
}

// Handler applies broadcasts to the store, tracks user opt-outs, and serves
// the active event set to the control loop.
type Handler struct {
	cfg   Config
	store eventdb.Store
	wake  func()

	// mu holds for a whole broadcast, so its decisions and writes are not
	// interleaved with opt-outs or control-loop removals.
	mu      sync.Mutex
	optOuts map[string]bool
}

// NewHandler validates |cfg| and returns a Handler over |store|. The handler
// calls |wake| after mutating the store, so the control loop can react
// without waiting for its next tick.
func NewHandler(cfg Config, store eventdb.Store, wake func()) (*Handler, error) {
	if cfg.VenID == "" {
		return nil, fmt.Errorf("a VEN ID is required")
	}
	if cfg.Profile == "" {
		cfg.Profile = protocol.Profile20A
	} else if err := cfg.Profile.Validate(); err != nil {
		return nil, err
	}
	if wake == nil {
		wake = func() {}
	}
	return &Handler{
		cfg:     cfg,
		store:   store,
		wake:    wake,
		optOuts: make(map[string]bool),
	}, nil
}

// HandleBroadcast runs the acceptance pipeline over a decoded broadcast and
// returns the reply to post back, or nil when no event demanded one.
func (h *Handler) HandleBroadcast(d *protocol.DistributeEvent) *protocol.CreatedEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.cfg.VtnIDs) != 0 && !slices.Contains(h.cfg.VtnIDs, d.VtnID) {
		log.WithFields(log.Fields{
			"vtnID":     d.VtnID,
			"requestID": d.RequestID,
		}).Warn("rejecting broadcast from unknown VTN")
		broadcastCounter.WithLabelValues("unknown_vtn").Inc()

		return protocol.NewErrorResponse(h.cfg.Profile, h.cfg.VenID,
			400, "Unknown vtnID: "+d.VtnID)
	}
	broadcastCounter.WithLabelValues("ok").Inc()

	var now = time.Now().UTC()
	var named = make(map[string]bool) // event IDs carried by this broadcast
	var responses []protocol.EventResponse

	for i := range d.Events {
		var entry = &d.Events[i]

		var evt, err = convertEvent(&entry.EiEvent, h.cfg.VenID)
		if err != nil {
			// A malformed event is skipped, but a legible ID still
			// shields it from implicit cancellation below.
			if id := entry.EiEvent.Descriptor.EventID; id != "" {
				named[id] = true
			}
			log.WithError(err).WithFields(log.Fields{
				"eventID":   entry.EiEvent.Descriptor.EventID,
				"requestID": d.RequestID,
			}).Warn("skipping malformed event")
			eventCounter.WithLabelValues("malformed").Inc()
			continue
		}
		named[evt.ID] = true

		prior, err := h.store.Get(evt.ID)
		if err != nil {
			log.WithError(err).WithField("eventID", evt.ID).Error("reading stored event")
			continue
		}

		// The outcome starts as an opt-in; each matching rule below
		// overwrites it, so the last match decides.
		var code, opt = 200, protocol.OptIn
		if prior != nil && evt.ModNumber < prior.ModNumber {
			code, opt = 403, protocol.OptOut
		}
		if !evt.Targets.Matches(h.cfg.VenID, h.cfg.GroupID, h.cfg.ResourceID, h.cfg.PartyID) {
			code, opt = 403, protocol.OptOut
		}
		if h.optOuts[evt.ID] {
			code, opt = 200, protocol.OptOut
		}
		if entry.EiEvent.Simple() == nil {
			code, opt = 403, protocol.OptOut
		}
		if len(h.cfg.MarketContexts) != 0 &&
			!slices.Contains(h.cfg.MarketContexts, evt.MarketContext) {
			code, opt = 405, protocol.OptOut
		}

		if opt == protocol.OptIn {
			if err = h.persist(prior, evt, now); err != nil {
				log.WithError(err).WithField("eventID", evt.ID).Error("storing event")
				continue
			}
		}
		eventCounter.WithLabelValues(opt).Inc()

		if entry.ResponseRequired == protocol.ResponseAlways {
			responses = append(responses, protocol.EventResponse{
				Code:      code,
				RequestID: d.RequestID,
				EventID:   evt.ID,
				ModNumber: evt.ModNumber,
				OptType:   opt,
			})
		}
	}

	h.cancelOmitted(named, now)
	h.wake()

	if len(responses) == 0 {
		return nil
	}
	return protocol.NewCreated(h.cfg.Profile, h.cfg.VenID, responses)
}

// persist applies a converted opt-in event: create when new, replace when the
// modification number advanced, and leave an equal revision untouched.
func (h *Handler) persist(prior, evt *event.Event, now time.Time) error {
	if prior == nil {
		if evt.Status == event.StatusCancelled {
			evt.Cancel(now, false)
		}
		return h.store.Add(evt)
	}
	if evt.ModNumber == prior.ModNumber {
		return nil
	}

	if evt.Status == event.StatusCancelled {
		if prior.Status == event.StatusCancelled {
			// The randomized tail was drawn when the cancellation was
			// first observed. Keep it.
			evt.End = prior.End
		} else {
			evt.Cancel(now, prior.Status == event.StatusActive)
		}
	}
	return h.store.Update(evt)
}

// cancelOmitted implicitly cancels stored events this broadcast no longer
// carries. A VTN holds its whole pending set in every oadrDistributeEvent,
// so omission means the event is gone.
func (h *Handler) cancelOmitted(named map[string]bool, now time.Time) {
	var stored, err = h.store.Active()
	if err != nil {
		log.WithError(err).Error("listing stored events")
		return
	}
	for _, evt := range stored {
		if named[evt.ID] || evt.Status == event.StatusCancelled {
			continue
		}
		evt.Cancel(now, evt.Status == event.StatusActive)
		if err = h.store.Update(evt); err != nil {
			log.WithError(err).WithField("eventID", evt.ID).Error("storing implicit cancellation")
			continue
		}
		log.WithField("eventID", evt.ID).Info("event implicitly cancelled")
		implicitCancelCounter.Inc()
	}
}

// OptOut excludes a stored event from signal selection. Future broadcasts
// naming the event are answered optOut, and it no longer contributes to the
// active set.
func (h *Handler) OptOut(eventID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var evt, err = h.store.Get(eventID)
	if err != nil {
		return fmt.Errorf("reading event %s: %w", eventID, err)
	}
	if evt == nil {
		return fmt.Errorf("no stored event %s", eventID)
	}
	h.optOuts[eventID] = true
	h.wake()
	return nil
}

// ActiveEvents returns stored events the user has not opted out of, ordered
// by start time ascending.
func (h *Handler) ActiveEvents() ([]*event.Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var stored, err = h.store.Active()
	if err != nil {
		return nil, err
	}
	var out = stored[:0]
	for _, evt := range stored {
		if !h.optOuts[evt.ID] {
			out = append(out, evt)
		}
	}
	return out, nil
}

// RemoveEvents deletes the given events and forgets their opt-outs.
func (h *Handler) RemoveEvents(ids ...string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.store.Remove(ids...); err != nil {
		return err
	}
	for _, id := range ids {
		delete(h.optOuts, id)
	}
	return nil
}
