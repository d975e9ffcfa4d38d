// Package control runs the loop that folds stored demand-response events
// into a single current signal level and notifies on changes.
package control

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/voltgrid/oadr2/go/event"
)

// DefaultInterval is how often the loop re-evaluates absent a nudge.
const DefaultInterval = 30 * time.Second

// stopTimeout bounds how long Stop waits for the loop to exit.
const stopTimeout = 2 * time.Second

// EventSource serves the events the loop evaluates, and accepts removal of
// the ones whose useful life has ended.
type EventSource interface {
	ActiveEvents() ([]*event.Event, error)
	RemoveEvents(ids ...string) error
}

// Controller owns the current signal level. It re-derives the level from the
// EventSource on a fixed cadence and whenever nudged, removes events that
// have ended, and invokes a callback when the level moves.
type Controller struct {
	source   EventSource
	interval time.Duration
	onChange func(oldLevel, newLevel float64)

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	started bool
	level   float64
	leading string
}

// NewController returns a stopped Controller. A non-positive interval selects
// DefaultInterval. A nil onChange logs level changes and nothing more.
func NewController(source EventSource, interval time.Duration, onChange func(oldLevel, newLevel float64)) *Controller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if onChange == nil {
		onChange = func(oldLevel, newLevel float64) {
			log.WithFields(log.Fields{
				"old": oldLevel,
				"new": newLevel,
			}).Info("signal level changed")
		}
	}
	return &Controller{
		source:   source,
		interval: interval,
		onChange: onChange,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the loop. Further calls are no-ops.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return
	}
	c.started = true
	go c.run()
}

// Stop halts the loop and waits briefly for it to exit. It may be called
// multiple times, and before Start.
func (c *Controller) Stop() {
	c.mu.Lock()
	var started = c.started
	c.mu.Unlock()

	c.once.Do(func() { close(c.stop) })
	if !started {
		return
	}
	select {
	case <-c.done:
	case <-time.After(stopTimeout):
		log.Warn("control loop did not exit within its grace period")
	}
}

// Nudge asks the loop to re-evaluate now rather than at the next cadence
// tick. It never blocks; while a wake-up is already pending further nudges
// coalesce into it.
func (c *Controller) Nudge() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// CurrentLevel returns the signal level derived by the most recent tick.
func (c *Controller) CurrentLevel() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// LeadingEventID returns the ID of the event that set the current level, or
// the empty string when no event is live.
func (c *Controller) LeadingEventID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leading
}

func (c *Controller) run() {
	defer close(c.done)
	log.WithField("interval", c.interval).Info("control loop started")

	for {
		c.tick(time.Now().UTC())

		select {
		case <-c.stop:
			log.Info("control loop exiting")
			return
		case <-c.wake:
		case <-time.After(c.interval):
		}
	}
}

// tick evaluates the stored events as of now, prunes the ended ones, and
// applies the resulting level. The cached level advances even when the
// change callback panics.
func (c *Controller) tick(now time.Time) {
	tickCounter.Inc()

	var events, err = c.source.ActiveEvents()
	if err != nil {
		log.WithError(err).Error("listing active events")
		return
	}

	var level, leading, expired = Select(events, now)

	if len(expired) > 0 {
		log.WithField("events", expired).Info("removing ended events")
		expiredCounter.Add(float64(len(expired)))
		if err = c.source.RemoveEvents(expired...); err != nil {
			log.WithError(err).Error("removing ended events")
		}
	}

	c.mu.Lock()
	var oldLevel = c.level
	c.level = level
	c.leading = leading
	c.mu.Unlock()

	levelGauge.Set(level)
	if oldLevel != level {
		c.fireOnChange(oldLevel, level)
	}
}

func (c *Controller) fireOnChange(oldLevel, newLevel float64) {
	defer func() {
		if r := recover(); r != nil {
			callbackPanicCounter.Inc()
			log.WithField("panic", r).Error("signal change callback panicked")
		}
	}()
	c.onChange(oldLevel, newLevel)
}

// Select folds events into the signal level in effect at |now|. It returns
// the level, the ID of the event supplying it, and the IDs of events whose
// useful life has ended and which should be removed from storage.
//
// An event is live when one of its signal intervals covers now, it is not a
// test event, and a cancellation has not already taken effect. Among live
// events the highest Priority wins; ties go to the earliest visited, so
// callers should order events by start time. When nothing is live the level
// is zero with an empty event ID.
//
// Select alone decides nothing about storage: it only names the ended events
// and leaves mutation to the caller.
func Select(events []*event.Event, now time.Time) (level float64, eventID string, expired []string) {
	var leading *event.Event

	for _, evt := range events {
		if evt.Status == "" {
			continue
		}
		if evt.Status == event.StatusCancelled && now.After(evt.End) {
			expired = append(expired, evt.ID)
			continue
		}
		if len(evt.Signals) == 0 {
			continue
		}

		var idx, err = evt.CurrentInterval(now)
		if err != nil {
			log.WithError(err).WithField("eventID", evt.ID).Warn("skipping unreadable event")
			continue
		}
		if idx < 0 || idx >= len(evt.Signals) {
			if evt.Expired(now) {
				expired = append(expired, evt.ID)
			} else if !evt.Start.After(now) {
				// Started, not ended, yet no interval covers now.
				log.WithFields(log.Fields{
					"eventID":  evt.ID,
					"interval": idx,
				}).Warn("event has no current interval")
			}
			continue
		}
		if evt.TestEvent {
			continue
		}

		if leading == nil || evt.Priority > leading.Priority {
			leading = evt
			level = evt.Signals[idx].Level
		}
	}

	if leading != nil {
		eventID = leading.ID
	}
	return level, eventID, expired
}
