// Package ven assembles the VEN runtime: one event store, the broadcast
// handler that feeds it, and the control loop that acts on it.
package ven

import (
	"fmt"
	"time"

	"github.com/voltgrid/oadr2/go/control"
	"github.com/voltgrid/oadr2/go/eventdb"
	"github.com/voltgrid/oadr2/go/ingest"
)

// Config carries the handler's identity configuration plus the control loop
// cadence.
type Config struct {
	ingest.Config
	// ControlInterval is how often the control loop re-evaluates between
	// nudges. Zero selects control.DefaultInterval.
	ControlInterval time.Duration
}

// Service owns a Handler and a Controller wired back-to-back: every store
// mutation the handler makes nudges the controller awake.
type Service struct {
	handler    *ingest.Handler
	controller *control.Controller
}

var _ control.EventSource = (*ingest.Handler)(nil)

// NewService builds the handler and control loop over |store|. The loop is
// not running until Start. A nil onChange falls back to logging transitions.
func NewService(cfg Config, store eventdb.Store, onChange func(oldLevel, newLevel float64)) (*Service, error) {
	// The handler wakes the controller, and the controller reads events
	// through the handler. The closure breaks the construction cycle.
	var controller *control.Controller
	var handler, err = ingest.NewHandler(cfg.Config, store, func() {
		if controller != nil {
			controller.Nudge()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("building event handler: %w", err)
	}
	controller = control.NewController(handler, cfg.ControlInterval, onChange)

	return &Service{handler: handler, controller: controller}, nil
}

// Start launches the control loop. Further calls are no-ops.
func (s *Service) Start() {
	s.controller.Start()
}

// Stop halts the control loop and waits briefly for it to exit. It may be
// called multiple times.
func (s *Service) Stop() {
	s.controller.Stop()
}

// Nudge asks the control loop to re-evaluate without waiting for its next
// cadence tick.
func (s *Service) Nudge() {
	s.controller.Nudge()
}

// Handler returns the broadcast handler for a carrier to call.
func (s *Service) Handler() *ingest.Handler {
	return s.handler
}

// CurrentSignalLevel derives the signal level in effect right now, outside
// the control loop's cadence. It neither prunes ended events nor moves the
// loop's cached level.
func (s *Service) CurrentSignalLevel() (float64, string, error) {
	var events, err = s.handler.ActiveEvents()
	if err != nil {
		return 0, "", fmt.Errorf("listing active events: %w", err)
	}
	var level, eventID, _ = control.Select(events, time.Now().UTC())
	return level, eventID, nil
}
