package ven

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voltgrid/oadr2/go/event"
	"github.com/voltgrid/oadr2/go/eventdb"
	"github.com/voltgrid/oadr2/go/ingest"
	"github.com/voltgrid/oadr2/go/protocol"
	"github.com/voltgrid/oadr2/go/schedule"
)

func TestServiceLifecycle(t *testing.T) {
	var store = eventdb.NewMemory()
	var changes = make(chan [2]float64, 8)

	var svc, err = NewService(Config{
		Config:          ingest.Config{VenID: "VEN_ID"},
		ControlInterval: time.Hour,
	}, store, func(oldLevel, newLevel float64) {
		changes <- [2]float64{oldLevel, newLevel}
	})
	require.NoError(t, err)

	svc.Start()
	svc.Start() // no-op

	var reply = svc.Handler().HandleBroadcast(broadcast(eventEntry("FooEvent", 2.0)))
	require.NotNil(t, reply)
	require.Equal(t, 200, reply.Code)
	require.Equal(t, protocol.OptIn, reply.Responses[0].OptType)

	// The handler's wake hook nudges the loop, so the change lands well
	// before the hour-long cadence would.
	require.Equal(t, [2]float64{0, 2}, waitChange(t, changes))

	var level, eventID, lvlErr = svc.CurrentSignalLevel()
	require.NoError(t, lvlErr)
	require.Equal(t, 2.0, level)
	require.Equal(t, "FooEvent", eventID)

	svc.Stop()
	svc.Stop() // idempotent
}

func TestCurrentSignalLevelDoesNotPrune(t *testing.T) {
	var store = eventdb.NewMemory()
	var svc, err = NewService(Config{
		Config: ingest.Config{VenID: "VEN_ID"},
	}, store, nil)
	require.NoError(t, err)

	// A cancellation whose tail has run out: a control tick would remove
	// it, an on-demand read must not.
	var now = time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.Add(&event.Event{
		ID:      "GoneEvent",
		Status:  event.StatusCancelled,
		Start:   now.Add(-2 * time.Hour),
		End:     now.Add(-time.Hour),
		Signals: []event.Interval{{Index: 0, Duration: "PT2H", Level: 3}},
	}))

	var level, eventID, lvlErr = svc.CurrentSignalLevel()
	require.NoError(t, lvlErr)
	require.Equal(t, 0.0, level)
	require.Equal(t, "", eventID)

	var kept, getErr = store.Get("GoneEvent")
	require.NoError(t, getErr)
	require.NotNil(t, kept)
}

func TestNewServiceRequiresVenID(t *testing.T) {
	var _, err = NewService(Config{}, eventdb.NewMemory(), nil)
	require.Error(t, err)
}

func waitChange(t *testing.T, changes <-chan [2]float64) [2]float64 {
	t.Helper()
	select {
	case c := <-changes:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a level change")
		return [2]float64{}
	}
}

func broadcast(events ...protocol.OadrEvent) *protocol.DistributeEvent {
	return &protocol.DistributeEvent{
		RequestID: "OadrDisReq092520_152645_178",
		VtnID:     "TH_VTN",
		Events:    events,
	}
}

func eventEntry(id string, level float64) protocol.OadrEvent {
	return protocol.OadrEvent{
		ResponseRequired: protocol.ResponseAlways,
		EiEvent: protocol.EiEvent{
			Descriptor: protocol.EventDescriptor{
				EventID:   id,
				ModNumber: "0",
				Status:    "active",
			},
			ActivePeriod: protocol.ActivePeriod{
				Start: schedule.FormatDatetime(time.Now().UTC().Add(-time.Minute)),
			},
			Signals: []protocol.EventSignal{{
				Name: "simple",
				Type: "level",
				Intervals: []protocol.SignalInterval{{
					Duration: "PT1H",
					UID:      "0",
					Value:    strconv.FormatFloat(level, 'f', 1, 64),
				}},
			}},
		},
	}
}
