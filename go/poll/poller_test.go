package poll

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voltgrid/oadr2/go/protocol"
)

const distributeResponse = `<oadrDistributeEvent xmlns="http://openadr.org/oadr-2.0a/2012/07" xmlns:ei="http://docs.oasis-open.org/ns/energyinterop/201110" xmlns:pyld="http://docs.oasis-open.org/ns/energyinterop/201110/payloads" xmlns:emix="http://docs.oasis-open.org/ns/emix/2011/06" xmlns:xcal="urn:ietf:params:xml:ns:icalendar-2.0" xmlns:strm="urn:ietf:params:xml:ns:icalendar-2.0:stream">
  <pyld:requestID>REQ_1</pyld:requestID>
  <ei:vtnID>TH_VTN</ei:vtnID>
  <oadrEvent>
    <ei:eiEvent>
      <ei:eventDescriptor>
        <ei:eventID>FooEvent</ei:eventID>
        <ei:modificationNumber>0</ei:modificationNumber>
        <ei:eventStatus>active</ei:eventStatus>
      </ei:eventDescriptor>
      <ei:eiActivePeriod>
        <xcal:properties>
          <xcal:dtstart><xcal:date-time>2025-09-25T15:00:00.000000Z</xcal:date-time></xcal:dtstart>
          <xcal:duration><xcal:duration>PT1H</xcal:duration></xcal:duration>
        </xcal:properties>
      </ei:eiActivePeriod>
      <ei:eiEventSignals>
        <ei:eiEventSignal>
          <strm:intervals>
            <ei:interval>
              <xcal:duration><xcal:duration>PT1H</xcal:duration></xcal:duration>
              <xcal:uid><xcal:text>0</xcal:text></xcal:uid>
              <ei:signalPayload><ei:payloadFloat><ei:value>1.0</ei:value></ei:payloadFloat></ei:signalPayload>
            </ei:interval>
          </strm:intervals>
          <ei:signalName>simple</ei:signalName>
          <ei:signalType>level</ei:signalType>
        </ei:eiEventSignal>
      </ei:eiEventSignals>
      <ei:eiTarget/>
    </ei:eiEvent>
    <oadrResponseRequired>always</oadrResponseRequired>
  </oadrEvent>
</oadrDistributeEvent>`

// fakeVTN records every POST and answers oadrRequestEvent bodies with a
// canned broadcast.
type fakeVTN struct {
	mu      sync.Mutex
	paths   []string
	ctypes  []string
	agents  []string
	bodies  []string
	gotPoll chan struct{}
}

func newFakeVTN() *fakeVTN {
	return &fakeVTN{gotPoll: make(chan struct{}, 16)}
}

func (f *fakeVTN) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body, _ = io.ReadAll(r.Body)

	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	f.ctypes = append(f.ctypes, r.Header.Get("Content-Type"))
	f.agents = append(f.agents, r.Header.Get("User-Agent"))
	f.bodies = append(f.bodies, string(body))
	f.mu.Unlock()

	select {
	case f.gotPoll <- struct{}{}:
	default:
	}

	if strings.Contains(string(body), "oadrRequestEvent") {
		w.Header().Set("Content-Type", "application/xml")
		io.WriteString(w, distributeResponse)
	}
}

func (f *fakeVTN) recorded() (paths, ctypes, agents, bodies []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...),
		append([]string(nil), f.ctypes...),
		append([]string(nil), f.agents...),
		append([]string(nil), f.bodies...)
}

var _ Exchange = (*fakeExchange)(nil)

type fakeExchange struct {
	mu       sync.Mutex
	received []*protocol.DistributeEvent
	reply    *protocol.CreatedEvent
}

func (f *fakeExchange) HandleBroadcast(d *protocol.DistributeEvent) *protocol.CreatedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, d)
	return f.reply
}

func (f *fakeExchange) broadcasts() []*protocol.DistributeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*protocol.DistributeEvent(nil), f.received...)
}

func TestPollerExchange(t *testing.T) {
	var vtn = newFakeVTN()
	var srv = httptest.NewServer(vtn)
	defer srv.Close()

	var exchange = &fakeExchange{
		reply: protocol.NewCreated(protocol.Profile20A, "VEN_ID", []protocol.EventResponse{{
			Code:      200,
			RequestID: "REQ_1",
			EventID:   "FooEvent",
			OptType:   protocol.OptIn,
		}}),
	}
	var p, err = NewPoller(Config{VTN: srv.URL, VenID: "VEN_ID"}, exchange)
	require.NoError(t, err)

	require.NoError(t, p.Exchange(context.Background()))

	var broadcasts = exchange.broadcasts()
	require.Len(t, broadcasts, 1)
	require.Equal(t, "REQ_1", broadcasts[0].RequestID)
	require.Equal(t, "TH_VTN", broadcasts[0].VtnID)
	require.Len(t, broadcasts[0].Events, 1)
	require.Equal(t, "FooEvent", broadcasts[0].Events[0].EiEvent.Descriptor.EventID)
	require.NotNil(t, broadcasts[0].Events[0].EiEvent.Simple())

	var paths, ctypes, agents, bodies = vtn.recorded()
	require.Equal(t, []string{"/OpenADR2/Simple/EiEvent", "/OpenADR2/Simple/EiEvent"}, paths)
	require.Equal(t, []string{"application/xml", "application/xml"}, ctypes)
	require.Equal(t, []string{"oadr2-ven", "oadr2-ven"}, agents)
	require.Contains(t, bodies[0], "<oadr:oadrRequestEvent")
	require.Contains(t, bodies[0], "<ei:venID>VEN_ID</ei:venID>")
	require.Contains(t, bodies[1], "<oadr:oadrCreatedEvent")
	require.Contains(t, bodies[1], "<ei:eventID>FooEvent</ei:eventID>")
}

func TestPollerDoesNotPostWithoutReply(t *testing.T) {
	var vtn = newFakeVTN()
	var srv = httptest.NewServer(vtn)
	defer srv.Close()

	// Trailing slash on the base URI must not double up in the endpoint.
	var p, err = NewPoller(Config{VTN: srv.URL + "/", VenID: "VEN_ID"}, new(fakeExchange))
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/OpenADR2/Simple/EiEvent", p.endpoint)

	require.NoError(t, p.Exchange(context.Background()))

	var paths, _, _, _ = vtn.recorded()
	require.Equal(t, []string{"/OpenADR2/Simple/EiEvent"}, paths)
}

func TestPollerConfigValidation(t *testing.T) {
	var exchange = new(fakeExchange)

	var _, err = NewPoller(Config{VenID: "VEN_ID"}, exchange)
	require.Error(t, err)

	_, err = NewPoller(Config{VTN: "http://vtn.local"}, exchange)
	require.Error(t, err)

	_, err = NewPoller(Config{VTN: "http://vtn.local", VenID: "VEN_ID", Interval: 5 * time.Second}, exchange)
	require.Error(t, err)
	require.Contains(t, err.Error(), "below the 10s minimum")

	_, err = NewPoller(Config{VTN: "http://vtn.local", VenID: "VEN_ID", Profile: "3.0"}, exchange)
	require.Error(t, err)

	p, err := NewPoller(Config{VTN: "http://vtn.local", VenID: "VEN_ID"}, exchange)
	require.NoError(t, err)
	require.Equal(t, DefaultInterval, p.cfg.Interval)
	require.Equal(t, DefaultTimeout, p.cfg.Timeout)
	require.Equal(t, protocol.Profile20A, p.cfg.Profile)
}

func TestPollerSurvivesBadResponses(t *testing.T) {
	var srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "this is not XML")
	}))
	defer srv.Close()

	var exchange = new(fakeExchange)
	var p, err = NewPoller(Config{VTN: srv.URL, VenID: "VEN_ID"}, exchange)
	require.NoError(t, err)

	err = p.Exchange(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "decoding VTN response")
	require.Empty(t, exchange.broadcasts())

	// A 5xx from the VTN is a failed cycle, not a handled broadcast.
	var failing = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "try later", http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	p, err = NewPoller(Config{VTN: failing.URL, VenID: "VEN_ID"}, exchange)
	require.NoError(t, err)

	err = p.Exchange(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")

	// And so is a VTN that is not there at all.
	var gone = httptest.NewServer(http.HandlerFunc(nil))
	var goneURL = gone.URL
	gone.Close()

	p, err = NewPoller(Config{VTN: goneURL, VenID: "VEN_ID"}, exchange)
	require.NoError(t, err)
	require.Error(t, p.Exchange(context.Background()))
}

func TestPollerRunStopsWithContext(t *testing.T) {
	var vtn = newFakeVTN()
	var srv = httptest.NewServer(vtn)
	defer srv.Close()

	var p, err = NewPoller(Config{VTN: srv.URL, VenID: "VEN_ID"}, new(fakeExchange))
	require.NoError(t, err)

	var ctx, cancel = context.WithCancel(context.Background())
	var done = make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case <-vtn.gotPoll:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the first poll")
	}
	cancel()

	select {
	case err = <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Run to exit")
	}
}

func TestJitterStaysWithinBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		var d = jitter(100 * time.Second)
		require.GreaterOrEqual(t, d, 90*time.Second)
		require.LessOrEqual(t, d, 110*time.Second)
	}
}
