package protocol

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// DistributeEvent is a decoded oadrDistributeEvent broadcast. Leaf values
// stay as strings: one event with an illegible number must not poison the
// rest of the broadcast, so numeric conversion is deferred to per-event
// handling.
type DistributeEvent struct {
	XMLName   xml.Name    `xml:"oadrDistributeEvent"`
	RequestID string      `xml:"requestID"`
	VtnID     string      `xml:"vtnID"`
	Events    []OadrEvent `xml:"oadrEvent"`
}

// OadrEvent pairs one event descriptor with its response directive.
type OadrEvent struct {
	ResponseRequired string  `xml:"oadrResponseRequired"`
	EiEvent          EiEvent `xml:"eiEvent"`
}

// EiEvent is the event body of a broadcast entry.
type EiEvent struct {
	Descriptor   EventDescriptor `xml:"eventDescriptor"`
	ActivePeriod ActivePeriod    `xml:"eiActivePeriod"`
	Signals      []EventSignal   `xml:"eiEventSignals>eiEventSignal"`
	Target       Target          `xml:"eiTarget"`
}

// EventDescriptor identifies an event and its revision.
type EventDescriptor struct {
	EventID       string `xml:"eventID"`
	ModNumber     string `xml:"modificationNumber"`
	Priority      string `xml:"priority"`
	MarketContext string `xml:"eiMarketContext>marketContext"`
	Status        string `xml:"eventStatus"`
	TestEvent     string `xml:"testEvent"`
}

// ActivePeriod carries the scheduled window of an event.
type ActivePeriod struct {
	Start      string `xml:"properties>dtstart>date-time"`
	Duration   string `xml:"properties>duration>duration"`
	StartAfter string `xml:"properties>tolerance>tolerate>startafter"`
}

// EventSignal is one signal stream of an event.
type EventSignal struct {
	Name      string           `xml:"signalName"`
	Type      string           `xml:"signalType"`
	Intervals []SignalInterval `xml:"intervals>interval"`
}

// SignalInterval is one segment of a signal stream. UID carries the
// interval's index.
type SignalInterval struct {
	Duration string `xml:"duration>duration"`
	UID      string `xml:"uid>text"`
	Value    string `xml:"signalPayload>payloadFloat>value"`
}

// Target lists the audience selectors of an event.
type Target struct {
	VenIDs      []string `xml:"venID"`
	GroupIDs    []string `xml:"groupID"`
	ResourceIDs []string `xml:"resourceID"`
	PartyIDs    []string `xml:"partyID"`
}

// Simple returns the event's "simple" signal, or nil when the event carries
// none with a valid signal type. When several qualify the last one wins.
func (e *EiEvent) Simple() *EventSignal {
	var simple *EventSignal
	for i := range e.Signals {
		var s = &e.Signals[i]
		if s.Name == "simple" && SimpleSignalTypes[s.Type] {
			simple = s
		}
	}
	return simple
}

// envelope is the 2.0b document wrapper.
type envelope struct {
	XMLName    xml.Name        `xml:"oadrPayload"`
	Distribute DistributeEvent `xml:"oadrSignedObject>oadrDistributeEvent"`
}

// ParseDistribute decodes a broadcast document. It accepts a bare
// oadrDistributeEvent root (2.0a) or one wrapped in an oadrPayload envelope
// (2.0b); element matching is namespace-agnostic so either profile decodes.
func ParseDistribute(data []byte) (*DistributeEvent, error) {
	var root, err = rootName(data)
	if err != nil {
		return nil, err
	}

	switch root.Local {
	case "oadrDistributeEvent":
		var d DistributeEvent
		if err = xml.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("decoding oadrDistributeEvent: %w", err)
		}
		return &d, nil
	case "oadrPayload":
		var env envelope
		if err = xml.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("decoding oadrPayload envelope: %w", err)
		}
		return &env.Distribute, nil
	default:
		return nil, fmt.Errorf("unexpected root element %q", root.Local)
	}
}

func rootName(data []byte) (xml.Name, error) {
	var dec = xml.NewDecoder(bytes.NewReader(data))
	for {
		var tok, err = dec.Token()
		if err != nil {
			return xml.Name{}, fmt.Errorf("reading document: %w", err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name, nil
		}
	}
}
