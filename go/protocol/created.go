package protocol

import (
	"encoding/xml"
	"fmt"
	"strconv"
)

// EventResponse is the per-event acknowledgement inside an oadrCreatedEvent.
// RequestID echoes the broadcast's request ID so the VTN can correlate it.
type EventResponse struct {
	Code      int
	RequestID string
	EventID   string
	ModNumber int
	OptType   string
}

// CreatedEvent is the reply a VEN returns for a broadcast: a top-level
// response code plus one EventResponse per event that demanded one. The
// top-level request ID is always transmitted empty; the counterparty reads
// request IDs from the per-event entries.
type CreatedEvent struct {
	Profile     Profile
	VenID       string
	Code        int
	Description string
	Responses   []EventResponse
}

// NewCreated builds a successful reply carrying the given event responses.
func NewCreated(profile Profile, venID string, responses []EventResponse) *CreatedEvent {
	return &CreatedEvent{
		Profile:   profile,
		VenID:     venID,
		Code:      200,
		Responses: responses,
	}
}

// NewErrorResponse builds a broadcast-level rejection with no per-event
// responses, such as the 400 returned for an unknown VTN.
func NewErrorResponse(profile Profile, venID string, code int, description string) *CreatedEvent {
	return &CreatedEvent{
		Profile:     profile,
		VenID:       venID,
		Code:        code,
		Description: description,
	}
}

type createdEventXML struct {
	XMLName   xml.Name     `xml:"oadr:oadrCreatedEvent"`
	XmlnsOadr string       `xml:"xmlns:oadr,attr"`
	XmlnsPyld string       `xml:"xmlns:pyld,attr"`
	XmlnsEi   string       `xml:"xmlns:ei,attr"`
	Created   eiCreatedXML `xml:"pyld:eiCreatedEvent"`
}

type eiCreatedXML struct {
	Response  eiResponseXML      `xml:"ei:eiResponse"`
	Responses *eventResponsesXML `xml:"ei:eventResponses,omitempty"`
	VenID     string             `xml:"ei:venID"`
}

type eiResponseXML struct {
	Code        string `xml:"ei:responseCode"`
	Description string `xml:"ei:responseDescription,omitempty"`
	RequestID   string `xml:"pyld:requestID"`
}

type eventResponsesXML struct {
	Responses []eventResponseXML `xml:"ei:eventResponse"`
}

type eventResponseXML struct {
	Code      string              `xml:"ei:responseCode"`
	RequestID string              `xml:"pyld:requestID"`
	Qualified qualifiedEventIDXML `xml:"ei:qualifiedEventID"`
	OptType   string              `xml:"ei:optType"`
}

type qualifiedEventIDXML struct {
	EventID   string `xml:"ei:eventID"`
	ModNumber string `xml:"ei:modificationNumber"`
}

// Marshal encodes the reply with the profile's oadr namespace.
func (c *CreatedEvent) Marshal() ([]byte, error) {
	var doc = createdEventXML{
		XmlnsOadr: c.Profile.Namespace(),
		XmlnsPyld: nsPyld,
		XmlnsEi:   nsEi,
	}
	doc.Created.Response = eiResponseXML{
		Code:        strconv.Itoa(c.Code),
		Description: c.Description,
	}
	doc.Created.VenID = c.VenID

	if len(c.Responses) != 0 {
		var list = new(eventResponsesXML)
		for _, r := range c.Responses {
			list.Responses = append(list.Responses, eventResponseXML{
				Code:      strconv.Itoa(r.Code),
				RequestID: r.RequestID,
				Qualified: qualifiedEventIDXML{
					EventID:   r.EventID,
					ModNumber: strconv.Itoa(r.ModNumber),
				},
				OptType: r.OptType,
			})
		}
		doc.Created.Responses = list
	}

	var out, err = xml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("encoding oadrCreatedEvent: %w", err)
	}
	return out, nil
}
