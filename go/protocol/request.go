package protocol

import (
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// RequestEvent is the oadrRequestEvent document a VEN posts to ask the VTN
// for pending events.
type RequestEvent struct {
	Profile    Profile
	RequestID  string
	VenID      string
	ReplyLimit int
}

// NewRequestEvent builds a poll request with a fresh request ID.
func NewRequestEvent(profile Profile, venID string) *RequestEvent {
	return &RequestEvent{
		Profile:    profile,
		RequestID:  uuid.NewString(),
		VenID:      venID,
		ReplyLimit: 99,
	}
}

type requestEventXML struct {
	XMLName   xml.Name       `xml:"oadr:oadrRequestEvent"`
	XmlnsOadr string         `xml:"xmlns:oadr,attr"`
	XmlnsPyld string         `xml:"xmlns:pyld,attr"`
	XmlnsEi   string         `xml:"xmlns:ei,attr"`
	Request   eiRequestEvent `xml:"pyld:eiRequestEvent"`
}

type eiRequestEvent struct {
	RequestID  string `xml:"pyld:requestID"`
	VenID      string `xml:"ei:venID"`
	ReplyLimit string `xml:"pyld:replyLimit"`
}

// Marshal encodes the request with the profile's oadr namespace.
func (r *RequestEvent) Marshal() ([]byte, error) {
	var doc = requestEventXML{
		XmlnsOadr: r.Profile.Namespace(),
		XmlnsPyld: nsPyld,
		XmlnsEi:   nsEi,
		Request: eiRequestEvent{
			RequestID:  r.RequestID,
			VenID:      r.VenID,
			ReplyLimit: strconv.Itoa(r.ReplyLimit),
		},
	}
	var out, err = xml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("encoding oadrRequestEvent: %w", err)
	}
	return out, nil
}
