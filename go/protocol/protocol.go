// Package protocol implements the OpenADR 2.0 XML payloads a VEN exchanges
// with its VTN: decoding oadrDistributeEvent broadcasts and encoding the
// oadrCreatedEvent and oadrRequestEvent documents sent back.
package protocol

import "fmt"

// Profile selects the OpenADR 2.0 profile, which determines the oadr
// namespace of encoded payloads. Both profiles share the remaining
// namespaces, so a single decoder serves either.
type Profile string

const (
	Profile20A Profile = "2.0a"
	Profile20B Profile = "2.0b"
)

// Validate returns an error if the Profile is not a known profile level.
func (p Profile) Validate() error {
	switch p {
	case Profile20A, Profile20B:
		return nil
	default:
		return fmt.Errorf("unknown OpenADR profile %q (expected 2.0a or 2.0b)", string(p))
	}
}

// Namespace returns the oadr namespace URI of payloads at this profile.
func (p Profile) Namespace() string {
	if p == Profile20B {
		return nsOadrB
	}
	return nsOadrA
}

const (
	nsOadrA = "http://openadr.org/oadr-2.0a/2012/07"
	nsOadrB = "http://openadr.org/oadr-2.0b/2012/07"
	nsPyld  = "http://docs.oasis-open.org/ns/energyinterop/201110/payloads"
	nsEi    = "http://docs.oasis-open.org/ns/energyinterop/201110"
	nsEmix  = "http://docs.oasis-open.org/ns/emix/2011/06"
	nsXcal  = "urn:ietf:params:xml:ns:icalendar-2.0"
	nsStrm  = "urn:ietf:params:xml:ns:icalendar-2.0:stream"
)

// Valid signal types of the "simple" signal stream. Events whose signals
// carry none of these are rejected during ingest.
var SimpleSignalTypes = map[string]bool{
	"level":    true,
	"price":    true,
	"delta":    true,
	"setpoint": true,
}

// Opt decisions reported back to the VTN per event.
const (
	OptIn  = "optIn"
	OptOut = "optOut"
)

// Response directives a broadcast may attach to each event.
const (
	ResponseAlways = "always"
	ResponseNever  = "never"
)
