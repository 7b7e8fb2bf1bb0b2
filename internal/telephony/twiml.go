package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder.
// Only the verbs the outbound bridge needs are modeled.
type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlDial struct {
	XMLName  xml.Name `xml:"Dial"`
	CallerID string   `xml:"callerId,attr,omitempty"`
	Record   string   `xml:"record,attr,omitempty"`
	Number   twimlNumber
}

type twimlNumber struct {
	XMLName              xml.Name `xml:"Number"`
	StatusCallback       string   `xml:"statusCallback,attr,omitempty"`
	StatusCallbackEvent  string   `xml:"statusCallbackEvent,attr,omitempty"`
	StatusCallbackMethod string   `xml:"statusCallbackMethod,attr,omitempty"`
	Value                string   `xml:",chardata"`
}

// DialOptions describes the bridge to a prospect.
type DialOptions struct {
	To       string
	CallerID string
	Record   bool

	// StatusCallback receives progress and completion for the dialed leg.
	StatusCallback string
}

// RenderDial renders <Dial><Number>to</Number></Dial>.
func RenderDial(o DialOptions) (string, error) {
	if strings.TrimSpace(o.To) == "" {
		return "", errors.New("telephony: dial target required")
	}
	d := twimlDial{CallerID: o.CallerID, Number: twimlNumber{Value: o.To}}
	if o.Record {
		d.Record = "record-from-answer-dual"
	}
	if o.StatusCallback != "" {
		d.Number.StatusCallback = o.StatusCallback
		d.Number.StatusCallbackEvent = "initiated ringing answered completed"
		d.Number.StatusCallbackMethod = "POST"
	}
	return encodeTwiML(twimlResponse{Verbs: []any{d}})
}

// RenderReject renders <Reject reason="..."/>. Twilio accepts "busy" and "rejected".
func RenderReject(reason string) (string, error) {
	return encodeTwiML(twimlResponse{Verbs: []any{twimlReject{Reason: reason}}})
}

func encodeTwiML(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
