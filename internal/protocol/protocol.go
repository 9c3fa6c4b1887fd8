// Package protocol builds the markup documents returned to the
// telephony carrier. It is a pure instruction algebra: handlers append
// structured instructions to a Response and Render emits the document.
// No provider SDK dependency and no state.
package protocol

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"strings"
)

// DefaultDialTimeout is applied when a dial instruction carries no
// explicit timeout.
const DefaultDialTimeout = 30

// Response is an ordered list of call-control instructions.
type Response struct {
	verbs []any
}

type xmlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type xmlDial struct {
	XMLName xml.Name `xml:"Dial"`
	Timeout string   `xml:"timeout,attr,omitempty"`
	Trunk   string   `xml:"trunk,attr,omitempty"`
	Targets []xmlSip `xml:"Sip"`
	Number  string   `xml:"Number,omitempty"`
}

type xmlSip struct {
	URI string `xml:",chardata"`
}

type xmlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type xmlGather struct {
	XMLName xml.Name `xml:"Gather"`
	Action  string   `xml:"action,attr"`
	Method  string   `xml:"method,attr"`
	Say     *xmlSay  `xml:"Say,omitempty"`
}

type xmlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type xmlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type xmlRedirect struct {
	XMLName xml.Name `xml:"Redirect"`
	URL     string   `xml:",chardata"`
}

// New creates an empty response.
func New() *Response {
	return &Response{}
}

// Dial appends a single-target dial. A sip: or internal address is
// emitted as a Sip target; anything else is treated as a PSTN number.
// An optional trunk name restricts which outbound trunk carries the
// call.
func (r *Response) Dial(address string, timeoutSeconds int, trunk string) *Response {
	d := xmlDial{Timeout: timeoutAttr(timeoutSeconds), Trunk: trunk}
	if isSessionAddress(address) {
		d.Targets = []xmlSip{{URI: address}}
	} else {
		d.Number = address
	}
	r.verbs = append(r.verbs, d)
	return r
}

// DialMany appends a simultaneous dial of all addresses; the first leg
// to answer wins.
func (r *Response) DialMany(addresses []string, timeoutSeconds int) *Response {
	d := xmlDial{Timeout: timeoutAttr(timeoutSeconds)}
	for _, a := range addresses {
		d.Targets = append(d.Targets, xmlSip{URI: a})
	}
	r.verbs = append(r.verbs, d)
	return r
}

// Say appends a spoken announcement.
func (r *Response) Say(text string) *Response {
	r.verbs = append(r.verbs, xmlSay{Text: text})
	return r
}

// Gather appends a digit-collection prompt. Collected digits are
// posted back to callbackURL as the next turn.
func (r *Response) Gather(promptText, callbackURL string) *Response {
	g := xmlGather{Action: callbackURL, Method: "POST"}
	if promptText != "" {
		g.Say = &xmlSay{Text: promptText}
	}
	r.verbs = append(r.verbs, g)
	return r
}

// Hangup appends a terminal hangup.
func (r *Response) Hangup() *Response {
	r.verbs = append(r.verbs, xmlHangup{})
	return r
}

// Busy appends an optional announcement followed by a busy rejection.
func (r *Response) Busy(message string) *Response {
	if message != "" {
		r.verbs = append(r.verbs, xmlSay{Text: message})
	}
	r.verbs = append(r.verbs, xmlReject{Reason: "busy"})
	return r
}

// Voicemail appends a redirect into the voicemail service.
func (r *Response) Voicemail() *Response {
	r.verbs = append(r.verbs, xmlRedirect{URL: "/voicemail"})
	return r
}

// Render serializes the response. Rendering is deterministic: the same
// instruction list always yields byte-identical output.
func (r *Response) Render() (string, error) {
	doc := xmlResponse{Verbs: r.verbs}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// isSessionAddress reports whether address is a session-layer target
// rather than a PSTN number.
func isSessionAddress(address string) bool {
	lower := strings.ToLower(address)
	return strings.HasPrefix(lower, "sip:") || strings.HasPrefix(lower, "sips:")
}

func timeoutAttr(seconds int) string {
	if seconds <= 0 {
		seconds = DefaultDialTimeout
	}
	return strconv.Itoa(seconds)
}
