package api

import "encoding/xml"

// TwiML is the voice response document returned to the telephony vendor.
type TwiML struct {
	XMLName xml.Name `xml:"Response"`
	Say     *Say     `xml:"Say,omitempty"`
	Connect *Connect `xml:"Connect,omitempty"`
	Hangup  *Hangup  `xml:"Hangup,omitempty"`
}

// Say speaks a message to the caller.
type Say struct {
	Voice    string `xml:"voice,attr,omitempty"`
	Language string `xml:"language,attr,omitempty"`
	Text     string `xml:",chardata"`
}

// Connect opens a bidirectional media stream for the rest of the call.
type Connect struct {
	Stream *Stream `xml:"Stream"`
}

// Stream points the vendor at our media stream endpoint.
type Stream struct {
	URL        string            `xml:"url,attr"`
	Parameters []StreamParameter `xml:"Parameter,omitempty"`
}

// StreamParameter is custom metadata echoed back on the stream's start frame.
type StreamParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// Hangup ends the call.
type Hangup struct{}

// Render serializes the document with the XML declaration the vendor expects.
func (t *TwiML) Render() ([]byte, error) {
	body, err := xml.Marshal(t)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

const defaultGreeting = "Thank you for calling. How may I assist you today?"

// streamingResponse greets the caller and connects the media stream.
func streamingResponse(greeting, streamURL, streamID, callSID string) *TwiML {
	if greeting == "" {
		greeting = defaultGreeting
	}
	return &TwiML{
		Say: &Say{Voice: "alice", Language: "en-US", Text: greeting},
		Connect: &Connect{
			Stream: &Stream{
				URL: streamURL,
				Parameters: []StreamParameter{
					{Name: "streamId", Value: streamID},
					{Name: "callSid", Value: callSID},
				},
			},
		},
	}
}

// errorResponse apologizes and hangs up. Returned when call setup fails.
func errorResponse() *TwiML {
	return &TwiML{
		Say: &Say{
			Voice: "alice",
			Text:  "We're experiencing technical difficulties. Please try again later.",
		},
		Hangup: &Hangup{},
	}
}
