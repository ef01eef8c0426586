package websocket

import "encoding/json"

// Media stream frame events, as delivered by the telephony vendor.
const (
	EventStart = "start"
	EventMedia = "media"
	EventStop  = "stop"
	EventMark  = "mark"
)

// Frame is one JSON text frame on the media stream, inbound or outbound.
// Only the fields for the given event are populated.
type Frame struct {
	Event          string        `json:"event"`
	SequenceNumber int           `json:"sequenceNumber,omitempty"`
	StreamSID      string        `json:"streamSid,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Mark           *MarkPayload  `json:"mark,omitempty"`
}

// StartPayload carries the vendor-assigned stream session identifier.
type StartPayload struct {
	StreamSID string `json:"streamSid"`
}

// MediaPayload carries one base64-encoded audio frame.
type MediaPayload struct {
	Payload string `json:"payload"`
}

// MarkPayload names an echo marker used for timing observability.
type MarkPayload struct {
	Name string `json:"name"`
}

// ParseFrame decodes an inbound media stream frame.
func ParseFrame(data []byte) (*Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

// NewMediaFrame builds an outbound media frame addressed by stream SID.
func NewMediaFrame(streamSID, payload string) ([]byte, error) {
	return json.Marshal(Frame{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     &MediaPayload{Payload: payload},
	})
}

// NewMarkFrame builds an outbound mark frame addressed by stream SID.
func NewMarkFrame(streamSID, name string) ([]byte, error) {
	return json.Marshal(Frame{
		Event:     EventMark,
		StreamSID: streamSID,
		Mark:      &MarkPayload{Name: name},
	})
}
