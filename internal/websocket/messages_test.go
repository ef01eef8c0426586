package websocket

import (
	"encoding/json"
	"testing"
)

func TestParseFrame(t *testing.T) {
	frame, err := ParseFrame([]byte(`{"event":"media","sequenceNumber":7,"media":{"payload":"aGk="}}`))
	if err != nil {
		t.Fatalf("ParseFrame failed: %v", err)
	}
	if frame.Event != EventMedia || frame.SequenceNumber != 7 {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	if frame.Media == nil || frame.Media.Payload != "aGk=" {
		t.Fatalf("unexpected media payload: %+v", frame.Media)
	}

	if _, err := ParseFrame([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestOutboundFrames(t *testing.T) {
	data, err := NewMediaFrame("MZ1", "UExBWQ==")
	if err != nil {
		t.Fatalf("NewMediaFrame failed: %v", err)
	}
	var media Frame
	if err := json.Unmarshal(data, &media); err != nil {
		t.Fatalf("unmarshal media frame: %v", err)
	}
	if media.Event != EventMedia || media.StreamSID != "MZ1" || media.Media.Payload != "UExBWQ==" {
		t.Fatalf("unexpected media frame: %+v", media)
	}

	data, err = NewMarkFrame("MZ1", "greeting_done")
	if err != nil {
		t.Fatalf("NewMarkFrame failed: %v", err)
	}
	var mark Frame
	if err := json.Unmarshal(data, &mark); err != nil {
		t.Fatalf("unmarshal mark frame: %v", err)
	}
	if mark.Event != EventMark || mark.Mark.Name != "greeting_done" {
		t.Fatalf("unexpected mark frame: %+v", mark)
	}
}
