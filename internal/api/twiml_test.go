package api

import (
	"encoding/xml"
	"strings"
	"testing"
)

func TestStreamingResponseRender(t *testing.T) {
	doc := streamingResponse("Hello there.", "wss://example.com/media-stream/CA1_ab", "CA1_ab", "CA1")
	body, err := doc.Render()
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	rendered := string(body)
	if !strings.HasPrefix(rendered, xml.Header) {
		t.Error("expected XML declaration")
	}

	var parsed TwiML
	if err := xml.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("rendered document is not valid XML: %v", err)
	}
	if parsed.Say == nil || parsed.Say.Text != "Hello there." {
		t.Fatalf("unexpected Say verb: %+v", parsed.Say)
	}
	if parsed.Connect == nil || parsed.Connect.Stream == nil {
		t.Fatal("expected Connect/Stream verbs")
	}
	if parsed.Connect.Stream.URL != "wss://example.com/media-stream/CA1_ab" {
		t.Errorf("unexpected stream URL: %s", parsed.Connect.Stream.URL)
	}
	if len(parsed.Connect.Stream.Parameters) != 2 {
		t.Fatalf("expected two stream parameters, got %d", len(parsed.Connect.Stream.Parameters))
	}
	if parsed.Hangup != nil {
		t.Error("streaming response must not hang up")
	}
}

func TestStreamingResponseDefaultGreeting(t *testing.T) {
	doc := streamingResponse("", "wss://example.com/s", "s", "CA1")
	if doc.Say.Text != defaultGreeting {
		t.Errorf("expected default greeting, got %q", doc.Say.Text)
	}
}

func TestErrorResponseHangsUp(t *testing.T) {
	body, err := errorResponse().Render()
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	var parsed TwiML
	if err := xml.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("rendered document is not valid XML: %v", err)
	}
	if parsed.Hangup == nil {
		t.Error("error response must hang up")
	}
	if parsed.Connect != nil {
		t.Error("error response must not connect a stream")
	}
}
