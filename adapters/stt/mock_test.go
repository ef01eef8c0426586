package stt

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestMockBridgeEmitsScriptedUtterances(t *testing.T) {
	bridge := NewMockBridge(zap.NewNop())
	if err := bridge.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// One second of audio triggers the first scripted line.
	chunk := make([]byte, 3200)
	for i := 0; i < 5; i++ {
		if err := bridge.SendAudio(chunk); err != nil {
			t.Fatalf("SendAudio failed: %v", err)
		}
	}

	select {
	case transcript := <-bridge.Transcripts():
		if !transcript.IsFinal || transcript.Text == "" {
			t.Fatalf("unexpected transcript: %+v", transcript)
		}
	default:
		t.Fatal("expected a transcript after one second of audio")
	}

	if err := bridge.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if _, ok := <-bridge.Transcripts(); ok {
		t.Fatal("expected transcript channel closed after disconnect")
	}
}

func TestMockBridgeRejectsAudioWhenDisconnected(t *testing.T) {
	bridge := NewMockBridge(zap.NewNop())
	if err := bridge.SendAudio([]byte{1, 2}); err == nil {
		t.Fatal("expected error before connect")
	}
}

func TestMockBridgeDisconnectIdempotent(t *testing.T) {
	bridge := NewMockBridge(zap.NewNop())
	_ = bridge.Connect(context.Background())
	if err := bridge.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if err := bridge.Disconnect(context.Background()); err != nil {
		t.Fatalf("second Disconnect failed: %v", err)
	}
}
