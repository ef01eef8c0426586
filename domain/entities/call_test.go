package entities

import (
	"testing"
	"time"
)

func TestNewConversationState(t *testing.T) {
	state := NewConversationState("CA123", "CA123_abcd1234", "+15551234567", "+15557654321")

	if state.Status() != CallStatusInitiated {
		t.Errorf("Expected status %s, got %s", CallStatusInitiated, state.Status())
	}
	if state.CurrentIntent() != IntentUnknown {
		t.Errorf("Expected intent %s, got %s", IntentUnknown, state.CurrentIntent())
	}
	if state.TurnCount() != 0 {
		t.Errorf("Expected no turns, got %d", state.TurnCount())
	}
	if err := state.Validate(); err != nil {
		t.Errorf("Expected valid state, got %v", err)
	}
}

func TestTwilioStreamSIDAccessors(t *testing.T) {
	state := NewConversationState("CA123", "S1", "+15551234567", "+15557654321")

	if state.TwilioStreamSID() != "" {
		t.Errorf("Expected empty stream SID before start, got %s", state.TwilioStreamSID())
	}
	state.SetTwilioStreamSID("MZ123")
	if state.TwilioStreamSID() != "MZ123" {
		t.Errorf("Expected MZ123, got %s", state.TwilioStreamSID())
	}
}

func TestAddTurnUpdatesIntent(t *testing.T) {
	state := NewConversationState("CA123", "S1", "+15551234567", "+15557654321")

	state.AddTurn(SpeakerCaller, "I'd like to book a cleaning", 0.92, IntentBookingAppointment, nil)
	state.AddTurn(SpeakerAssistant, "Of course, when works for you?", 0, IntentUnknown, nil)

	if state.TurnCount() != 2 {
		t.Errorf("Expected 2 turns, got %d", state.TurnCount())
	}
	if state.CurrentIntent() != IntentBookingAppointment {
		t.Errorf("Expected intent to stick at %s, got %s", IntentBookingAppointment, state.CurrentIntent())
	}

	recent := state.RecentTurns(1)
	if len(recent) != 1 || recent[0].Speaker != SpeakerAssistant {
		t.Errorf("Expected last turn from assistant, got %+v", recent)
	}
}

func TestStatusTransitionsAreTerminal(t *testing.T) {
	state := NewConversationState("CA123", "S1", "+15551234567", "+15557654321")

	if err := state.SetStatus(CallStatusInProgress); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := state.SetStatus(CallStatusCompleted); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if state.EndTime == nil {
		t.Fatal("Expected end time to be set on completion")
	}

	firstEnd := *state.EndTime
	if err := state.SetStatus(CallStatusInProgress); err == nil {
		t.Error("Expected error writing status after terminal state")
	}
	if !state.EndTime.Equal(firstEnd) {
		t.Error("End time must be set exactly once")
	}
}

func TestResponseTimeTracking(t *testing.T) {
	state := NewConversationState("CA123", "S1", "+15551234567", "+15557654321")

	if state.AverageResponseTime() != 0 {
		t.Errorf("Expected zero average with no samples, got %f", state.AverageResponseTime())
	}

	state.RecordResponseTime(100)
	state.RecordResponseTime(300)
	if avg := state.AverageResponseTime(); avg != 200 {
		t.Errorf("Expected average 200, got %f", avg)
	}
}

func TestIntentCategories(t *testing.T) {
	cases := []struct {
		intent   Intent
		category IntentCategory
	}{
		{IntentBookingAppointment, CategoryAppointment},
		{IntentReschedulingAppointment, CategoryAppointment},
		{IntentRootCanalInquiry, CategoryDentalService},
		{IntentEmergency, CategoryUrgent},
		{IntentPainComplaint, CategoryUrgent},
		{IntentFeedback, CategoryFeedback},
		{IntentGeneralInquiry, CategoryGeneral},
		{IntentUnknown, CategoryGeneral},
	}

	for _, tc := range cases {
		if got := tc.intent.Category(); got != tc.category {
			t.Errorf("Intent %s: expected category %s, got %s", tc.intent, tc.category, got)
		}
	}
}

func TestCallRecordSnapshot(t *testing.T) {
	state := NewConversationState("CA123", "S1", "+15551234567", "+15557654321")
	state.AddTurn(SpeakerCaller, "hello", 0.9, IntentGeneralInquiry, nil)
	state.RecordResponseTime(150)
	state.IncrementInterruptions()

	if err := state.SetStatus(CallStatusCompleted); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	record := state.Record()
	if record.CallSID != "CA123" || record.StreamID != "S1" {
		t.Errorf("Record identifiers wrong: %+v", record)
	}
	if record.Status != CallStatusCompleted {
		t.Errorf("Expected completed status, got %s", record.Status)
	}
	if record.ConversationTurns != 1 {
		t.Errorf("Expected 1 turn, got %d", record.ConversationTurns)
	}
	if record.AverageResponseTime != 150 {
		t.Errorf("Expected average 150, got %f", record.AverageResponseTime)
	}
	if record.InterruptionCount != 1 {
		t.Errorf("Expected 1 interruption, got %d", record.InterruptionCount)
	}
	if record.DurationSeconds < 0 {
		t.Errorf("Expected non-negative duration, got %f", record.DurationSeconds)
	}
	if record.EndTime == nil || record.EndTime.After(time.Now().UTC().Add(time.Second)) {
		t.Error("Expected end time in the record")
	}
}
