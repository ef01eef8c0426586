package entities

import (
	"errors"
	"sync"
	"time"
)

// CallStatus represents the status of a phone call
type CallStatus string

const (
	CallStatusInitiated    CallStatus = "initiated"
	CallStatusConnected    CallStatus = "connected"
	CallStatusInProgress   CallStatus = "in_progress"
	CallStatusOnHold       CallStatus = "on_hold"
	CallStatusTransferring CallStatus = "transferring"
	CallStatusCompleted    CallStatus = "completed"
	CallStatusFailed       CallStatus = "failed"
)

// IsTerminal reports whether the status permits no further transitions.
func (s CallStatus) IsTerminal() bool {
	return s == CallStatusCompleted || s == CallStatusFailed
}

// Speaker identifies who produced a conversation turn
type Speaker string

const (
	SpeakerCaller    Speaker = "caller"
	SpeakerAssistant Speaker = "assistant"
)

// ConversationTurn represents a single turn in the conversation
type ConversationTurn struct {
	Timestamp  time.Time              `json:"timestamp" bson:"timestamp"`
	Speaker    Speaker                `json:"speaker" bson:"speaker"`
	Text       string                 `json:"text" bson:"text"`
	Confidence float64                `json:"confidence,omitempty" bson:"confidence,omitempty"`
	Intent     Intent                 `json:"intent,omitempty" bson:"intent,omitempty"`
	Entities   map[string]interface{} `json:"entities,omitempty" bson:"entities,omitempty"`
}

// AppointmentContext carries the details collected while booking an appointment
type AppointmentContext struct {
	AppointmentType string     `json:"appointment_type,omitempty" bson:"appointment_type,omitempty"`
	PreferredDate   *time.Time `json:"preferred_date,omitempty" bson:"preferred_date,omitempty"`
	PreferredTime   string     `json:"preferred_time,omitempty" bson:"preferred_time,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty" bson:"duration_minutes,omitempty"`
	PatientName     string     `json:"patient_name,omitempty" bson:"patient_name,omitempty"`
	PatientPhone    string     `json:"patient_phone,omitempty" bson:"patient_phone,omitempty"`
	Reason          string     `json:"reason,omitempty" bson:"reason,omitempty"`
	Notes           string     `json:"notes,omitempty" bson:"notes,omitempty"`
	Confirmed       bool       `json:"confirmed" bson:"confirmed"`
}

// ConversationState is the logical record of one phone call. It is created
// when the inbound-call webhook fires and shared between the registry and the
// media session. Turns are appended from the session's processing goroutines,
// so all mutating accessors take the internal mutex.
type ConversationState struct {
	CallSID    string
	StreamID   string
	FromNumber string
	ToNumber   string
	ClientID   string

	StartTime time.Time
	EndTime   *time.Time

	mu sync.Mutex

	// twilioStreamSID is assigned by the vendor when the media stream starts
	// and is required to address outbound frames. The receive goroutine sets
	// it while the orchestration goroutine reads it.
	twilioStreamSID     string
	status              CallStatus
	conversationHistory []ConversationTurn
	currentIntent       Intent
	appointment         AppointmentContext
	isOnHold            bool
	transferTarget      string
	responseTimes       []float64
	interruptionCount   int
}

// NewConversationState initializes state for a freshly notified call.
func NewConversationState(callSID, streamID, fromNumber, toNumber string) *ConversationState {
	return &ConversationState{
		CallSID:       callSID,
		StreamID:      streamID,
		FromNumber:    fromNumber,
		ToNumber:      toNumber,
		StartTime:     time.Now().UTC(),
		status:        CallStatusInitiated,
		currentIntent: IntentUnknown,
	}
}

// AddTurn appends a turn to the conversation history and, when a concrete
// intent is supplied, promotes it to the current intent.
func (s *ConversationState) AddTurn(speaker Speaker, text string, confidence float64, intent Intent, extracted map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversationHistory = append(s.conversationHistory, ConversationTurn{
		Timestamp:  time.Now().UTC(),
		Speaker:    speaker,
		Text:       text,
		Confidence: confidence,
		Intent:     intent,
		Entities:   extracted,
	})

	if intent != "" && intent != IntentUnknown {
		s.currentIntent = intent
	}
}

// RecentTurns returns up to n of the latest conversation turns.
func (s *ConversationState) RecentTurns(n int) []ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || len(s.conversationHistory) == 0 {
		return nil
	}
	start := len(s.conversationHistory) - n
	if start < 0 {
		start = 0
	}
	out := make([]ConversationTurn, len(s.conversationHistory)-start)
	copy(out, s.conversationHistory[start:])
	return out
}

// TurnCount returns the number of recorded turns.
func (s *ConversationState) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversationHistory)
}

// SetTwilioStreamSID records the vendor-assigned stream session identifier.
func (s *ConversationState) SetTwilioStreamSID(sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.twilioStreamSID = sid
}

// TwilioStreamSID returns the vendor-assigned stream session identifier, or
// empty before the start frame arrives.
func (s *ConversationState) TwilioStreamSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.twilioStreamSID
}

// Status returns the current call status.
func (s *ConversationState) Status() CallStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus transitions the call status. Completed and failed are terminal;
// writes after reaching them are rejected. The end timestamp is set exactly
// once, when the call completes.
func (s *ConversationState) SetStatus(status CallStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.IsTerminal() {
		return errors.New("call status is terminal")
	}
	s.status = status
	if status == CallStatusCompleted && s.EndTime == nil {
		now := time.Now().UTC()
		s.EndTime = &now
	}
	return nil
}

// CurrentIntent returns the most recently detected intent.
func (s *ConversationState) CurrentIntent() Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentIntent
}

// Appointment returns a copy of the appointment context.
func (s *ConversationState) Appointment() AppointmentContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appointment
}

// UpdateAppointment applies a mutation to the appointment context.
func (s *ConversationState) UpdateAppointment(update func(*AppointmentContext)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	update(&s.appointment)
}

// PutOnHold marks the call as held.
func (s *ConversationState) PutOnHold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isOnHold = true
}

// ResumeFromHold clears the hold flag.
func (s *ConversationState) ResumeFromHold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isOnHold = false
}

// IsOnHold reports whether the call is currently held.
func (s *ConversationState) IsOnHold() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isOnHold
}

// SetTransferTarget records where the call is being transferred.
func (s *ConversationState) SetTransferTarget(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transferTarget = target
}

// RecordResponseTime accumulates a response-time sample in milliseconds.
func (s *ConversationState) RecordResponseTime(ms float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responseTimes = append(s.responseTimes, ms)
}

// AverageResponseTime returns the mean of recorded response times, or zero.
func (s *ConversationState) AverageResponseTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.responseTimes) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s.responseTimes {
		sum += v
	}
	return sum / float64(len(s.responseTimes))
}

// IncrementInterruptions bumps the barge-in counter.
func (s *ConversationState) IncrementInterruptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptionCount++
}

// InterruptionCount returns how many times the caller interrupted.
func (s *ConversationState) InterruptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interruptionCount
}

// CallDuration returns how long the call has been (or was) active.
func (s *ConversationState) CallDuration() time.Duration {
	end := time.Now().UTC()
	if s.EndTime != nil {
		end = *s.EndTime
	}
	return end.Sub(s.StartTime)
}

// Validate checks the state's required identifiers.
func (s *ConversationState) Validate() error {
	if s.CallSID == "" {
		return errors.New("call_sid is required")
	}
	if s.StreamID == "" {
		return errors.New("stream_id is required")
	}
	return nil
}

// Record produces a serializable summary of the call, suitable for archiving
// and for the diagnostics API.
func (s *ConversationState) Record() *CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &CallRecord{
		CallSID:             s.CallSID,
		StreamID:            s.StreamID,
		FromNumber:          s.FromNumber,
		ToNumber:            s.ToNumber,
		ClientID:            s.ClientID,
		StartTime:           s.StartTime,
		EndTime:             s.EndTime,
		Status:              s.status,
		DurationSeconds:     s.lockedDuration().Seconds(),
		CurrentIntent:       s.currentIntent,
		IntentCategory:      s.currentIntent.Category(),
		Appointment:         s.appointment,
		ConversationTurns:   len(s.conversationHistory),
		AverageResponseTime: s.lockedAverageResponseTime(),
		InterruptionCount:   s.interruptionCount,
	}
}

func (s *ConversationState) lockedDuration() time.Duration {
	end := time.Now().UTC()
	if s.EndTime != nil {
		end = *s.EndTime
	}
	return end.Sub(s.StartTime)
}

func (s *ConversationState) lockedAverageResponseTime() float64 {
	if len(s.responseTimes) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s.responseTimes {
		sum += v
	}
	return sum / float64(len(s.responseTimes))
}

// CallRecord is the persisted summary of a call.
type CallRecord struct {
	CallSID             string             `json:"call_sid" bson:"call_sid"`
	StreamID            string             `json:"stream_id" bson:"stream_id"`
	FromNumber          string             `json:"from_number" bson:"from_number"`
	ToNumber            string             `json:"to_number" bson:"to_number"`
	ClientID            string             `json:"client_id,omitempty" bson:"client_id,omitempty"`
	StartTime           time.Time          `json:"start_time" bson:"start_time"`
	EndTime             *time.Time         `json:"end_time,omitempty" bson:"end_time,omitempty"`
	Status              CallStatus         `json:"status" bson:"status"`
	DurationSeconds     float64            `json:"duration_seconds" bson:"duration_seconds"`
	CurrentIntent       Intent             `json:"current_intent" bson:"current_intent"`
	IntentCategory      IntentCategory     `json:"intent_category" bson:"intent_category"`
	Appointment         AppointmentContext `json:"appointment_context" bson:"appointment_context"`
	ConversationTurns   int                `json:"conversation_turns" bson:"conversation_turns"`
	AverageResponseTime float64            `json:"average_response_time" bson:"average_response_time"`
	InterruptionCount   int                `json:"interruption_count" bson:"interruption_count"`
}
