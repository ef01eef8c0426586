package api

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/siphio/phone-receptionist/server/domain/entities"
	"github.com/siphio/phone-receptionist/server/domain/repositories"
	"github.com/siphio/phone-receptionist/server/internal/websocket"
)

type fakeRecords struct {
	mu    sync.Mutex
	saved []*entities.CallRecord
}

func (r *fakeRecords) Save(ctx context.Context, record *entities.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, record)
	return nil
}

func (r *fakeRecords) GetByCallSID(ctx context.Context, callSID string) (*entities.CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.saved {
		if record.CallSID == callSID {
			return record, nil
		}
	}
	return nil, nil
}

func (r *fakeRecords) ListRecent(ctx context.Context, limit int) ([]*entities.CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.saved) < limit {
		limit = len(r.saved)
	}
	return r.saved[:limit], nil
}

type fakeSnapshots struct {
	mu      sync.Mutex
	stored  map[string]*entities.CallRecord
	deleted []string
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{stored: make(map[string]*entities.CallRecord)}
}

func (s *fakeSnapshots) SaveSnapshot(ctx context.Context, record *entities.CallRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored[record.StreamID] = record
	return nil
}

func (s *fakeSnapshots) GetSnapshot(ctx context.Context, streamID string) (*entities.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stored[streamID], nil
}

func (s *fakeSnapshots) DeleteSnapshot(ctx context.Context, streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stored, streamID)
	s.deleted = append(s.deleted, streamID)
	return nil
}

func newWebhookFixture(t *testing.T) (*WebhookHandler, *websocket.Manager, *fakeRecords, *fakeSnapshots) {
	t.Helper()
	manager := websocket.NewManager(websocket.DefaultManagerConfig(),
		func(streamID string) repositories.SpeechBridge { return nil },
		func(state *entities.ConversationState) repositories.TranscriptHandler { return nil },
		zap.NewNop())
	records := &fakeRecords{}
	snapshots := newFakeSnapshots()
	handler := NewWebhookHandler(manager, records, snapshots,
		NewSignatureValidator("", true), "phones.example.com", time.Hour, zap.NewNop())
	return handler, manager, records, snapshots
}

func postForm(t *testing.T, path string, form url.Values) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandleIncomingCall(t *testing.T) {
	handler, manager, _, snapshots := newWebhookFixture(t)

	form := url.Values{}
	form.Set("CallSid", "CA100")
	form.Set("From", "+15551230001")
	form.Set("To", "+15551230002")
	form.Set("CallStatus", "ringing")
	c, rec := postForm(t, "/api/webhooks/incoming-call", form)

	if err := handler.HandleIncomingCall(c); err != nil {
		t.Fatalf("HandleIncomingCall failed: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get(echo.HeaderContentType); got != "application/xml" {
		t.Errorf("expected XML response, got %s", got)
	}

	var doc TwiML
	if err := xml.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("response is not valid TwiML: %v", err)
	}
	if doc.Connect == nil || doc.Connect.Stream == nil {
		t.Fatal("expected a stream connect instruction")
	}

	streamURL := doc.Connect.Stream.URL
	if !strings.HasPrefix(streamURL, "wss://phones.example.com/media-stream/CA100_") {
		t.Fatalf("unexpected stream URL: %s", streamURL)
	}
	streamID := strings.TrimPrefix(streamURL, "wss://phones.example.com/media-stream/")

	state, ok := manager.PendingState(streamID)
	if !ok {
		t.Fatal("expected pending conversation state registered")
	}
	if state.CallSID != "CA100" {
		t.Errorf("unexpected call SID: %s", state.CallSID)
	}

	if snap, _ := snapshots.GetSnapshot(context.Background(), streamID); snap == nil {
		t.Error("expected a state snapshot to be stored")
	}
}

func TestHandleIncomingCallMissingParameters(t *testing.T) {
	handler, _, _, _ := newWebhookFixture(t)

	form := url.Values{}
	form.Set("CallSid", "CA100")
	c, rec := postForm(t, "/api/webhooks/incoming-call", form)

	if err := handler.HandleIncomingCall(c); err != nil {
		t.Fatalf("HandleIncomingCall failed: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleIncomingCallInvalidSignature(t *testing.T) {
	_, manager, records, snapshots := newWebhookFixture(t)
	strict := NewWebhookHandler(manager, records, snapshots,
		NewSignatureValidator("auth-token", false), "", time.Hour, zap.NewNop())

	form := url.Values{}
	form.Set("CallSid", "CA100")
	form.Set("From", "+15551230001")
	form.Set("To", "+15551230002")
	c, rec := postForm(t, "/api/webhooks/incoming-call", form)

	if err := strict.HandleIncomingCall(c); err != nil {
		t.Fatalf("HandleIncomingCall failed: %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleCallStatusCompletedArchivesRecord(t *testing.T) {
	handler, manager, records, snapshots := newWebhookFixture(t)

	state := entities.NewConversationState("CA200", "CA200_tok", "+15551230001", "+15551230002")
	manager.RegisterPending("CA200_tok", state)
	_ = snapshots.SaveSnapshot(context.Background(), state.Record(), time.Hour)

	form := url.Values{}
	form.Set("CallSid", "CA200")
	form.Set("CallStatus", "completed")
	form.Set("CallDuration", "42")
	c, rec := postForm(t, "/api/webhooks/call-status", form)

	if err := handler.HandleCallStatus(c); err != nil {
		t.Fatalf("HandleCallStatus failed: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	if len(records.saved) != 1 {
		t.Fatalf("expected one archived record, got %d", len(records.saved))
	}
	record := records.saved[0]
	if record.CallSID != "CA200" || record.Status != entities.CallStatusCompleted {
		t.Fatalf("unexpected archived record: %+v", record)
	}
	if _, ok := manager.PendingState("CA200_tok"); ok {
		t.Error("expected pending state evicted after call end")
	}
	if snap, _ := snapshots.GetSnapshot(context.Background(), "CA200_tok"); snap != nil {
		t.Error("expected snapshot deleted after call end")
	}
}

func TestHandleCallStatusFailureMarksFailed(t *testing.T) {
	handler, manager, records, _ := newWebhookFixture(t)

	state := entities.NewConversationState("CA300", "CA300_tok", "+15551230001", "+15551230002")
	manager.RegisterPending("CA300_tok", state)

	form := url.Values{}
	form.Set("CallSid", "CA300")
	form.Set("CallStatus", "no-answer")
	c, _ := postForm(t, "/api/webhooks/call-status", form)

	if err := handler.HandleCallStatus(c); err != nil {
		t.Fatalf("HandleCallStatus failed: %v", err)
	}
	if len(records.saved) != 1 {
		t.Fatalf("expected one archived record, got %d", len(records.saved))
	}
	if records.saved[0].Status != entities.CallStatusFailed {
		t.Errorf("expected FAILED status, got %s", records.saved[0].Status)
	}
}

func TestHandleCallStatusUnknownCallIsNoOp(t *testing.T) {
	handler, _, records, _ := newWebhookFixture(t)

	form := url.Values{}
	form.Set("CallSid", "CAmissing")
	form.Set("CallStatus", "completed")
	c, rec := postForm(t, "/api/webhooks/call-status", form)

	if err := handler.HandleCallStatus(c); err != nil {
		t.Fatalf("HandleCallStatus failed: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(records.saved) != 0 {
		t.Errorf("expected no archived records, got %d", len(records.saved))
	}
}
