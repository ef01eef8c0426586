// Package websocket implements the per-call media stream lifecycle: admission
// control for incoming connections, the audio receive/forward pipeline and
// the bounded supervision of each call's goroutines.
package websocket

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/siphio/phone-receptionist/server/domain/entities"
	"github.com/siphio/phone-receptionist/server/domain/repositories"
	"github.com/siphio/phone-receptionist/server/internal/audio"
	"github.com/siphio/phone-receptionist/server/internal/telemetry"
)

// Admission errors. They are reported to the HTTP layer before the transport
// is accepted; they are never escalated past the connection handler.
var (
	ErrUnknownStream    = errors.New("no pending state for stream")
	ErrCapacityExceeded = errors.New("connection capacity exceeded")
)

// ManagerConfig tunes the session registry and per-session supervision.
type ManagerConfig struct {
	// MaxConnections caps concurrently admitted sessions.
	MaxConnections int
	// Buffer configures each session's jitter buffer.
	Buffer audio.BufferConfig
	// MaxLatencySamples bounds each latency tracker's sliding windows.
	MaxLatencySamples int
	// MaxResponseLatency triggers the monitor loop's warning when the rolling
	// end-to-end average exceeds it.
	MaxResponseLatency time.Duration
	// MonitorInterval is the latency reporting period.
	MonitorInterval time.Duration
	// CleanupTaskWait bounds how long cleanup waits for a session's
	// goroutines to observe cancellation.
	CleanupTaskWait time.Duration
	// BridgeConnectTimeout bounds the STT bridge connect during session
	// initialization.
	BridgeConnectTimeout time.Duration
	// BridgeDisconnectTimeout bounds the STT bridge disconnect during
	// cleanup.
	BridgeDisconnectTimeout time.Duration
}

// DefaultManagerConfig returns production defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxConnections:          50,
		Buffer:                  audio.DefaultBufferConfig(),
		MaxLatencySamples:       1000,
		MaxResponseLatency:      2 * time.Second,
		MonitorInterval:         5 * time.Second,
		CleanupTaskWait:         5 * time.Second,
		BridgeConnectTimeout:    10 * time.Second,
		BridgeDisconnectTimeout: 5 * time.Second,
	}
}

// BridgeFactory creates the speech-to-text bridge for one stream.
type BridgeFactory func(streamID string) repositories.SpeechBridge

// OrchestratorFactory creates the transcript handler for one call.
type OrchestratorFactory func(state *entities.ConversationState) repositories.TranscriptHandler

// ConnectionInfo is the diagnostic snapshot of one live session.
type ConnectionInfo struct {
	StreamID    string                  `json:"stream_id"`
	CallSID     string                  `json:"call_sid"`
	IsConnected bool                    `json:"is_connected"`
	Duration    float64                 `json:"duration_seconds"`
	Latency     telemetry.MetricsReport `json:"latency_metrics"`
	Buffer      audio.BufferStats       `json:"buffer_stats"`
}

// Manager is the process-wide registry of live media sessions and pending
// conversation states. It owns admission control and cross-call operations.
// It is an explicit object, not a package singleton, so tests construct
// independent instances.
type Manager struct {
	config              ManagerConfig
	bridgeFactory       BridgeFactory
	orchestratorFactory OrchestratorFactory
	logger              *zap.Logger

	// mu guards both registries. It is never held across transport I/O
	// except the admission capacity re-check, which must be authoritative.
	mu       sync.Mutex
	sessions map[string]*Session
	pending  map[string]*entities.ConversationState
}

// NewManager creates a session manager.
func NewManager(config ManagerConfig, bridges BridgeFactory, orchestrators OrchestratorFactory, logger *zap.Logger) *Manager {
	return &Manager{
		config:              config,
		bridgeFactory:       bridges,
		orchestratorFactory: orchestrators,
		logger:              logger,
		sessions:            make(map[string]*Session),
		pending:             make(map[string]*entities.ConversationState),
	}
}

// RegisterPending stores conversation state ahead of its media connection.
// The pending entry doubles as the connection's admission credential.
func (m *Manager) RegisterPending(streamID string, state *entities.ConversationState) {
	m.mu.Lock()
	m.pending[streamID] = state
	m.mu.Unlock()

	m.logger.Debug("Stored pending conversation state", zap.String("streamID", streamID))
}

// PendingState retrieves a stored conversation state.
func (m *Manager) PendingState(streamID string) (*entities.ConversationState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.pending[streamID]
	return state, ok
}

// Authorize is the fast-path admission check run before the transport is
// accepted. A stream without a pending entry is rejected outright: pending
// entries are only minted by a validated inbound-call notification, so their
// presence is the authentication gate. The capacity check here is advisory;
// HandleMediaStream re-checks under the registry lock.
func (m *Manager) Authorize(streamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[streamID]; !ok {
		return ErrUnknownStream
	}
	if len(m.sessions) >= m.config.MaxConnections {
		return ErrCapacityExceeded
	}
	return nil
}

// HandleMediaStream services one accepted media connection until the call
// ends, then tears the session down deterministically. It blocks for the
// lifetime of the call.
//
// The pending entry is re-validated and capacity is re-checked under the
// registry lock: a concurrent cleanup may have evicted the state, and two
// connection attempts can race past the advisory check near the capacity
// boundary.
func (m *Manager) HandleMediaStream(ctx context.Context, transport Transport, streamID string) error {
	m.mu.Lock()

	state, ok := m.pending[streamID]
	if !ok {
		m.mu.Unlock()
		m.logger.Error("No conversation state found for stream", zap.String("streamID", streamID))
		closeWithReason(transport, CloseInvalidState, "no conversation state")
		return ErrUnknownStream
	}

	if len(m.sessions) >= m.config.MaxConnections {
		m.mu.Unlock()
		m.logger.Warn("Connection rejected, capacity exceeded",
			zap.String("streamID", streamID),
			zap.Int("max", m.config.MaxConnections))
		closeWithReason(transport, CloseCapacity, "capacity exceeded")
		return ErrCapacityExceeded
	}

	session := newSession(transport, streamID, state, m.config.Buffer, m.config.MaxLatencySamples, m.logger)
	m.sessions[streamID] = session
	m.mu.Unlock()

	// Cleanup runs on every exit path; the registry entries go with it.
	defer func() {
		session.cleanup(m.config.CleanupTaskWait, m.config.BridgeDisconnectTimeout)
		m.mu.Lock()
		delete(m.sessions, streamID)
		delete(m.pending, streamID)
		m.mu.Unlock()
	}()

	bridge := m.bridgeFactory(streamID)
	orchestrator := m.orchestratorFactory(state)
	if err := session.initialize(bridge, orchestrator, m.config.BridgeConnectTimeout); err != nil {
		m.logger.Error("Failed to initialize session",
			zap.String("streamID", streamID), zap.Error(err))
		_ = state.SetStatus(entities.CallStatusFailed)
		return err
	}
	_ = state.SetStatus(entities.CallStatusConnected)

	session.spawn("receive_audio", func(ctx context.Context) error {
		return m.receiveAudio(ctx, session)
	})
	session.spawn("process_transcripts", func(ctx context.Context) error {
		return m.processTranscripts(ctx, session)
	})
	session.spawn("monitor_latency", func(ctx context.Context) error {
		return m.monitorLatency(ctx, session)
	})

	// Whichever task finishes first, by any cause, triggers teardown of the
	// other two via the deferred cleanup's cancellation.
	var first taskResult
	select {
	case first = <-session.done:
	case <-ctx.Done():
		first = taskResult{name: "handler", err: ctx.Err()}
	}

	if first.err != nil && !errors.Is(first.err, context.Canceled) {
		m.logger.Error("Session task failed",
			zap.String("streamID", streamID),
			zap.String("task", first.name),
			zap.Error(first.err))
		return first.err
	}

	m.logger.Info("Session task completed normally",
		zap.String("streamID", streamID),
		zap.String("task", first.name))
	return nil
}

// receiveAudio reads inbound frames until the stream stops or the transport
// disconnects. Malformed payloads are logged and skipped; only a genuine
// disconnect or the stop frame ends the loop. A speech bridge failure is
// returned so the whole session tears down.
func (m *Manager) receiveAudio(ctx context.Context, session *Session) error {
	bridge := session.bridge
	for session.IsConnected() && ctx.Err() == nil {
		_, data, err := session.transport.ReadMessage()
		if err != nil {
			if isDisconnect(err) || ctx.Err() != nil {
				m.logger.Info("Media stream disconnected",
					zap.String("streamID", session.streamID))
				return nil
			}
			m.logger.Info("Media stream read ended",
				zap.String("streamID", session.streamID), zap.Error(err))
			return nil
		}

		frame, err := ParseFrame(data)
		if err != nil {
			m.logger.Error("Invalid media stream frame",
				zap.String("streamID", session.streamID), zap.Error(err))
			continue
		}

		switch frame.Event {
		case EventMedia:
			if frame.Media == nil {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(frame.Media.Payload)
			if err != nil {
				m.logger.Error("Invalid media payload encoding",
					zap.String("streamID", session.streamID), zap.Error(err))
				continue
			}

			session.buffer.Add(payload, frame.SequenceNumber)
			if session.buffer.HasSufficientData() {
				if chunk := session.buffer.GetChunk(); chunk != nil {
					pcm := audio.DecodeMuLaw(chunk)
					if err := bridge.SendAudio(pcm); err != nil {
						return fmt.Errorf("failed to forward audio to speech bridge: %w", err)
					}
				}
			}
			session.latency.RecordAudioReceived()

		case EventStart:
			if frame.Start != nil {
				session.state.SetTwilioStreamSID(frame.Start.StreamSID)
				_ = session.state.SetStatus(entities.CallStatusInProgress)
				m.logger.Info("Media stream started",
					zap.String("streamID", session.streamID),
					zap.String("streamSID", frame.Start.StreamSID))
			}

		case EventStop:
			// Flush the partial trailing utterance before ending the loop.
			if rest := session.buffer.Flush(); rest != nil {
				if err := bridge.SendAudio(audio.DecodeMuLaw(rest)); err != nil {
					m.logger.Error("Failed to flush trailing audio",
						zap.String("streamID", session.streamID), zap.Error(err))
				}
			}
			session.connected.Store(false)
			m.logger.Info("Media stream stopped", zap.String("streamID", session.streamID))
			return nil

		case EventMark:
			if frame.Mark != nil {
				m.logger.Debug("Received mark event",
					zap.String("streamID", session.streamID),
					zap.String("mark", frame.Mark.Name))
			}

		default:
			m.logger.Warn("Unknown media stream event",
				zap.String("streamID", session.streamID),
				zap.String("event", frame.Event))
		}
	}
	return nil
}

// processTranscripts forwards recognized speech to the orchestrator until the
// session disconnects or the bridge's stream ends. An orchestrator failure is
// returned so the session tears down; a dead response pipeline makes
// continuing the call pointless.
func (m *Manager) processTranscripts(ctx context.Context, session *Session) error {
	transcripts := session.bridge.Transcripts()
	orchestrator := session.orchestrator
	for {
		select {
		case <-ctx.Done():
			return nil
		case transcript, ok := <-transcripts:
			if !ok || !session.IsConnected() {
				return nil
			}
			session.latency.RecordTranscriptStarted()
			if err := orchestrator.ProcessTranscript(ctx, transcript); err != nil {
				return fmt.Errorf("failed to process transcript: %w", err)
			}
			session.latency.RecordTranscriptProcessed()
		}
	}
}

// monitorLatency reports latency metrics on a fixed interval while the
// session is connected. This task is almost always the one cancelled when
// another finishes first; cancellation is its normal exit.
func (m *Manager) monitorLatency(ctx context.Context, session *Session) error {
	ticker := time.NewTicker(m.config.MonitorInterval)
	defer ticker.Stop()

	for session.IsConnected() {
		select {
		case <-ctx.Done():
			m.logger.Debug("Latency monitoring cancelled",
				zap.String("streamID", session.streamID))
			return nil
		case <-ticker.C:
			report := session.latency.Metrics()
			m.logger.Info("Latency metrics",
				zap.String("streamID", session.streamID),
				zap.Float64("avgResponseTimeMs", report.AvgResponseTime))

			if report.AvgResponseTime > float64(m.config.MaxResponseLatency.Milliseconds()) {
				m.logger.Warn("High average latency detected",
					zap.String("streamID", session.streamID),
					zap.Float64("avgResponseTimeMs", report.AvgResponseTime))
			}
		}
	}
	return nil
}

// SendAudio encodes PCM to the transport codec and writes it to the given
// stream as a media frame. Absent or disconnected streams are a warning-level
// no-op.
func (m *Manager) SendAudio(streamID string, pcm []byte) error {
	m.mu.Lock()
	session := m.sessions[streamID]
	m.mu.Unlock()

	if session == nil || !session.IsConnected() {
		m.logger.Warn("No active connection for stream", zap.String("streamID", streamID))
		return nil
	}

	mulaw := audio.EncodeMuLaw(pcm)
	encoded := base64.StdEncoding.EncodeToString(mulaw)

	frame, err := NewMediaFrame(session.state.TwilioStreamSID(), encoded)
	if err != nil {
		return fmt.Errorf("failed to build media frame: %w", err)
	}
	if err := session.writeFrame(frame); err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}

	session.latency.RecordAudioSent()
	return nil
}

// SendMark writes a named mark frame to the given stream for timing
// observability. Absent or disconnected streams are a no-op.
func (m *Manager) SendMark(streamID, name string) error {
	m.mu.Lock()
	session := m.sessions[streamID]
	m.mu.Unlock()

	if session == nil || !session.IsConnected() {
		return nil
	}

	frame, err := NewMarkFrame(session.state.TwilioStreamSID(), name)
	if err != nil {
		return fmt.Errorf("failed to build mark frame: %w", err)
	}
	return session.writeFrame(frame)
}

// CleanupCall tears down every session and pending state belonging to the
// given call. The registry lock is released before the per-session teardown:
// closing a transport is I/O and must not serialize unrelated admissions.
func (m *Manager) CleanupCall(callSID string) {
	m.mu.Lock()
	var matched []*Session
	var matchedIDs []string
	for streamID, session := range m.sessions {
		if session.state.CallSID == callSID {
			matched = append(matched, session)
			matchedIDs = append(matchedIDs, streamID)
		}
	}
	var pendingIDs []string
	for streamID, state := range m.pending {
		if state.CallSID == callSID {
			pendingIDs = append(pendingIDs, streamID)
		}
	}
	m.mu.Unlock()

	for i, session := range matched {
		closeWithReason(session.transport, websocket.CloseNormalClosure, "call ended")
		session.cleanup(m.config.CleanupTaskWait, m.config.BridgeDisconnectTimeout)
		m.logger.Info("Closed session for ended call",
			zap.String("callSID", callSID),
			zap.String("streamID", matchedIDs[i]))
	}

	m.mu.Lock()
	for _, streamID := range matchedIDs {
		delete(m.sessions, streamID)
		delete(m.pending, streamID)
	}
	for _, streamID := range pendingIDs {
		delete(m.pending, streamID)
	}
	m.mu.Unlock()
}

// CleanupStaleConnections sweeps sessions older than maxAge. A safety net
// against sessions whose termination signal was lost.
func (m *Manager) CleanupStaleConnections(maxAge time.Duration) int {
	m.mu.Lock()
	var stale []*Session
	var staleIDs []string
	for streamID, session := range m.sessions {
		if session.Age() > maxAge {
			stale = append(stale, session)
			staleIDs = append(staleIDs, streamID)
		}
	}
	m.mu.Unlock()

	for i, session := range stale {
		m.logger.Warn("Cleaning up stale session",
			zap.String("streamID", staleIDs[i]),
			zap.Duration("age", session.Age()))
		closeWithReason(session.transport, websocket.CloseGoingAway, "stale session")
		session.cleanup(m.config.CleanupTaskWait, m.config.BridgeDisconnectTimeout)
	}

	m.mu.Lock()
	for _, streamID := range staleIDs {
		delete(m.sessions, streamID)
		delete(m.pending, streamID)
	}
	m.mu.Unlock()

	return len(stale)
}

// StateForCall returns the conversation state for a call, whether it is live
// or still pending. Used by the status webhook to archive ended calls.
func (m *Manager) StateForCall(callSID string) *entities.ConversationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, session := range m.sessions {
		if session.state.CallSID == callSID {
			return session.state
		}
	}
	for _, state := range m.pending {
		if state.CallSID == callSID {
			return state
		}
	}
	return nil
}

// ActiveConnections returns the number of admitted sessions.
func (m *Manager) ActiveConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ConnectionInfo returns the diagnostic snapshot for one stream.
func (m *Manager) ConnectionInfo(streamID string) (*ConnectionInfo, bool) {
	m.mu.Lock()
	session := m.sessions[streamID]
	m.mu.Unlock()

	if session == nil {
		return nil, false
	}
	return &ConnectionInfo{
		StreamID:    streamID,
		CallSID:     session.state.CallSID,
		IsConnected: session.IsConnected(),
		Duration:    session.Age().Seconds(),
		Latency:     session.latency.Metrics(),
		Buffer:      session.buffer.Stats(),
	}, true
}

// Latency returns the latency tracker for a live stream, or nil. The
// orchestrator uses it to stamp its pipeline checkpoints.
func (m *Manager) Latency(streamID string) *telemetry.LatencyTracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session := m.sessions[streamID]; session != nil {
		return session.latency
	}
	return nil
}

// Connections returns diagnostic snapshots for every admitted session.
func (m *Manager) Connections() []*ConnectionInfo {
	m.mu.Lock()
	streamIDs := make([]string, 0, len(m.sessions))
	for streamID := range m.sessions {
		streamIDs = append(streamIDs, streamID)
	}
	m.mu.Unlock()

	infos := make([]*ConnectionInfo, 0, len(streamIDs))
	for _, streamID := range streamIDs {
		if info, ok := m.ConnectionInfo(streamID); ok {
			infos = append(infos, info)
		}
	}
	return infos
}

// IsHealthy reports whether the manager can admit connections.
func (m *Manager) IsHealthy() bool {
	return true
}

// isDisconnect classifies transport errors that represent an expected peer
// disconnect rather than a failure.
func isDisconnect(err error) bool {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseNoStatusReceived) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
