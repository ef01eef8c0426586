package websocket

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/siphio/phone-receptionist/server/domain/entities"
	"github.com/siphio/phone-receptionist/server/domain/repositories"
	"github.com/siphio/phone-receptionist/server/internal/audio"
	"github.com/siphio/phone-receptionist/server/internal/telemetry"
)

// Transport is the bidirectional frame connection for one call.
// *websocket.Conn satisfies it; tests substitute an in-memory fake.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Close codes used when a connection is rejected. The numeric values are
// policy, kept distinct for diagnostics.
const (
	CloseInvalidState = websocket.ClosePolicyViolation // no pending state for the stream
	CloseCapacity     = 4008                           // capacity exceeded
)

const closeWriteTimeout = 2 * time.Second

// closeWithReason writes a close control frame and closes the transport.
// Both errors are swallowed: the peer may already be gone.
func closeWithReason(transport Transport, code int, reason string) {
	deadline := time.Now().Add(closeWriteTimeout)
	_ = transport.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	_ = transport.Close()
}

type taskResult struct {
	name string
	err  error
}

// Session owns the per-call resources of one media stream: the transport,
// the jitter buffer, the latency tracker and the handles to the STT bridge
// and orchestrator, plus the goroutines that service them. The conversation
// state is shared with the registry, which owns its lifetime.
type Session struct {
	transport Transport
	streamID  string
	state     *entities.ConversationState

	buffer  *audio.Buffer
	latency *telemetry.LatencyTracker

	bridge       repositories.SpeechBridge
	orchestrator repositories.TranscriptHandler

	connected atomic.Bool
	startTime time.Time

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup
	done   chan taskResult

	writeMu     sync.Mutex
	cleanupOnce sync.Once

	logger *zap.Logger
}

func newSession(transport Transport, streamID string, state *entities.ConversationState, bufferConfig audio.BufferConfig, maxLatencySamples int, logger *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		transport: transport,
		streamID:  streamID,
		state:     state,
		buffer:    audio.NewBuffer(bufferConfig, logger),
		latency:   telemetry.NewLatencyTracker(streamID, maxLatencySamples, logger),
		startTime: time.Now().UTC(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan taskResult, 3),
		logger:    logger,
	}
}

// initialize connects the STT bridge and constructs the orchestrator handle.
// The bridge connect is bounded so a hung vendor cannot block admission.
func (s *Session) initialize(bridge repositories.SpeechBridge, orchestrator repositories.TranscriptHandler, connectTimeout time.Duration) error {
	ctx, cancel := context.WithTimeout(s.ctx, connectTimeout)
	defer cancel()

	if err := bridge.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect speech bridge: %w", err)
	}
	s.bridge = bridge
	s.orchestrator = orchestrator
	s.connected.Store(true)

	s.logger.Info("Session initialized", zap.String("streamID", s.streamID))
	return nil
}

// spawn runs one supervised task. The first task to finish, by any cause,
// triggers teardown of the whole session.
func (s *Session) spawn(name string, fn func(ctx context.Context) error) {
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		err := fn(s.ctx)
		s.done <- taskResult{name: name, err: err}
	}()
}

// writeFrame serializes outbound writes; the transcript and orchestration
// goroutines both produce outbound frames.
func (s *Session) writeFrame(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.transport.WriteMessage(websocket.TextMessage, data)
}

// cleanup releases every session resource. It is idempotent: concurrent
// failure paths may all invoke it, but the work runs once. A misbehaving
// dependency never prevents the remaining steps from running.
func (s *Session) cleanup(taskWait, disconnectTimeout time.Duration) {
	s.cleanupOnce.Do(func() {
		// Flip the flag first so in-flight loop iterations observe the
		// disconnect promptly, then close the transport to unblock the
		// receive goroutine's pending read.
		s.connected.Store(false)
		s.cancel()
		_ = s.transport.Close()

		finished := make(chan struct{})
		go func() {
			s.tasks.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(taskWait):
			s.logger.Warn("Timed out waiting for session tasks to stop",
				zap.String("streamID", s.streamID))
		}

		s.buffer.Clear()

		if s.bridge != nil {
			ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
			if err := s.bridge.Disconnect(ctx); err != nil {
				s.logger.Error("Error disconnecting speech bridge",
					zap.String("streamID", s.streamID), zap.Error(err))
			}
			cancel()
			s.bridge = nil
		}

		if s.orchestrator != nil {
			if err := s.orchestrator.Cleanup(); err != nil {
				s.logger.Error("Error cleaning up orchestrator",
					zap.String("streamID", s.streamID), zap.Error(err))
			}
			s.orchestrator = nil
		}

		duration := time.Since(s.startTime)
		s.logger.Info("Session closed",
			zap.String("streamID", s.streamID),
			zap.Duration("duration", duration))
	})
}

// IsConnected reports whether the session is still serving its call.
func (s *Session) IsConnected() bool {
	return s.connected.Load()
}

// Age returns how long the session has existed.
func (s *Session) Age() time.Duration {
	return time.Since(s.startTime)
}

// Buffer exposes the session's jitter buffer for diagnostics.
func (s *Session) Buffer() *audio.Buffer {
	return s.buffer
}

// Latency exposes the session's latency tracker for diagnostics.
func (s *Session) Latency() *telemetry.LatencyTracker {
	return s.latency
}
