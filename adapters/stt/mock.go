package stt

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/siphio/phone-receptionist/server/domain/repositories"
)

// MockBridge is a scripted speech bridge for local development and tests.
// It emits the next scripted utterance each time enough audio accumulates.
type MockBridge struct {
	logger *zap.Logger
	// bytesPerUtterance is how much audio triggers the next line.
	bytesPerUtterance int
	script            []string

	mu          sync.Mutex
	connected   bool
	accumulated int
	next        int
	transcripts chan repositories.Transcript
	closeOnce   sync.Once
}

func NewMockBridge(logger *zap.Logger) *MockBridge {
	return &MockBridge{
		logger:            logger,
		bytesPerUtterance: 16000, // one second of 8kHz 16-bit audio
		script: []string{
			"Hi, I'd like to book a cleaning.",
			"Sometime next Tuesday morning if possible.",
			"Thanks, that works for me.",
		},
		transcripts: make(chan repositories.Transcript, 8),
	}
}

func (m *MockBridge) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	m.logger.Info("Mock speech bridge connected")
	return nil
}

func (m *MockBridge) SendAudio(pcm []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("mock bridge not connected")
	}

	m.accumulated += len(pcm)
	if m.accumulated < m.bytesPerUtterance || m.next >= len(m.script) {
		return nil
	}
	m.accumulated = 0

	line := m.script[m.next]
	m.next++
	select {
	case m.transcripts <- repositories.Transcript{Text: line, IsFinal: true, Confidence: 0.99}:
	default:
		m.logger.Warn("Mock transcript dropped, channel full")
	}
	return nil
}

func (m *MockBridge) Transcripts() <-chan repositories.Transcript {
	return m.transcripts
}

func (m *MockBridge) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	m.closeOnce.Do(func() { close(m.transcripts) })
	m.logger.Info("Mock speech bridge disconnected")
	return nil
}
