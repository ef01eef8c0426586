package websocket

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/siphio/phone-receptionist/server/domain/repositories"
)

// fakeTransport is an in-memory Transport for session tests.
type fakeTransport struct {
	inbound chan []byte

	mu        sync.Mutex
	written   [][]byte
	closed    bool
	closeCode int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan []byte, 64)}
}

func (t *fakeTransport) ReadMessage() (int, []byte, error) {
	data, ok := <-t.inbound
	if !ok {
		return 0, nil, net.ErrClosed
	}
	return websocket.TextMessage, data, nil
}

func (t *fakeTransport) WriteMessage(messageType int, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return net.ErrClosed
	}
	t.written = append(t.written, append([]byte(nil), data...))
	return nil
}

func (t *fakeTransport) WriteControl(messageType int, data []byte, deadline time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if messageType == websocket.CloseMessage && len(data) >= 2 {
		t.closeCode = int(binary.BigEndian.Uint16(data[:2]))
	}
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.inbound)
	}
	return nil
}

func (t *fakeTransport) send(data []byte) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if !closed {
		t.inbound <- data
	}
}

func (t *fakeTransport) writtenFrames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.written))
	copy(out, t.written)
	return out
}

func (t *fakeTransport) closedWith() (bool, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed, t.closeCode
}

// fakeBridge is an in-memory speech bridge.
type fakeBridge struct {
	mu          sync.Mutex
	connected   bool
	connectErr  error
	sendErr     error
	sent        [][]byte
	disconnects int

	transcripts chan repositories.Transcript
	closeOnce   sync.Once
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{transcripts: make(chan repositories.Transcript, 16)}
}

func (b *fakeBridge) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connectErr != nil {
		return b.connectErr
	}
	b.connected = true
	return nil
}

func (b *fakeBridge) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	b.disconnects++
	b.connected = false
	b.mu.Unlock()
	b.closeOnce.Do(func() { close(b.transcripts) })
	return nil
}

func (b *fakeBridge) SendAudio(pcm []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, append([]byte(nil), pcm...))
	return nil
}

func (b *fakeBridge) Transcripts() <-chan repositories.Transcript {
	return b.transcripts
}

func (b *fakeBridge) sentChunks() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.sent))
	copy(out, b.sent)
	return out
}

func (b *fakeBridge) disconnectCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disconnects
}

// fakeOrchestrator records transcripts and cleanup calls.
type fakeOrchestrator struct {
	mu          sync.Mutex
	transcripts []repositories.Transcript
	processErr  error
	cleanups    int
}

func (o *fakeOrchestrator) ProcessTranscript(ctx context.Context, transcript repositories.Transcript) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.processErr != nil {
		return o.processErr
	}
	o.transcripts = append(o.transcripts, transcript)
	return nil
}

func (o *fakeOrchestrator) Cleanup() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cleanups++
	return nil
}

func (o *fakeOrchestrator) cleanupCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cleanups
}

func (o *fakeOrchestrator) received() []repositories.Transcript {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]repositories.Transcript, len(o.transcripts))
	copy(out, o.transcripts)
	return out
}
