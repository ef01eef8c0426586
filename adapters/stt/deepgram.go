// Package stt provides speech-to-text bridges over the
// repositories.SpeechBridge interface.
package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/siphio/phone-receptionist/server/domain/repositories"
)

const (
	deepgramListenURL = "wss://api.deepgram.com/v1/listen"
	keepAliveInterval = 5 * time.Second
)

// DeepgramConfig tunes the live transcription session.
type DeepgramConfig struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int
}

// DeepgramBridge is a live transcription session against Deepgram's
// streaming API. One bridge serves one call.
type DeepgramBridge struct {
	config DeepgramConfig
	logger *zap.Logger
	// endpoint and keepAliveEvery are overridable in tests.
	endpoint       string
	keepAliveEvery time.Duration

	mu          sync.Mutex
	conn        *websocket.Conn
	cancel      context.CancelFunc
	transcripts chan repositories.Transcript
	closeOnce   sync.Once

	// writeMu serializes all frame writes; the receive loop and the
	// keep-alive goroutine share the connection.
	writeMu sync.Mutex
}

func NewDeepgramBridge(config DeepgramConfig, logger *zap.Logger) *DeepgramBridge {
	if config.Model == "" {
		config.Model = "nova-2"
	}
	if config.Language == "" {
		config.Language = "en-US"
	}
	if config.SampleRate == 0 {
		config.SampleRate = 8000
	}
	return &DeepgramBridge{
		config:         config,
		logger:         logger,
		endpoint:       deepgramListenURL,
		keepAliveEvery: keepAliveInterval,
		transcripts:    make(chan repositories.Transcript, 32),
	}
}

// Connect dials the streaming endpoint and starts the reader and keep-alive
// loops. The provided context bounds only the dial.
func (b *DeepgramBridge) Connect(ctx context.Context) error {
	query := url.Values{}
	query.Set("model", b.config.Model)
	query.Set("language", b.config.Language)
	query.Set("encoding", "linear16")
	query.Set("sample_rate", strconv.Itoa(b.config.SampleRate))
	query.Set("channels", "1")
	query.Set("interim_results", "true")
	query.Set("punctuate", "true")

	header := http.Header{}
	header.Set("Authorization", "Token "+b.config.APIKey)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, b.endpoint+"?"+query.Encode(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect to deepgram (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect to deepgram: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	b.mu.Lock()
	b.conn = conn
	b.cancel = cancel
	b.mu.Unlock()

	go b.readLoop(loopCtx)
	go b.keepAlive(loopCtx)

	b.logger.Info("Deepgram bridge connected",
		zap.String("model", b.config.Model),
		zap.Int("sampleRate", b.config.SampleRate))
	return nil
}

// SendAudio forwards linear PCM to the recognizer.
func (b *DeepgramBridge) SendAudio(pcm []byte) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("deepgram bridge not connected")
	}

	b.writeMu.Lock()
	err := conn.WriteMessage(websocket.BinaryMessage, pcm)
	b.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send audio to deepgram: %w", err)
	}
	return nil
}

// Transcripts returns the recognition stream. The channel closes when the
// remote stream ends or the bridge disconnects.
func (b *DeepgramBridge) Transcripts() <-chan repositories.Transcript {
	return b.transcripts
}

// Disconnect asks the recognizer to flush its final results and closes the
// connection.
func (b *DeepgramBridge) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	conn := b.conn
	cancel := b.cancel
	b.conn = nil
	b.cancel = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(2 * time.Second)
	}
	b.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call ended"), deadline)
	b.writeMu.Unlock()
	if err := conn.Close(); err != nil {
		return fmt.Errorf("failed to close deepgram connection: %w", err)
	}
	b.logger.Info("Deepgram bridge disconnected")
	return nil
}

// deepgramResult is the subset of the Results message we consume.
type deepgramResult struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (b *DeepgramBridge) readLoop(ctx context.Context) {
	defer b.closeOnce.Do(func() { close(b.transcripts) })

	for {
		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Warn("Deepgram stream closed unexpectedly", zap.Error(err))
			}
			return
		}

		var result deepgramResult
		if err := json.Unmarshal(data, &result); err != nil {
			b.logger.Error("Invalid deepgram message", zap.Error(err))
			continue
		}
		if result.Type != "Results" || len(result.Channel.Alternatives) == 0 {
			continue
		}

		best := result.Channel.Alternatives[0]
		if best.Transcript == "" {
			continue
		}
		// The consumer may be gone during teardown; never block on a full
		// channel once the bridge is cancelled.
		select {
		case b.transcripts <- repositories.Transcript{
			Text:       best.Transcript,
			IsFinal:    result.IsFinal,
			Confidence: best.Confidence,
		}:
		case <-ctx.Done():
			return
		}
	}
}

// keepAlive pings the recognizer so it keeps the session open across caller
// silence.
func (b *DeepgramBridge) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(b.keepAliveEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.mu.Lock()
			conn := b.conn
			b.mu.Unlock()
			if conn == nil {
				return
			}
			b.writeMu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`))
			b.writeMu.Unlock()
			if err != nil {
				b.logger.Debug("Deepgram keep-alive failed", zap.Error(err))
				return
			}
		}
	}
}
