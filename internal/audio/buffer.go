package audio

import (
	"sync"

	"go.uber.org/zap"
)

// BufferConfig fixes the buffer's framing parameters at construction.
type BufferConfig struct {
	// SampleRate of the incoming audio in Hz.
	SampleRate int
	// ChunkDurationMs is the duration of each transport frame.
	ChunkDurationMs int
	// BufferDurationMs is the aggregation window forwarded to the STT bridge.
	BufferDurationMs int
	// SilenceThreshold is the normalized energy below which a window counts
	// as silent.
	SilenceThreshold float64
	// MaxBufferSize caps the number of buffered frames; the oldest frame is
	// dropped when full.
	MaxBufferSize int
	// DetectVoiceActivity toggles the speech/silence state machine.
	DetectVoiceActivity bool
}

// DefaultBufferConfig matches Twilio media streams: 8kHz mu-law in 20ms
// frames, aggregated into 200ms windows.
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{
		SampleRate:          8000,
		ChunkDurationMs:     20,
		BufferDurationMs:    200,
		SilenceThreshold:    0.01,
		MaxBufferSize:       100,
		DetectVoiceActivity: true,
	}
}

// silenceRunLimit is the number of consecutive silent aggregation windows
// after which active speech is considered ended (~200ms equivalent).
const silenceRunLimit = 10

type bufferedFrame struct {
	data     []byte
	sequence int
}

// Buffer absorbs bursty transport frames for one call, reassembles them into
// STT-sized windows and tracks speech/silence transitions. Add runs on the
// receive goroutine while GetChunk and Flush may run elsewhere, so every
// mutating operation holds the buffer's lock.
type Buffer struct {
	config          BufferConfig
	samplesPerChunk int
	chunksPerWindow int

	mu       sync.Mutex
	frames   []bufferedFrame
	overflow []byte

	totalReceived  int
	totalProcessed int

	speechActive bool
	silenceRun   int
	speechRun    int

	logger *zap.Logger
}

// BufferStats is a point-in-time snapshot of buffer state.
type BufferStats struct {
	BufferedFrames   int  `json:"buffered_frames"`
	FramesReceived   int  `json:"frames_received"`
	FramesProcessed  int  `json:"frames_processed"`
	IsSpeechActive   bool `json:"is_speech_active"`
	SilenceRun       int  `json:"silence_run"`
	SpeechRun        int  `json:"speech_run"`
	BufferedDuration int  `json:"buffered_duration_ms"`
}

// NewBuffer creates a buffer with the given configuration.
func NewBuffer(config BufferConfig, logger *zap.Logger) *Buffer {
	samplesPerChunk := config.SampleRate * config.ChunkDurationMs / 1000
	chunksPerWindow := config.BufferDurationMs / config.ChunkDurationMs
	if chunksPerWindow < 1 {
		chunksPerWindow = 1
	}

	return &Buffer{
		config:          config,
		samplesPerChunk: samplesPerChunk,
		chunksPerWindow: chunksPerWindow,
		logger:          logger,
	}
}

// Add appends a transport frame. Any carryover remainder from a previous
// misaligned frame is prepended first; a new remainder that does not fill a
// whole frame is held back for the next call. When the FIFO passes 90% of its
// cap a warning is logged; the oldest frame is dropped once the cap is hit.
func (b *Buffer) Add(data []byte, sequence int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.overflow) > 0 {
		combined := make([]byte, 0, len(b.overflow)+len(data))
		combined = append(combined, b.overflow...)
		combined = append(combined, data...)
		data = combined
		b.overflow = nil
	}

	for len(data) >= b.samplesPerChunk {
		frame := data[:b.samplesPerChunk]
		data = data[b.samplesPerChunk:]

		if len(b.frames) >= b.config.MaxBufferSize {
			b.frames = b.frames[1:]
		}
		b.frames = append(b.frames, bufferedFrame{data: frame, sequence: sequence})
		b.totalReceived++
	}
	if len(data) > 0 {
		b.overflow = append([]byte(nil), data...)
	}

	if len(b.frames) > b.config.MaxBufferSize*9/10 {
		b.logger.Warn("Audio buffer near capacity",
			zap.Int("buffered", len(b.frames)),
			zap.Int("max", b.config.MaxBufferSize))
	}
}

// HasSufficientData reports whether a full aggregation window is buffered.
func (b *Buffer) HasSufficientData() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames) >= b.chunksPerWindow
}

// GetChunk pops exactly one aggregation window and returns the concatenated
// bytes, or nil if insufficient data is buffered. Voice activity state is
// updated from the popped window.
func (b *Buffer) GetChunk() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.frames) < b.chunksPerWindow {
		return nil
	}

	combined := make([]byte, 0, b.chunksPerWindow*b.samplesPerChunk)
	for i := 0; i < b.chunksPerWindow; i++ {
		combined = append(combined, b.frames[i].data...)
		b.totalProcessed++
	}
	b.frames = b.frames[b.chunksPerWindow:]

	if b.config.DetectVoiceActivity {
		b.updateVoiceActivity(combined)
	}
	return combined
}

func (b *Buffer) updateVoiceActivity(window []byte) {
	if b.isSilence(window) {
		b.silenceRun++
		b.speechRun = 0
		if b.speechActive && b.silenceRun > silenceRunLimit {
			b.speechActive = false
			b.logger.Debug("Speech ended, silence run exceeded",
				zap.Int("silenceRun", b.silenceRun))
		}
		return
	}

	b.silenceRun = 0
	b.speechRun++
	if !b.speechActive {
		b.speechActive = true
		b.logger.Debug("Speech started")
	}
}

// isSilence computes mean squared amplitude over the window, treated as
// unsigned 8-bit samples, normalized by the maximum representable energy.
// Empty or degenerate input is defined non-silent so a transient decoding
// hiccup never suppresses real speech.
func (b *Buffer) isSilence(window []byte) bool {
	if len(window) == 0 {
		return false
	}

	var sum float64
	for _, s := range window {
		v := float64(s)
		sum += v * v
	}
	meanSquare := sum / float64(len(window))
	normalized := meanSquare / (255.0 * 255.0)

	return normalized < b.config.SilenceThreshold
}

// Flush drains the overflow carryover and every remaining frame regardless of
// window alignment. It returns nil only when the buffer was already empty.
// Used exactly once, at end of stream, so a partial trailing utterance is not
// discarded.
func (b *Buffer) Flush() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.overflow) == 0 && len(b.frames) == 0 {
		return nil
	}

	var out []byte
	out = append(out, b.overflow...)
	b.overflow = nil
	for _, f := range b.frames {
		out = append(out, f.data...)
		b.totalProcessed++
	}
	b.frames = nil
	return out
}

// Clear empties the FIFO and carryover and resets voice-activity state.
// The received/processed counters are preserved.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.frames = nil
	b.overflow = nil
	b.silenceRun = 0
	b.speechRun = 0
	b.speechActive = false
}

// IsSpeechActive reports whether the voice-activity state machine currently
// considers the caller to be speaking.
func (b *Buffer) IsSpeechActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.speechActive
}

// Len returns the number of buffered frames.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Stats returns a snapshot of the buffer's counters and state.
func (b *Buffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BufferStats{
		BufferedFrames:   len(b.frames),
		FramesReceived:   b.totalReceived,
		FramesProcessed:  b.totalProcessed,
		IsSpeechActive:   b.speechActive,
		SilenceRun:       b.silenceRun,
		SpeechRun:        b.speechRun,
		BufferedDuration: len(b.frames) * b.config.ChunkDurationMs,
	}
}
