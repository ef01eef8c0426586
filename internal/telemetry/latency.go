// Package telemetry provides per-call timing instrumentation for the audio
// pipeline.
package telemetry

import (
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"
)

// Pipeline stage intervals tracked per call.
const (
	MetricAudioReceive       = "audio_receive"
	MetricTranscriptProcess  = "transcript_process"
	MetricResponseGeneration = "response_generation"
	MetricTTSGeneration      = "tts_generation"
	MetricAudioSend          = "audio_send"
	MetricEndToEnd           = "end_to_end"
)

// highLatencyThreshold marks a single interval as a user-perceptible stall.
const highLatencyThreshold = 1500 * time.Millisecond

// IntervalSummary holds rolling statistics for one pipeline interval.
type IntervalSummary struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Count  int     `json:"count"`
}

// MetricsReport is a snapshot of all tracked intervals for one stream.
type MetricsReport struct {
	StreamID        string                     `json:"stream_id"`
	Timestamp       time.Time                  `json:"timestamp"`
	AvgResponseTime float64                    `json:"avg_response_time"`
	Summary         map[string]IntervalSummary `json:"metrics_summary"`
}

// LatencyTracker records wall-clock checkpoints across the audio pipeline and
// derives rolling statistics over bounded sliding windows. Checkpoints are hit
// from the receive, transcript and orchestration goroutines, so recording is
// serialized by the tracker's lock.
type LatencyTracker struct {
	streamID   string
	maxSamples int
	logger     *zap.Logger

	mu      sync.Mutex
	samples map[string][]float64

	audioReceivedAt time.Time
	transcriptAt    time.Time
	responseAt      time.Time
	ttsAt           time.Time
	lastAudioSentAt time.Time
}

// NewLatencyTracker creates a tracker for one stream. maxSamples bounds every
// sliding window; the oldest sample is evicted past it.
func NewLatencyTracker(streamID string, maxSamples int, logger *zap.Logger) *LatencyTracker {
	if maxSamples <= 0 {
		maxSamples = 1000
	}
	return &LatencyTracker{
		streamID:   streamID,
		maxSamples: maxSamples,
		logger:     logger,
		samples:    make(map[string][]float64),
	}
}

// RecordAudioReceived marks inbound audio arrival. Paired with the previous
// audio-sent checkpoint it yields the end-to-end latency of one cycle.
func (t *LatencyTracker) RecordAudioReceived() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.audioReceivedAt = now

	if !t.lastAudioSentAt.IsZero() {
		t.addSample(MetricEndToEnd, now.Sub(t.lastAudioSentAt))
	}
}

// RecordTranscriptStarted marks the start of transcript processing.
func (t *LatencyTracker) RecordTranscriptStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.transcriptAt = now

	if !t.audioReceivedAt.IsZero() {
		t.addSample(MetricAudioReceive, now.Sub(t.audioReceivedAt))
	}
}

// RecordTranscriptProcessed marks the end of transcript processing.
func (t *LatencyTracker) RecordTranscriptProcessed() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if !t.transcriptAt.IsZero() {
		t.addSample(MetricTranscriptProcess, now.Sub(t.transcriptAt))
		t.responseAt = now
	}
}

// RecordResponseGenerated marks completion of response generation.
func (t *LatencyTracker) RecordResponseGenerated() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if !t.responseAt.IsZero() {
		t.addSample(MetricResponseGeneration, now.Sub(t.responseAt))
		t.ttsAt = now
	}
}

// RecordTTSGenerated marks completion of speech synthesis.
func (t *LatencyTracker) RecordTTSGenerated() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if !t.ttsAt.IsZero() {
		t.addSample(MetricTTSGeneration, now.Sub(t.ttsAt))
	}
}

// RecordAudioSent marks outbound audio delivery.
func (t *LatencyTracker) RecordAudioSent() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.lastAudioSentAt = now

	if !t.ttsAt.IsZero() {
		t.addSample(MetricAudioSend, now.Sub(t.ttsAt))
	}
	if !t.audioReceivedAt.IsZero() {
		t.logger.Debug("Total response latency",
			zap.String("streamID", t.streamID),
			zap.Duration("latency", now.Sub(t.audioReceivedAt)))
	}
}

// addSample appends a sample in milliseconds, evicting the oldest past the
// window cap. Caller holds the lock.
func (t *LatencyTracker) addSample(metric string, d time.Duration) {
	ms := float64(d.Microseconds()) / 1000.0

	window := append(t.samples[metric], ms)
	if len(window) > t.maxSamples {
		window = window[1:]
	}
	t.samples[metric] = window

	if d > highLatencyThreshold {
		t.logger.Warn("High latency detected",
			zap.String("streamID", t.streamID),
			zap.String("metric", metric),
			zap.Float64("latencyMs", ms))
	}
}

// Metrics returns rolling statistics for every tracked interval.
func (t *LatencyTracker) Metrics() MetricsReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	summary := make(map[string]IntervalSummary, 6)
	for _, name := range []string{
		MetricAudioReceive,
		MetricTranscriptProcess,
		MetricResponseGeneration,
		MetricTTSGeneration,
		MetricAudioSend,
		MetricEndToEnd,
	} {
		summary[name] = summarize(t.samples[name])
	}

	return MetricsReport{
		StreamID:        t.streamID,
		Timestamp:       time.Now().UTC(),
		AvgResponseTime: summary[MetricEndToEnd].Mean,
		Summary:         summary,
	}
}

// Reset discards all samples and stage markers.
func (t *LatencyTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples = make(map[string][]float64)
	t.audioReceivedAt = time.Time{}
	t.transcriptAt = time.Time{}
	t.responseAt = time.Time{}
	t.ttsAt = time.Time{}
	t.lastAudioSentAt = time.Time{}
}

func summarize(window []float64) IntervalSummary {
	if len(window) == 0 {
		return IntervalSummary{}
	}

	mean, _ := stats.Mean(window)
	median, _ := stats.Median(window)
	min, _ := stats.Min(window)
	max, _ := stats.Max(window)

	return IntervalSummary{
		Mean:   mean,
		Median: median,
		Min:    min,
		Max:    max,
		Count:  len(window),
	}
}
