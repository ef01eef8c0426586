// Package orchestrator coordinates the response pipeline for one call:
// recognized caller speech in, synthesized assistant audio out.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/siphio/phone-receptionist/server/domain/entities"
	"github.com/siphio/phone-receptionist/server/domain/repositories"
	"github.com/siphio/phone-receptionist/server/internal/telemetry"
)

// AudioSink writes synthesized audio back onto a media stream. The session
// manager satisfies it.
type AudioSink interface {
	SendAudio(streamID string, pcm []byte) error
	SendMark(streamID, name string) error
}

// Orchestrator implements repositories.TranscriptHandler. Final transcripts
// flow through generation and synthesis; interim ones only update the
// transcript log at debug level.
type Orchestrator struct {
	state     *entities.ConversationState
	generator repositories.ResponseGenerator
	tts       repositories.TextToSpeech
	sink      AudioSink
	latency   *telemetry.LatencyTracker
	logger    *zap.Logger
}

func New(
	state *entities.ConversationState,
	generator repositories.ResponseGenerator,
	tts repositories.TextToSpeech,
	sink AudioSink,
	latency *telemetry.LatencyTracker,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		state:     state,
		generator: generator,
		tts:       tts,
		sink:      sink,
		latency:   latency,
		logger:    logger,
	}
}

// ProcessTranscript runs one caller utterance through the pipeline. Errors
// from generation or synthesis are returned and end the session; the call is
// unusable without a response path.
func (o *Orchestrator) ProcessTranscript(ctx context.Context, transcript repositories.Transcript) error {
	text := strings.TrimSpace(transcript.Text)
	if text == "" {
		return nil
	}
	if !transcript.IsFinal {
		o.logger.Debug("Interim transcript",
			zap.String("streamID", o.state.StreamID),
			zap.String("text", text))
		return nil
	}

	started := time.Now()
	o.state.AddTurn(entities.SpeakerCaller, text, transcript.Confidence, entities.IntentUnknown, nil)
	o.logger.Info("Caller said",
		zap.String("streamID", o.state.StreamID),
		zap.Float64("confidence", transcript.Confidence))

	reply, err := o.generator.GenerateReply(ctx, o.state, text)
	if err != nil {
		return fmt.Errorf("failed to generate reply: %w", err)
	}
	if o.latency != nil {
		o.latency.RecordResponseGenerated()
	}
	o.state.AddTurn(entities.SpeakerAssistant, reply, 1.0, entities.IntentUnknown, nil)

	audio, err := o.tts.ConvertTextToSpeech(ctx, reply)
	if err != nil {
		return fmt.Errorf("failed to synthesize reply: %w", err)
	}

	sentTTS := false
	for chunk := range audio {
		if len(chunk) == 0 {
			continue
		}
		if !sentTTS {
			if o.latency != nil {
				o.latency.RecordTTSGenerated()
			}
			sentTTS = true
		}
		if err := o.sink.SendAudio(o.state.StreamID, chunk); err != nil {
			return fmt.Errorf("failed to send response audio: %w", err)
		}
	}
	if err := o.sink.SendMark(o.state.StreamID, "response_complete"); err != nil {
		o.logger.Warn("Failed to send response mark",
			zap.String("streamID", o.state.StreamID), zap.Error(err))
	}

	o.state.RecordResponseTime(float64(time.Since(started).Milliseconds()))
	o.logger.Info("Response delivered",
		zap.String("streamID", o.state.StreamID),
		zap.Duration("took", time.Since(started)))
	return nil
}

// Cleanup releases orchestrator resources. The generation and synthesis
// clients are shared across calls, so there is nothing per-call to tear down
// beyond logging the conversation summary.
func (o *Orchestrator) Cleanup() error {
	o.logger.Info("Orchestrator cleaned up",
		zap.String("streamID", o.state.StreamID),
		zap.Int("turns", o.state.TurnCount()),
		zap.Float64("avgResponseMs", o.state.AverageResponseTime()))
	return nil
}
