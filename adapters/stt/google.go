package stt

import (
	"context"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/siphio/phone-receptionist/server/domain/repositories"
)

// GoogleBridge is a streaming recognizer backed by Google Cloud
// Speech-to-Text. Alternative to the Deepgram bridge for deployments already
// on Google credentials.
type GoogleBridge struct {
	sampleRate int
	language   string
	logger     *zap.Logger

	mu          sync.Mutex
	client      *speech.Client
	stream      speechpb.Speech_StreamingRecognizeClient
	transcripts chan repositories.Transcript
	closeOnce   sync.Once
}

func NewGoogleBridge(sampleRate int, language string, logger *zap.Logger) *GoogleBridge {
	if sampleRate == 0 {
		sampleRate = 8000
	}
	if language == "" {
		language = "en-US"
	}
	return &GoogleBridge{
		sampleRate:  sampleRate,
		language:    language,
		logger:      logger,
		transcripts: make(chan repositories.Transcript, 32),
	}
}

// Connect creates the speech client, opens the recognize stream and sends
// the recognition configuration.
func (g *GoogleBridge) Connect(ctx context.Context) error {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create speech client: %w", err)
	}

	// The stream must outlive the dial context; it ends via CloseSend.
	stream, err := client.StreamingRecognize(context.Background())
	if err != nil {
		client.Close()
		return fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz: int32(g.sampleRate),
					LanguageCode:    g.language,
				},
				InterimResults: true,
			},
		},
	}); err != nil {
		stream.CloseSend()
		client.Close()
		return fmt.Errorf("failed to send streaming config: %w", err)
	}

	g.mu.Lock()
	g.client = client
	g.stream = stream
	g.mu.Unlock()

	go g.receiveResults(stream)

	g.logger.Info("Google speech bridge connected",
		zap.Int("sampleRate", g.sampleRate),
		zap.String("language", g.language))
	return nil
}

// SendAudio forwards linear PCM to the recognizer.
func (g *GoogleBridge) SendAudio(pcm []byte) error {
	g.mu.Lock()
	stream := g.stream
	g.mu.Unlock()
	if stream == nil {
		return fmt.Errorf("google speech bridge not connected")
	}
	if len(pcm) == 0 {
		return nil
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: pcm,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

// Transcripts returns the recognition stream.
func (g *GoogleBridge) Transcripts() <-chan repositories.Transcript {
	return g.transcripts
}

// Disconnect ends the recognize stream and closes the client.
func (g *GoogleBridge) Disconnect(ctx context.Context) error {
	g.mu.Lock()
	stream := g.stream
	client := g.client
	g.stream = nil
	g.client = nil
	g.mu.Unlock()

	if stream != nil {
		if err := stream.CloseSend(); err != nil {
			g.logger.Warn("Failed to close recognize stream", zap.Error(err))
		}
	}
	if client != nil {
		if err := client.Close(); err != nil {
			return fmt.Errorf("failed to close speech client: %w", err)
		}
	}
	g.logger.Info("Google speech bridge disconnected")
	return nil
}

func (g *GoogleBridge) receiveResults(stream speechpb.Speech_StreamingRecognizeClient) {
	defer g.closeOnce.Do(func() { close(g.transcripts) })

	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			g.logger.Warn("Google speech stream ended", zap.Error(err))
			return
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			best := result.Alternatives[0]
			if best.Transcript == "" {
				continue
			}
			g.transcripts <- repositories.Transcript{
				Text:       best.Transcript,
				IsFinal:    result.IsFinal,
				Confidence: float64(best.Confidence),
			}
		}
	}
}
