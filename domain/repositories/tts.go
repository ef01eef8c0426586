package repositories

import "context"

// TextToSpeech converts a reply into streamed PCM audio chunks. The returned
// channel is closed when synthesis finishes or fails.
type TextToSpeech interface {
	ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error)
}
