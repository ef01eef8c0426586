package repositories

import "context"

// Transcript is one recognition result from the speech-to-text bridge.
type Transcript struct {
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence"`
}

// SpeechBridge abstracts a streaming speech-to-text connection for one call.
// Transcripts produces an order-preserving sequence of results; the channel
// is closed when the bridge disconnects or the upstream stream ends.
type SpeechBridge interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	SendAudio(pcm []byte) error
	Transcripts() <-chan Transcript
}
