package repositories

import "context"

// TranscriptHandler consumes recognized speech for one call and drives the
// response pipeline. Cleanup must be safe to call after a failed or partial
// initialization.
type TranscriptHandler interface {
	ProcessTranscript(ctx context.Context, transcript Transcript) error
	Cleanup() error
}
