package tts

import (
	"context"
	"fmt"
	"strings"
)

// MockTTS produces silent PCM sized to the text length, for development and
// tests without vendor credentials.
type MockTTS struct {
	// bytesPerRune scales how much audio each character yields.
	bytesPerRune int
}

func NewMockTTS() *MockTTS {
	return &MockTTS{bytesPerRune: 160}
}

func (m *MockTTS) ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	out := make(chan []byte, 4)
	go func() {
		defer close(out)
		total := len([]rune(text)) * m.bytesPerRune
		const chunkSize = 3200
		for total > 0 {
			n := chunkSize
			if total < n {
				n = total
			}
			total -= n
			select {
			case out <- make([]byte, n):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
