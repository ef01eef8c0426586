package llm

import (
	"context"
	"fmt"

	"github.com/siphio/phone-receptionist/server/domain/entities"
)

// MockGenerator is a canned reply generator for local development and tests.
type MockGenerator struct{}

func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// GenerateReply echoes a short acknowledgement so the pipeline can be
// exercised end to end without vendor credentials.
func (g *MockGenerator) GenerateReply(ctx context.Context, state *entities.ConversationState, userText string) (string, error) {
	if state.TurnCount() <= 1 {
		return "Thanks for calling! How can I help you today?", nil
	}
	return fmt.Sprintf("I heard you say %q. Let me check that for you.", userText), nil
}
