package repositories

import (
	"context"

	"github.com/siphio/phone-receptionist/server/domain/entities"
)

// ResponseGenerator abstracts the language model that produces the
// receptionist's reply to a caller utterance.
type ResponseGenerator interface {
	GenerateReply(ctx context.Context, state *entities.ConversationState, userText string) (string, error)
}
