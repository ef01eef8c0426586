// Package llm provides reply generation over the
// repositories.ResponseGenerator interface.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/siphio/phone-receptionist/server/domain/entities"
)

const (
	defaultModel          = "gemini-2.0-flash"
	defaultTemperature    = 0.7
	defaultMaxTokens      = 256
	defaultTimeoutSeconds = 10
	historyWindow         = 10

	systemPrompt = "You are a friendly, efficient phone receptionist for a dental " +
		"practice. Keep replies short and conversational, suitable for being read " +
		"aloud. Help callers book, reschedule or cancel appointments, answer " +
		"questions about services, hours and location, and route emergencies to a " +
		"human immediately."
)

// fallbacks are spoken when generation fails; a silent line is worse than a
// canned one.
var fallbacks = []string{
	"I'm sorry, could you say that again?",
	"Apologies, I didn't quite catch that. Could you repeat it?",
	"Sorry, one moment. Could you please say that once more?",
}

// GeminiGenerator generates assistant replies with Google's Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	logger *zap.Logger
	model  string
}

func NewGeminiGenerator(ctx context.Context, apiKey string, logger *zap.Logger) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiGenerator{
		client: client,
		logger: logger,
		model:  defaultModel,
	}, nil
}

// GenerateReply produces the assistant's next line given the caller's latest
// utterance and the recent turn history. Generation failures degrade to a
// fallback line rather than an error: the call must keep talking.
func (g *GeminiGenerator) GenerateReply(ctx context.Context, state *entities.ConversationState, userText string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(systemPrompt, genai.RoleUser),
	}
	for _, turn := range state.RecentTurns(historyWindow) {
		role := genai.Role(genai.RoleUser)
		if turn.Speaker == entities.SpeakerAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, role))
	}
	contents = append(contents, genai.NewContentFromText(userText, genai.RoleUser))

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(defaultTemperature)),
		MaxOutputTokens: int32(defaultMaxTokens),
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeoutSeconds*time.Second)
	defer cancel()

	var response *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		response, err = g.client.Models.GenerateContent(ctx, g.model, contents, config)
		if err == nil {
			break
		}
		g.logger.Warn("Failed to generate content, retrying",
			zap.String("callSID", state.CallSID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		if attempt < 2 {
			time.Sleep(time.Duration(attempt+1) * time.Second)
		}
	}
	if err != nil {
		g.logger.Error("Generation failed, using fallback",
			zap.String("callSID", state.CallSID), zap.Error(err))
		return fallbackLine(), nil
	}

	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		g.logger.Warn("No content generated", zap.String("callSID", state.CallSID))
		return fallbackLine(), nil
	}

	var reply strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if part.Text != "" {
			reply.WriteString(part.Text)
		}
	}
	if reply.Len() == 0 {
		g.logger.Warn("Empty generation response", zap.String("callSID", state.CallSID))
		return fallbackLine(), nil
	}
	return reply.String(), nil
}

func fallbackLine() string {
	return fallbacks[int(time.Now().UnixNano())%len(fallbacks)]
}
