package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/siphio/phone-receptionist/server/adapters/llm"
	"github.com/siphio/phone-receptionist/server/adapters/mongo"
	"github.com/siphio/phone-receptionist/server/adapters/redis"
	"github.com/siphio/phone-receptionist/server/adapters/stt"
	"github.com/siphio/phone-receptionist/server/adapters/tts"
	"github.com/siphio/phone-receptionist/server/domain/entities"
	"github.com/siphio/phone-receptionist/server/domain/repositories"
	"github.com/siphio/phone-receptionist/server/internal/api"
	"github.com/siphio/phone-receptionist/server/internal/auth"
	"github.com/siphio/phone-receptionist/server/internal/config"
	"github.com/siphio/phone-receptionist/server/internal/orchestrator"
	"github.com/siphio/phone-receptionist/server/internal/websocket"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	ctx := context.Background()

	// Call archive. The server keeps answering calls when MongoDB is down;
	// history is the only thing lost.
	var records repositories.CallRecordRepository
	mongoClient, err := mongo.NewClient(cfg.MongoURI, cfg.MongoDatabase, logger)
	if err != nil {
		logger.Warn("Call archive unavailable", zap.Error(err))
	} else {
		records = mongo.NewCallRepository(mongoClient.Database)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			mongoClient.Close(shutdownCtx)
		}()
	}

	// Live state snapshots, same policy as the archive.
	var snapshots repositories.StateStore
	stateStore, err := redis.NewStateStore(cfg.RedisURL, logger)
	if err != nil {
		logger.Warn("State snapshots unavailable", zap.Error(err))
	} else {
		snapshots = stateStore
		defer stateStore.Close()
	}

	generator := buildGenerator(ctx, cfg, logger)
	speech := buildSpeechSynthesis(cfg, logger)
	bridges := buildBridgeFactory(cfg, logger)

	managerConfig := websocket.DefaultManagerConfig()
	managerConfig.MaxConnections = cfg.MaxConcurrentCalls
	managerConfig.MaxResponseLatency = cfg.MaxResponseLatency
	managerConfig.Buffer.SampleRate = cfg.SampleRate
	managerConfig.Buffer.ChunkDurationMs = cfg.ChunkDurationMs
	managerConfig.Buffer.BufferDurationMs = cfg.BufferWindowMs
	managerConfig.Buffer.SilenceThreshold = cfg.SilenceThreshold
	managerConfig.Buffer.MaxBufferSize = cfg.MaxBufferedChunks
	managerConfig.Buffer.DetectVoiceActivity = cfg.VADEnabled

	var manager *websocket.Manager
	orchestrators := func(state *entities.ConversationState) repositories.TranscriptHandler {
		return orchestrator.New(state, generator, speech, manager, manager.Latency(state.StreamID), logger)
	}
	manager = websocket.NewManager(managerConfig, bridges, orchestrators, logger)

	// Twilio signature checks stay on in production no matter what the
	// environment says.
	skipSignatures := !cfg.ValidateTwilioSignatures && !cfg.IsProduction()
	validator := api.NewSignatureValidator(cfg.TwilioAuthToken, skipSignatures)
	webhooks := api.NewWebhookHandler(manager, records, snapshots, validator,
		cfg.PublicHost, cfg.SnapshotTTL, logger)

	tokens := auth.NewTokenService(cfg.JWTSecret)
	twilioConfigured := cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != ""

	api.InitRoutes(e, manager, webhooks, records, tokens, twilioConfigured, logger)

	// Sweep sessions whose transport died without a stop frame or status
	// webhook.
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(cfg.StaleSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if n := manager.CleanupStaleConnections(cfg.StaleCallMaxAge); n > 0 {
					logger.Info("Swept stale sessions", zap.Int("count", n))
				}
			}
		}
	}()

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Receptionist server started",
		zap.String("port", cfg.Port),
		zap.String("environment", cfg.Environment),
		zap.Bool("twilioConfigured", twilioConfigured),
		zap.Int("maxConcurrentCalls", cfg.MaxConcurrentCalls))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// buildGenerator picks the response generator. Without a Gemini key the
// server still answers with a scripted generator so local runs work end to
// end.
func buildGenerator(ctx context.Context, cfg *config.Config, logger *zap.Logger) repositories.ResponseGenerator {
	if cfg.GeminiAPIKey == "" {
		logger.Warn("GEMINI_API_KEY not set, using scripted responses")
		return llm.NewMockGenerator()
	}
	generator, err := llm.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, logger)
	if err != nil {
		logger.Error("Failed to initialize Gemini, using scripted responses", zap.Error(err))
		return llm.NewMockGenerator()
	}
	return generator
}

func buildSpeechSynthesis(cfg *config.Config, logger *zap.Logger) repositories.TextToSpeech {
	if cfg.ElevenLabsAPIKey == "" {
		logger.Warn("ELEVENLABS_API_KEY not set, using silent synthesis")
		return tts.NewMockTTS()
	}
	synthesizer, err := tts.NewElevenLabsTTS(tts.ElevenLabsConfig{
		APIKey:  cfg.ElevenLabsAPIKey,
		VoiceID: cfg.ElevenLabsVoiceID,
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize ElevenLabs, using silent synthesis", zap.Error(err))
		return tts.NewMockTTS()
	}
	return synthesizer
}

// buildBridgeFactory picks the transcription vendor. Deepgram wins when both
// are configured; it is the one tuned for telephony latency.
func buildBridgeFactory(cfg *config.Config, logger *zap.Logger) websocket.BridgeFactory {
	switch {
	case cfg.DeepgramAPIKey != "":
		return func(streamID string) repositories.SpeechBridge {
			return stt.NewDeepgramBridge(stt.DeepgramConfig{
				APIKey:     cfg.DeepgramAPIKey,
				SampleRate: cfg.SampleRate,
			}, logger.With(zap.String("streamID", streamID)))
		}
	case cfg.GoogleProjectID != "":
		return func(streamID string) repositories.SpeechBridge {
			return stt.NewGoogleBridge(cfg.SampleRate, "en-US", logger.With(zap.String("streamID", streamID)))
		}
	default:
		logger.Warn("No transcription vendor configured, using scripted transcripts")
		return func(streamID string) repositories.SpeechBridge {
			return stt.NewMockBridge(logger.With(zap.String("streamID", streamID)))
		}
	}
}
