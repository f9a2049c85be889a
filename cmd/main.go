package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/yungbote/brains-backend/internal/chat"
	"github.com/yungbote/brains-backend/internal/db"
	"github.com/yungbote/brains-backend/internal/gravity"
	"github.com/yungbote/brains-backend/internal/handlers"
	"github.com/yungbote/brains-backend/internal/identity"
	"github.com/yungbote/brains-backend/internal/memlog"
	"github.com/yungbote/brains-backend/internal/persona"
	"github.com/yungbote/brains-backend/internal/platform/envutil"
	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/platform/openai"
	"github.com/yungbote/brains-backend/internal/platform/qdrant"
	"github.com/yungbote/brains-backend/internal/platform/redis"
	"github.com/yungbote/brains-backend/internal/policy"
	"github.com/yungbote/brains-backend/internal/profiles"
	"github.com/yungbote/brains-backend/internal/repos"
	"github.com/yungbote/brains-backend/internal/retrieval"
	"github.com/yungbote/brains-backend/internal/server"
	"github.com/yungbote/brains-backend/internal/telemetry"
	"github.com/yungbote/brains-backend/internal/threads"
)

func main() {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		_ = godotenv.Load(envFile)
	} else {
		_ = godotenv.Load()
	}

	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Clients
	log.Info("Setting up clients from main...")
	qdrantCfg, err := qdrant.ResolveConfigFromEnv()
	if err != nil {
		log.Error("Could not resolve Qdrant config", "error", err)
		os.Exit(1)
	}
	store, err := qdrant.NewMemoryStore(log, qdrantCfg)
	if err != nil {
		log.Error("Could not init Qdrant memory store", "error", err)
		os.Exit(1)
	}
	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init OpenAIClient", "error", err)
		os.Exit(1)
	}
	cache, err := redis.NewCache(log)
	if err != nil {
		log.Error("Could not init Redis cache", "error", err)
		os.Exit(1)
	}

	// Repos
	log.Info("Setting up Repos from main...")
	threadRepo := repos.NewThreadRepo(thePG, log)
	chatLogRepo := repos.NewChatLogRepo(thePG, log)
	telemetryRepo := repos.NewTelemetryRepo(thePG, log)
	vsProfileRepo := repos.NewVSProfileRepo(thePG, log)
	answerTraceRepo := repos.NewAnswerTraceRepo(thePG, log)
	userAliasRepo := repos.NewUserAliasRepo(thePG, log)
	ragPolicyRepo := repos.NewRagPolicyRepo(thePG, log)

	// Services
	log.Info("Setting up Services from main...")
	identityService := identity.NewService(userAliasRepo, log)
	policyService := policy.NewService(ragPolicyRepo, cache, log)
	gravityService := gravity.NewService(store, openaiClient, log)
	retrievalEngine := retrieval.NewEngine(store, openaiClient, policyService, gravityService, log)
	personaService := persona.NewService(store, openaiClient, log)
	chatService := chat.NewService(identityService, retrievalEngine, personaService, gravityService, openaiClient, store, answerTraceRepo, chatLogRepo, cache, log)
	telemetryService := telemetry.NewService(telemetryRepo, log)
	memlogService := memlog.NewService(identityService, chatLogRepo, threadRepo, answerTraceRepo, telemetryRepo, vsProfileRepo, store, openaiClient, log)
	threadsService := threads.NewService(identityService, threadRepo, chatLogRepo, store, log)
	profilesService := profiles.NewService(identityService, vsProfileRepo, log)

	// Handlers
	log.Info("Setting up handlers from main...")
	chatHandler := handlers.NewChatHandler(log, chatService)
	memoryHandler := handlers.NewMemoryHandler(log, memlogService)
	threadsHandler := handlers.NewThreadsHandler(log, threadsService)
	gravityHandler := handlers.NewGravityHandler(log, gravityService, identityService)
	policyHandler := handlers.NewPolicyHandler(log, policyService)
	telemetryHandler := handlers.NewTelemetryHandler(log, telemetryService)
	profilesHandler := handlers.NewProfilesHandler(log, profilesService)
	ttsHandler := handlers.NewTTSHandler(log, openaiClient)
	voiceHandler := handlers.NewVoiceHandler(log)
	healthHandler := handlers.NewHealthHandler(log, thePG)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		ChatHandler:      chatHandler,
		MemoryHandler:    memoryHandler,
		ThreadsHandler:   threadsHandler,
		GravityHandler:   gravityHandler,
		PolicyHandler:    policyHandler,
		TelemetryHandler: telemetryHandler,
		ProfilesHandler:  profilesHandler,
		TTSHandler:       ttsHandler,
		VoiceHandler:     voiceHandler,
		HealthHandler:    healthHandler,
	})

	port := envutil.String("PORT", "8000")
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
