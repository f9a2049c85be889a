package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yungbote/brains-backend/internal/handlers"
	"github.com/yungbote/brains-backend/internal/middleware"
	"github.com/yungbote/brains-backend/internal/platform/envutil"
)

type RouterConfig struct {
	ChatHandler      *handlers.ChatHandler
	MemoryHandler    *handlers.MemoryHandler
	ThreadsHandler   *handlers.ThreadsHandler
	GravityHandler   *handlers.GravityHandler
	PolicyHandler    *handlers.PolicyHandler
	TelemetryHandler *handlers.TelemetryHandler
	ProfilesHandler  *handlers.ProfilesHandler
	TTSHandler       *handlers.TTSHandler
	VoiceHandler     *handlers.VoiceHandler
	HealthHandler    *handlers.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	origins := envutil.CSV("CORS_ALLOW_ORIGINS")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowAllOrigins:  len(origins) == 0,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-Request-Id", "X-Correlation-Id", "X-Vs-Actor-User-Id"},
		AllowCredentials: false,
	}))
	router.Use(middleware.RequestIDMiddleware())

	// ===============
	// || Health    ||
	// ===============
	router.GET("/healthz", cfg.HealthHandler.Healthz)
	router.GET("/readyz", cfg.HealthHandler.Readyz)

	// ===============
	// || Memory    ||
	// ===============
	router.POST("/log", cfg.MemoryHandler.Log)
	router.POST("/retrieve", cfg.MemoryHandler.Retrieve)
	router.POST("/retrieve_memory", cfg.MemoryHandler.RetrieveMemory)
	router.POST("/memory_feedback", cfg.ChatHandler.MemoryFeedback)

	// ===============
	// || Threads   ||
	// ===============
	threads := router.Group("/threads")
	{
		threads.POST("/new", cfg.ThreadsHandler.Create)
		threads.GET("/list/:user_id", cfg.ThreadsHandler.List)
		threads.GET("/:thread_id/messages", cfg.ThreadsHandler.Messages)
		threads.POST("/:thread_id/rename", cfg.ThreadsHandler.Rename)
		threads.POST("/:thread_id/archive", cfg.ThreadsHandler.Archive)
		threads.DELETE("/:thread_id", cfg.ThreadsHandler.Delete)
	}

	// ===============
	// || Profiles  ||
	// ===============
	router.POST("/gravity/rebuild", cfg.GravityHandler.RebuildGravity)
	router.POST("/vb_desire/rebuild", cfg.GravityHandler.RebuildDesire)
	router.GET("/temporal/:user_id", cfg.ChatHandler.Temporal)
	router.POST("/profiles/upsert", cfg.ProfilesHandler.Upsert)
	router.GET("/profiles/:user_id/default", cfg.ProfilesHandler.GetDefault)

	// ===============
	// || Cards     ||
	// ===============
	cards := router.Group("/cards")
	{
		cards.GET("/:user_id", cfg.MemoryHandler.ListCards)
		cards.POST("/:user_id", cfg.MemoryHandler.UpsertCard)
		cards.DELETE("/:user_id/:card_id", cfg.MemoryHandler.DeleteCard)
	}

	// ===============
	// || User data ||
	// ===============
	user := router.Group("/user")
	{
		user.GET("/:user_id/export", cfg.MemoryHandler.ExportUserData)
		user.DELETE("/:user_id/data", cfg.MemoryHandler.DeleteUserData)
		user.DELETE("/:user_id/recent", cfg.MemoryHandler.DeleteRecentUserData)
	}

	// ===============
	// || Chat      ||
	// ===============
	rag := router.Group("/rag")
	{
		rag.POST("/query", cfg.ChatHandler.RagQuery)
		rag.POST("/feedback", cfg.ChatHandler.RagFeedback)
	}
	vantage := router.Group("/vantage")
	{
		vantage.POST("/query", cfg.ChatHandler.VantageQuery)
		vantage.POST("/feedback", cfg.ChatHandler.VantageFeedback)
		vantage.GET("/rag_policy", cfg.PolicyHandler.Get)
		vantage.POST("/rag_policy", cfg.PolicyHandler.Upsert)
	}

	// ===============
	// || Telemetry ||
	// ===============
	router.POST("/telemetry/event", cfg.TelemetryHandler.Event)
	router.GET("/metrics/timeseries", cfg.TelemetryHandler.Timeseries)

	// ===============
	// || Voice     ||
	// ===============
	router.POST("/tts", cfg.TTSHandler.Speak)
	router.GET("/ws/voice", cfg.VoiceHandler.Relay)

	// ===============
	// || Boundary  ||
	// ===============
	router.POST("/forms/submit", handlers.FormsSubmit)
	router.GET("/forms/:form_id", handlers.FormsGet)
	router.GET("/catalog/list", handlers.CatalogList)
	router.GET("/catalog/:item_id", handlers.CatalogGet)

	return router
}
