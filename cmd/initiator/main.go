package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/yungbote/brains-backend/internal/cards"
	"github.com/yungbote/brains-backend/internal/db"
	"github.com/yungbote/brains-backend/internal/facts"
	"github.com/yungbote/brains-backend/internal/identity"
	"github.com/yungbote/brains-backend/internal/initiator"
	"github.com/yungbote/brains-backend/internal/platform/envutil"
	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/repos"
)

// The initiator runs as its own binary so scheduler restarts never take the
// API down with them. It shares the Postgres schemas with the API process.
func main() {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		_ = godotenv.Load(envFile)
	} else {
		_ = godotenv.Load()
	}

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

	vantageID := envutil.String("VANTAGE_ID", "default")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres (gorm for the pipelines, pgx pool for the job queue).
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

	store, err := initiator.NewStore(ctx, db.ResolveDSN(), log)
	if err != nil {
		log.Error("Initiator store init failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Repos + pipeline services
	sourceRepo := repos.NewSourceRepo(thePG, log)
	entityRepo := repos.NewEntityRepo(thePG, log)
	claimRepo := repos.NewClaimRepo(thePG, log)
	contradictionRepo := repos.NewContradictionRepo(thePG, log)
	chatLogRepo := repos.NewChatLogRepo(thePG, log)
	cardRepo := repos.NewCardRepo(thePG, log)
	userAliasRepo := repos.NewUserAliasRepo(thePG, log)

	identityService := identity.NewService(userAliasRepo, log)
	factService := facts.NewService(thePG, sourceRepo, entityRepo, claimRepo, contradictionRepo, chatLogRepo, log)
	cardService := cards.NewService(thePG, cardRepo, sourceRepo, entityRepo, claimRepo, identityService, log)

	worker := initiator.NewWorker(store, factService, cardService, vantageID, log)

	log.Info("Initiator running", "vantage_id", vantageID)
	if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("Initiator worker stopped", "error", err)
		os.Exit(1)
	}
	log.Info("Initiator shut down")
}
