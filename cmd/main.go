package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tavernfall/loreweave-backend/internal/db"
	"github.com/tavernfall/loreweave-backend/internal/dedup"
	"github.com/tavernfall/loreweave-backend/internal/events"
	"github.com/tavernfall/loreweave-backend/internal/extraction"
	"github.com/tavernfall/loreweave-backend/internal/handlers"
	"github.com/tavernfall/loreweave-backend/internal/pipeline"
	"github.com/tavernfall/loreweave-backend/internal/platform/envutil"
	"github.com/tavernfall/loreweave-backend/internal/platform/logger"
	"github.com/tavernfall/loreweave-backend/internal/platform/neo4jdb"
	"github.com/tavernfall/loreweave-backend/internal/platform/openai"
	"github.com/tavernfall/loreweave-backend/internal/platform/qdrant"
	"github.com/tavernfall/loreweave-backend/internal/repos"
	"github.com/tavernfall/loreweave-backend/internal/server"
	"github.com/tavernfall/loreweave-backend/internal/services"
	notesync "github.com/tavernfall/loreweave-backend/internal/sync"
)

func main() {
	// Logger
	logMode := envutil.String("LOG_MODE", "development")
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos...")
	campaignRepo := repos.NewCampaignRepo(thePG, log)
	noteRepo := repos.NewNoteRepo(thePG, log)
	artifactRepo := repos.NewArtifactRepo(thePG, log)
	relationshipRepo := repos.NewRelationshipRepo(thePG, log)
	proposalRepo := repos.NewMergeProposalRepo(thePG, log)
	modelCallLogRepo := repos.NewModelCallLogRepo(thePG, log)

	// Platform clients
	log.Info("Setting up platform clients...")
	openaiClient, err := openai.NewClient(log, repos.NewCallRecorder(modelCallLogRepo, log))
	if err != nil {
		log.Error("Could not init OpenAI client", "error", err)
		os.Exit(1)
	}

	qdrantCfg, err := qdrant.ResolveConfigFromEnv()
	if err != nil {
		log.Error("Qdrant config invalid", "error", err)
		os.Exit(1)
	}
	vectorStore, err := qdrant.NewStore(log, qdrantCfg)
	if err != nil {
		log.Error("Could not init Qdrant store", "error", err)
		os.Exit(1)
	}

	neo4jClient, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Error("Could not init Neo4j client", "error", err)
		os.Exit(1)
	}
	if neo4jClient == nil {
		log.Warn("NEO4J_URI unset; graph projection disabled, graph reads use Postgres")
	}

	// Events
	bus := events.NewBusFromEnv(log)
	defer bus.Close()

	// Pipeline
	log.Info("Setting up note pipeline...")
	dedupCfg := dedup.ConfigFromEnv()
	syncCfg := notesync.ConfigFromEnv()

	extractor := extraction.NewExtractor(openaiClient, log)
	retriever := dedup.NewRetriever(dedupCfg, openaiClient, vectorStore, artifactRepo, log)
	resolver := dedup.NewResolver(artifactRepo, relationshipRepo, proposalRepo, log)
	engine := dedup.NewEngine(dedupCfg, openaiClient, retriever, resolver, artifactRepo, relationshipRepo, proposalRepo, log)
	coordinator := notesync.NewCoordinator(syncCfg, noteRepo, artifactRepo, relationshipRepo, openaiClient, vectorStore, neo4jClient, bus, log)

	pool := pipeline.NewPool(pipeline.PoolConfigFromEnv(), log)
	pool.Start(rootCtx)
	locks := pipeline.NewCampaignLocks()
	pipe := pipeline.New(pool, locks, extractor, engine, coordinator,
		noteRepo, artifactRepo, relationshipRepo, proposalRepo, bus, log)

	sweeper := notesync.NewSweeper(syncCfg, noteRepo, coordinator, pipe, log)
	sweeper.Start(rootCtx)

	// Services
	log.Info("Setting up services...")
	campaignService := services.NewCampaignService(campaignRepo, log)
	noteService := services.NewNoteService(noteRepo, campaignRepo, proposalRepo, artifactRepo,
		resolver, pipe, coordinator, locks, log)
	searchService := services.NewSearchService(campaignRepo, noteRepo, openaiClient, vectorStore, log)
	graphService := services.NewGraphService(campaignRepo, artifactRepo, relationshipRepo, neo4jClient, log)

	// Handlers
	log.Info("Setting up handlers...")
	campaignHandler := handlers.NewCampaignHandler(campaignService, graphService, searchService, log)
	noteHandler := handlers.NewNoteHandler(noteService, log)
	eventHandler := handlers.NewEventHandler(bus, log)

	// Router
	router := server.NewRouter(server.RouterConfig{
		CampaignHandler: campaignHandler,
		NoteHandler:     noteHandler,
		EventHandler:    eventHandler,
	})

	port := envutil.String("PORT", "8080")
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		log.Info("Server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", "error", err)
	}
	sweeper.Stop()
	if err := pool.Shutdown(); err != nil {
		log.Warn("Worker pool drain incomplete", "error", err)
	}
	if neo4jClient != nil {
		if err := neo4jClient.Close(shutdownCtx); err != nil {
			log.Warn("Neo4j close failed", "error", err)
		}
	}
	log.Info("Shutdown complete")
}
