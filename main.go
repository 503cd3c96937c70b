package main

import (
	"log"
	"os"
	"time"

	"flowpilot/internal/api"
	"flowpilot/internal/auth"
	"flowpilot/internal/config"
	"flowpilot/internal/credentials"
	"flowpilot/internal/models"
	"flowpilot/internal/provider"
	"flowpilot/internal/redis"
	"flowpilot/internal/storage"
	"flowpilot/internal/workflow"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("FLOWPILOT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("FLOWPILOT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Host != "" {
		rdb, err = redis.NewClient(cfg)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer rdb.Close()
	} else {
		log.Printf("redis not configured, token cache disabled")
	}

	authService := auth.NewService(db, rdb, 24*time.Hour)
	credStore, err := credentials.NewStore(db)
	if err != nil {
		log.Fatalf("init credential store: %v", err)
	}
	resolver := credentials.NewResolver(credStore, models.CredentialTypeAnthropic)
	workflowStore := workflow.NewStore(db)
	chat := provider.NewClaude(cfg.Anthropic)

	handler := api.NewHandler(authService, credStore, resolver, workflowStore, chat)

	router := gin.Default()
	handler.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
