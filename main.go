package main

import (
	"log"
	"os"
	"time"

	"dminbox/internal/api"
	"dminbox/internal/auth"
	"dminbox/internal/config"
	"dminbox/internal/redis"
	"dminbox/internal/responder"
	"dminbox/internal/service/inbox"
	"dminbox/internal/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("DMINBOX_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("DMINBOX_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	rdb, err := redis.NewClient(cfg)
	if err != nil {
		log.Printf("redis unavailable, continuing without cache: %v", err)
		rdb = nil
	} else {
		defer rdb.Close()
	}

	inboxService := inbox.NewService(db, dbType)
	authService := auth.NewService(db, rdb)

	dispatcherCfg := responder.DispatcherConfig{
		MinWorkers:        cfg.BasicConfig.MinWorkers,
		MaxWorkers:        cfg.BasicConfig.MaxWorkers,
		QueueSize:         cfg.BasicConfig.QueueSize,
		WorkerIdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
	}
	generator := responder.NewOpenAIGenerator(cfg.Responder)
	if generator == nil {
		log.Println("no responder api key configured, auto-reply disabled")
	}
	manager := responder.NewManager(inboxService, generator, rdb, cfg.Responder, dispatcherCfg)

	handlers := api.NewHandler(inboxService, authService, manager, cfg.Webhook)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
