package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/angwiki/modqueue-backend/internal/config"
	"github.com/angwiki/modqueue-backend/internal/contentsave"
	"github.com/angwiki/modqueue-backend/internal/handler"
	"github.com/angwiki/modqueue-backend/internal/middleware"
	"github.com/angwiki/modqueue-backend/internal/migration"
	"github.com/angwiki/modqueue-backend/internal/reconcile"
	"github.com/angwiki/modqueue-backend/internal/repository"
	"github.com/angwiki/modqueue-backend/internal/routes"
	"github.com/angwiki/modqueue-backend/internal/service"
	pkgcache "github.com/angwiki/modqueue-backend/pkg/cache"
	"github.com/angwiki/modqueue-backend/pkg/jwt"
	pkglogger "github.com/angwiki/modqueue-backend/pkg/logger"
	pkgredis "github.com/angwiki/modqueue-backend/pkg/redis"
	"github.com/angwiki/modqueue-backend/pkg/stash"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// getConfigPath returns config file path based on APP_ENV environment variable
func getConfigPath() string {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf("configs/config.%s.yaml", env)
}

func main() {
	dotenvFiles := config.LoadDotEnv()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "local"
	}
	pkglogger.InitStructured(env)
	logger := pkglogger.GetLogger()
	logger.Info().Str("env", env).Strs("env_files", dotenvFiles).Msg("starting")

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := initDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := migration.Run(db); err != nil {
		logger.Warn().Err(err).Msg("migration warning")
	}

	// Redis is optional; without it the notification badge degrades to off
	var cacheService pkgcache.Service
	redisClient, err := pkgredis.NewClient(
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Redis.PoolSize,
	)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, continuing without cache")
		cacheService = pkgcache.NewNoopCache()
	} else {
		cacheService = pkgcache.NewRedisCache(redisClient)
	}

	var stashStore stash.Store
	if cfg.Stash.Bucket != "" {
		stashStore, err = stash.NewS3Store(stash.S3Config{
			Endpoint:        cfg.Stash.Endpoint,
			Region:          cfg.Stash.Region,
			AccessKeyID:     cfg.Stash.AccessKeyID,
			SecretAccessKey: cfg.Stash.SecretAccessKey,
			Bucket:          cfg.Stash.Bucket,
			BasePath:        cfg.Stash.BasePath,
			ForcePathStyle:  cfg.Stash.ForcePathStyle,
		})
		if err != nil {
			log.Fatalf("Failed to init stash store: %v", err)
		}
	} else {
		logger.Warn().Msg("no stash bucket configured, staging uploads in memory")
		stashStore = stash.NewMemoryStore()
	}

	jwtManager := jwt.NewManager(cfg.JWT.Secret, 24*time.Hour)

	// Core wiring: one reconciliation wave per process, shared between the
	// approval engine (writes corrections) and the skip policy (reads the
	// approve-mode flag so replays pass through).
	entryRepo := repository.NewEntryRepository(db)
	wave := reconcile.NewWave(db, *logger)
	engine := contentsave.NewGormEngine(db)
	approveService := service.NewApproveService(entryRepo, engine, wave, cfg.Moderation, *logger)

	skipPolicy := service.NewSkipPolicy(cfg.Moderation, wave)
	interceptService := service.NewInterceptService(entryRepo, skipPolicy, cacheService, cfg.Moderation, *logger)
	if cfg.Moderation.NotifyEmail != "" {
		interceptService.SetNotifier(service.NewLogNotifier(cfg.Moderation.NotifyEmail, *logger))
	}

	submitHandler := handler.NewSubmitHandler(interceptService, engine, stashStore)
	moderationHandler := handler.NewModerationHandler(entryRepo, approveService, cacheService)

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Session-Token", "X-Request-ID"},
		AllowCredentials: true,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		ExposeHeaders:    []string{"X-Request-ID"},
		MaxAge:           86400,
	}
	router.Use(cors.New(corsConfig))

	router.Use(middleware.Metrics())
	router.Use(middleware.RequestLogger())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "modqueue-backend",
			"time":    time.Now().Unix(),
		})
	})

	routes.Setup(router, submitHandler, moderationHandler, jwtManager)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info().Str("addr", addr).Msg("listening")
	if err := router.Run(addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func initDB(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}
	db, err := gorm.Open(mysql.Open(cfg.Database.DSN()), gormCfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}
