package main

import (
	"flag"
	"log"
	"time"

	"github.com/angwiki/modqueue-backend/internal/config"
	"github.com/angwiki/modqueue-backend/internal/domain"
	"github.com/angwiki/modqueue-backend/internal/migration"
	"github.com/joho/godotenv"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.local.yaml", "config file path")
	verbose := flag.Bool("verbose", false, "verbose SQL logging")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logLevel := gormlogger.Warn
	if *verbose {
		logLevel = gormlogger.Info
	}
	db, err := gorm.Open(mysql.Open(cfg.Database.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	start := time.Now()
	if err := migration.Run(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	var pending int64
	db.Model(&domain.ModEntry{}).
		Where("mod_rejected = ? AND mod_merged_revid = 0", false).
		Count(&pending)

	log.Printf("Migration complete in %s, %d pending entries", time.Since(start).Round(time.Millisecond), pending)
}
