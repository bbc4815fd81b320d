package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"ripple-chat/config"
	"ripple-chat/internal/domain"
	"ripple-chat/pkg/database"
)

const usage = `
Ripple Chat - Database CLI Tool

Usage:
  migrate [command]

Commands:
  up          Run GORM migrations for all tables
  status      Show database connection status
  reset       Drop all tables and re-run migrations (DANGEROUS)

Examples:
  go run cmd/migrate/main.go up
  go run cmd/migrate/main.go status
  go run cmd/migrate/main.go reset
`

func main() {
	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	command := flag.Arg(0)

	cfg := config.LoadConfig()
	database.Connect(cfg)

	models := []interface{}{
		&domain.User{},
		&domain.Conversation{},
		&domain.Participant{},
		&domain.Message{},
		&domain.Attachment{},
		&domain.MessageReceipt{},
		&domain.MessageReaction{},
		&domain.Friendship{},
		&domain.Notification{},
	}

	switch command {
	case "up":
		if err := database.DB.AutoMigrate(models...); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		log.Println("migrations applied")

	case "status":
		if err := database.HealthCheck(); err != nil {
			log.Fatalf("database unreachable: %v", err)
		}
		log.Println("database connection OK")

	case "reset":
		if err := database.DB.Migrator().DropTable(models...); err != nil {
			log.Fatalf("drop tables failed: %v", err)
		}
		if err := database.DB.AutoMigrate(models...); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		log.Println("database reset complete")

	default:
		flag.Usage()
		os.Exit(1)
	}
}
