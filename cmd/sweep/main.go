// sweep 리퍼와 만료 투표 정리를 한 번 실행하는 운영용 CLI
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"livepoll-backend/internal/database"
	"livepoll-backend/internal/service"
	"livepoll-backend/internal/worker"
)

func main() {
	var (
		envFile   string
		skipRooms bool
		skipPolls bool
		timeout   time.Duration
	)
	pflag.StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading DB_* variables")
	pflag.BoolVar(&skipRooms, "skip-rooms", false, "do not run the room reaper")
	pflag.BoolVar(&skipPolls, "skip-polls", false, "do not complete expired polls")
	pflag.DurationVar(&timeout, "timeout", 2*time.Minute, "overall deadline for the sweep")
	pflag.Parse()

	if err := godotenv.Load(envFile); err != nil {
		log.Printf("ℹ️ %s not loaded, using environment variables", envFile)
	}

	db, err := database.ConnectDB(database.LoadConfig())
	if err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	defer database.Close(db)

	fmt.Println("✅ Connected to database")
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	exitCode := 0

	if !skipRooms {
		closed, err := worker.NewReaper(db, nil).Sweep(ctx)
		if err != nil {
			log.Printf("❌ Room reaper failed: %v", err)
			exitCode = 1
		}
		fmt.Printf("🧹 Rooms closed: %d\n", len(closed))
		for _, id := range closed {
			fmt.Printf("  - room %d\n", id)
		}
	}

	if !skipPolls {
		engine := service.NewPollEngine(db, nil, service.NewRegistry(db, nil))
		n, err := engine.SweepExpired(ctx)
		if err != nil {
			log.Printf("❌ Poll sweep failed: %v", err)
			exitCode = 1
		}
		fmt.Printf("🏁 Expired polls completed: %d\n", n)
	}

	if exitCode != 0 {
		database.Close(db)
		os.Exit(exitCode)
	}
}
