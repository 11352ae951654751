package main

import (
	"context"
	"log"
	"os"
	"time"

	"patchcert/adapters/sqlstore"
	"patchcert/internal/migration"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	driver, dsn := os.Getenv("STORE_DRIVER"), os.Getenv("DATABASE_URL")
	if len(os.Args) == 3 {
		driver, dsn = os.Args[1], os.Args[2]
	}
	if driver == "" || dsn == "" {
		log.Fatal("Usage: migrate <sqlite|postgres> <dsn>  (or set STORE_DRIVER and DATABASE_URL)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	log.Printf("Applying schema %s to %s store", migration.NewRunner().Version(), driver)
	store, err := sqlstore.Open(ctx, driver, dsn)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	defer store.Close()

	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		log.Fatalf("Schema check failed: %v", err)
	}
	log.Printf("Schema ready; %d runs stored", len(runs))
}
