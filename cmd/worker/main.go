package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"snackticket/internal/config"
	"snackticket/internal/history"
	"snackticket/internal/queue"
	"snackticket/internal/store"
)

// Worker consumes redemption events and persists them to the history table.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	repo := history.NewRepository(db.Client)
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatalf("schema ensure failed: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "tickets:redemptions")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for redemption events...")
	for msg := range messages {
		if msg.Type != "redemption" {
			continue
		}

		var evt history.Event
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("bad redemption event payload: %v", err)
			continue
		}

		saved, err := repo.Insert(ctx, evt)
		if err != nil {
			log.Printf("persist event for student %s failed: %v", evt.StudentID, err)
			continue
		}
		log.Printf("recorded redemption %s for student %s (%s)", saved.TicketNumber, saved.StudentID, saved.ClassID)
	}

	log.Println("worker stopped")
}
