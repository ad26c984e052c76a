package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"attendgate/internal/config"
	"attendgate/internal/logging"
	"attendgate/internal/queue"
	"attendgate/internal/roster"
	"attendgate/internal/store"
)

// deliveryRetries bounds how often one intent is retried against the roster
// store before it is dropped.
const deliveryRetries = 3

// Worker consumes approved attendance intents and writes them to the roster
// store. The approval decision is already final; delivery here is best effort
// with bounded retries.
func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "attendgate:intents")
	}

	ros := roster.New(cfg.RosterURL)

	messages, err := q.Consume(ctx)
	if err != nil {
		logger.Fatal("queue consume init failed", zap.Error(err))
	}

	logger.Info("worker started, waiting for intents")
	for msg := range messages {
		if msg.Type != queue.TypeAttendanceIntent {
			continue
		}

		var rec roster.AttendanceRecord
		if err := json.Unmarshal(msg.Body, &rec); err != nil {
			logger.Error("malformed intent dropped", zap.Error(err))
			continue
		}

		if err := deliver(ctx, ros, rec); err != nil {
			logger.Error("intent delivery failed",
				zap.String("student_id", rec.StudentID),
				zap.String("class_id", rec.ClassID),
				zap.Error(err))
			continue
		}

		logger.Info("attendance recorded",
			zap.String("student_id", rec.StudentID),
			zap.String("class_id", rec.ClassID),
			zap.String("status", rec.Status))
	}

	logger.Info("worker stopped")
}

func deliver(ctx context.Context, ros *roster.Client, rec roster.AttendanceRecord) error {
	var err error
	for attempt := 0; attempt < deliveryRetries; attempt++ {
		if err = ros.CreateAttendanceRecord(ctx, rec); err == nil {
			return nil
		}
		if !errors.Is(err, roster.ErrStoreUnavailable) || ctx.Err() != nil {
			return err
		}
		select {
		case <-time.After(time.Second << attempt):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
