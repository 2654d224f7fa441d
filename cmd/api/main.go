package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"

	"revista-press/internal/api"
	"revista-press/internal/blob"
	"revista-press/internal/config"
	"revista-press/internal/mailer"
	"revista-press/internal/ratelimit"
	"revista-press/internal/registry"
	"revista-press/internal/store"
	"revista-press/internal/submission"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	blobs, err := blob.FromConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("init blob storage: %v", err)
	}

	mail, err := mailer.New(cfg)
	if err != nil {
		log.Fatalf("init mailer: %v", err)
	}

	reg := registry.New(st, mail, cfg.TokenTTL)
	sub := submission.New(st, blobs, reg, cfg.JournalCode, cfg.MaxFileSize, cfg.AllowedExtensions, cfg.RetentionWindow)

	// A nil limiter disables throttling; RATE_LIMIT_CAPACITY=0 runs without
	// a Redis dependency.
	var limiter api.RateLimiter
	if cfg.RateLimitCapacity > 0 {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		limiter = ratelimit.New(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	}

	server := api.New(cfg, st, sub, reg, blobs, limiter)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("api listening on :%s journal=%s", cfg.HTTPPort, cfg.JournalCode)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
