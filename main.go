package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"example.com/communityfeed/cmd/server"
	"example.com/communityfeed/cmd/worker"
	"example.com/communityfeed/internal/auth"
	appkafka "example.com/communityfeed/internal/broker"
	"example.com/communityfeed/internal/feed"
	"example.com/communityfeed/internal/forms"
	config "example.com/communityfeed/internal/init"
	"example.com/communityfeed/internal/logger"
	"example.com/communityfeed/internal/store"
)

func main() {
	// Initialize application configuration
	cfg := config.Init()
	logger.SetLevel(cfg.LogLevel)

	// Setup OS signal handling for graceful shutdown (SIGINT, SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kafkaCfg := appkafka.ConfigFrom(cfg)

	switch cfg.Mode {
	case "server":
		// API server: store writes, then change events to Kafka
		st, err := store.New(ctx)
		if err != nil {
			log.Fatalf("store connection failed: %v", err)
		}
		defer st.Close()

		kafkaWriter, err := appkafka.NewKafkaWriter(ctx, kafkaCfg)
		if err != nil {
			log.Fatalf("Kafka writer init failed: %v", err)
		}
		defer kafkaWriter.Close()

		svc := auth.NewService(st, auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL), cfg.BcryptCost)
		agg := feed.New(st, cfg.AggregateChunk, cfg.AggregateParallelism)
		s := server.New(st, kafkaWriter, svc, agg, forms.PostRules{RequirePrice: cfg.PostPriceRequired})

		if err := server.Run(ctx, s, cfg.ServerAddr, cfg.TLSCert, cfg.TLSKey); err != nil {
			log.Printf("server stopped: %v", err)
		}
	case "worker":
		// Realtime gateway: Kafka events fanned out to websocket subscribers
		w := worker.New(appkafka.NewKafkaReader(kafkaCfg), worker.NewHub(), 0, 0)

		go func() {
			if err := w.Serve(ctx, cfg.RealtimeAddr); err != nil {
				log.Printf("realtime server stopped: %v", err)
				stop()
			}
		}()
		w.Run(ctx)
		if err := w.Close(); err != nil {
			log.Printf("worker close: %v", err)
		}
	default:
		log.Fatalf("unknown mode: %s", cfg.Mode)
	}

	log.Println("Shutdown completed")
}
