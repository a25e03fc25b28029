package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"taskboard/api/internal/app"
	"taskboard/api/internal/authpw"
	"taskboard/api/internal/config"
	"taskboard/api/internal/email"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/search"
	"taskboard/api/internal/session"
	"taskboard/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer sessions.Close()

	accounts := authpw.NewService(dataStore)

	pg := search.NewPg(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pg)
	if meiliClient != nil {
		go searchService.ReindexAllFromPG(ctx)
	}

	mail := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mail.IsConfigured() {
		log.Printf("SMTP not configured, invite emails disabled")
	}

	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()

	hub := realtime.NewHub(realtime.NewRegistry())
	var broadcaster realtime.Broadcaster = hub
	if cfg.RedisEventChannel != "" {
		rb := realtime.NewRedisBroadcaster(sessions.Client(), cfg.RedisEventChannel, hub)
		go rb.Relay(relayCtx)
		broadcaster = rb
		log.Printf("Event fan-out via Redis channel %q", cfg.RedisEventChannel)
	}

	service := app.New(cfg, dataStore, sessions, accounts, broadcaster, searchService, mail)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	gateway := realtime.NewGateway(hub, service, cfg.HandshakeTimeout)

	// The websocket endpoint bypasses the API middleware: the response
	// recorder used for access logging does not implement http.Hijacker,
	// which the upgrade needs.
	mux := http.NewServeMux()
	mux.Handle("/ws", gateway)
	mux.Handle("/", httpServer.Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Taskboard API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	stopRelay()
	hub.Shutdown()
}
