package main

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"github.com/tidecast/tidecast/internal/auth"
	"github.com/tidecast/tidecast/internal/config"
	"github.com/tidecast/tidecast/internal/crypto"
	"github.com/tidecast/tidecast/internal/handlers"
	"github.com/tidecast/tidecast/internal/logging"
	"github.com/tidecast/tidecast/internal/middleware"
	"github.com/tidecast/tidecast/internal/registry"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 && os.Args[1] == "--hash-password" {
		runHashPassword()
		return
	}

	config.Load()
	logging.Init()

	secret := []byte(config.Cfg.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			log.Fatalf("Secret init: %v", err)
		}
		log.Printf("No secret configured; generated an ephemeral one (session tokens will not survive a restart)")
	}

	reg := registry.New(secret, config.Cfg.OverrideOrigin)
	handlers.Registry = reg

	if config.Cfg.AdminPasswordHash != "" {
		tokens, err := auth.NewTokenIssuer()
		if err != nil {
			log.Fatalf("Admin token issuer init: %v", err)
		}
		handlers.AdminTokens = tokens
	} else {
		log.Printf("No admin password hash configured; admin API disabled")
	}

	// Idle session reaper driven by lastAccess.
	idleTimeout, err := time.ParseDuration(config.Cfg.SessionIdleTimeout)
	if err != nil {
		idleTimeout = time.Hour
	}
	reaper := cron.New()
	if _, err := reaper.AddFunc(config.Cfg.ReapSchedule, func() {
		reapIdleSessions(reg, idleTimeout)
	}); err != nil {
		log.Fatalf("Reaper schedule %q: %v", config.Cfg.ReapSchedule, err)
	}
	reaper.Start()
	log.Printf("Idle reaper scheduled (%s, timeout %s)", config.Cfg.ReapSchedule, idleTimeout)

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", handlers.HealthCheck)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sessions/open", handlers.OpenSession)
		r.Post("/sessions/close", handlers.CloseSession)
		r.Get("/sessions/channel", handlers.ChannelWS)
		r.Get("/sessions/{id}/watch", handlers.WatchWS)

		r.Post("/admin/login", handlers.AdminLogin)
		if handlers.AdminTokens != nil {
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin(handlers.AdminTokens))

				r.Get("/admin/sessions", handlers.ListSessions)
				r.Delete("/admin/sessions/{id}", handlers.ForceCloseSession)
				r.Get("/admin/logs", handlers.ServerLogs)
				r.Delete("/admin/logs", handlers.ClearServerLogs)
			})
		}
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	if config.Cfg.EnableTLS {
		cert, err := crypto.ListenerCert(config.Cfg.TLSCertFile, config.Cfg.TLSKeyFile, []string{"localhost", "127.0.0.1"})
		if err != nil {
			log.Fatalf("TLS init: %v", err)
		}
		srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
		if config.Cfg.TLSCertFile == "" {
			log.Printf("No TLS cert configured; serving a self-signed certificate")
		}
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		var err error
		if config.Cfg.EnableTLS {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	reaper.Stop()
	for _, sess := range reg.List() {
		sess.Terminate()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

// reapIdleSessions runs one pass of the idle reaper.
func reapIdleSessions(reg *registry.Registry, idleTimeout time.Duration) {
	if n := reg.ReapIdle(idleTimeout); n > 0 {
		log.Printf("Reaped %d idle sessions", n)
	}
}

func runHashPassword() {
	fs := flag.NewFlagSet("hash-password", flag.ExitOnError)
	password := fs.String("password", "", "Password to hash")
	fs.Parse(os.Args[2:])

	if *password == "" {
		fmt.Fprintln(os.Stderr, "Usage: tidecast --hash-password --password <pass>")
		os.Exit(1)
	}

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}
	fmt.Println(hash)
}
