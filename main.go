package main

import (
	"context"
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

	"github.com/gluk-w/shellpilot/internal/auth"
	"github.com/gluk-w/shellpilot/internal/config"
	"github.com/gluk-w/shellpilot/internal/database"
	"github.com/gluk-w/shellpilot/internal/handlers"
	"github.com/gluk-w/shellpilot/internal/logging"
	"github.com/gluk-w/shellpilot/internal/middleware"
	"github.com/gluk-w/shellpilot/internal/planner"
	"github.com/gluk-w/shellpilot/internal/shellsession"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--create-admin":
			runCLICommand("create-admin")
			return
		case "--reset-password":
			runCLICommand("reset-password")
			return
		}
	}

	config.Load()
	logging.Init()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	log.Printf("Config: AuthDisabled=%v, AIBackend=%s, Model=%s",
		config.Cfg.AuthDisabled, config.Cfg.AIBackendURL, config.Cfg.AIModel)

	// Global rules file for the AI planner and safety gate
	rules, err := config.LoadRules(config.Cfg.RulesPath)
	if err != nil {
		log.Fatalf("Load rules file: %v", err)
	}
	handlers.GlobalRules = rules

	// AI planner over the configured text-generation backend
	backend := planner.NewHTTPBackend(config.Cfg.AIBackendURL, config.Cfg.AIBackendKey, config.Cfg.AIModel)
	handlers.AIPlanner = planner.New(backend)

	// Shell session registry for graceful shutdown
	sessions := shellsession.NewRegistry()
	handlers.Sessions = sessions

	// Init session store
	sessionStore := auth.NewSessionStore()
	handlers.SessionStore = sessionStore

	// Background jobs: expired auth sessions, command-log retention
	jobs := cron.New()
	jobs.AddFunc("@every 10m", sessionStore.Cleanup)
	jobs.AddFunc("@daily", func() {
		days := database.CommandLogRetentionDays()
		if days <= 0 {
			return
		}
		retention := time.Duration(days) * 24 * time.Hour
		n, err := database.PruneCommandLogs(retention)
		if err != nil {
			log.Printf("[retention] prune command logs: %v", err)
			return
		}
		if n > 0 {
			log.Printf("[retention] pruned %d command log rows", n)
		}
	})
	jobs.Start()
	defer jobs.Stop()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", handlers.HealthCheck)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Auth endpoints (no auth required)
		r.Post("/auth/login", handlers.Login)
		r.Get("/auth/setup-required", handlers.SetupRequired)
		r.Post("/auth/setup", handlers.SetupCreateAdmin)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(sessionStore))

			r.Post("/auth/logout", handlers.Logout)
			r.Get("/auth/me", handlers.GetCurrentUser)

			r.Get("/servers", handlers.ListServers)
			r.Get("/servers/{id}", handlers.GetServer)
			r.Get("/servers/{id}/history", handlers.ServerHistory)

			// Shell WebSocket
			r.Get("/servers/{id}/shell", handlers.ShellWS)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)

				r.Get("/users", handlers.ListUsers)
				r.Post("/users", handlers.CreateUser)
				r.Delete("/users/{userId}", handlers.DeleteUser)
				r.Put("/users/{userId}/role", handlers.UpdateUserRole)
				r.Get("/users/{userId}/servers", handlers.GetUserAssignedServers)
				r.Put("/users/{userId}/servers", handlers.SetUserAssignedServers)
				r.Post("/users/{userId}/reset-password", handlers.ResetUserPassword)

				r.Get("/logs", handlers.GetServerLogs)
				r.Delete("/logs", handlers.ClearServerLogs)

				r.Get("/settings", handlers.GetSettings)
				r.Put("/settings", handlers.UpdateSettings)
			})
		})
	})

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	sessions.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func runCLICommand(command string) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	username := fs.String("username", "", "Username")
	password := fs.String("password", "", "Password")
	fs.Parse(os.Args[2:])

	if *username == "" || *password == "" {
		fmt.Fprintf(os.Stderr, "Usage: shellpilot --%s --username <user> --password <pass>\n", command)
		os.Exit(1)
	}

	config.Load()
	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	switch command {
	case "create-admin":
		user := &database.User{
			Username:     *username,
			PasswordHash: hash,
			Role:         "admin",
		}
		if err := database.CreateUser(user); err != nil {
			log.Fatalf("Failed to create admin: %v", err)
		}
		fmt.Printf("Admin user '%s' created successfully.\n", *username)

	case "reset-password":
		user, err := database.GetUserByUsername(*username)
		if err != nil {
			log.Fatalf("User '%s' not found", *username)
		}
		if err := database.UpdateUserPassword(user.ID, hash); err != nil {
			log.Fatalf("Failed to update password: %v", err)
		}
		fmt.Printf("Password reset for '%s'. Note: existing sessions will expire within 1 hour.\n", *username)
	}
}
