package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-server/internal/auth"
	"chat-server/internal/config"
	"chat-server/internal/database"
	"chat-server/internal/handlers"
	myMiddleware "chat-server/internal/middleware"
	"chat-server/internal/realtime"
	"chat-server/internal/services"
	"chat-server/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	cfg := config.Load()

	db, err := database.NewPostgresDB(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		logger.Fatal("Failed to migrate schema: %v", err)
	}

	// Services
	authService := auth.NewService(db, cfg)
	rt := realtime.NewServer(db, realtime.Config{
		StoreTimeout: cfg.Realtime.StoreTimeout,
		TypingTTL:    cfg.Realtime.TypingTTL,
		SendBuffer:   cfg.Realtime.SendBuffer,
	})
	chatService := services.NewChatService(db, rt)

	// Handlers
	authHandlers := handlers.NewAuthHandlers(authService, db)
	userHandlers := handlers.NewUserHandlers(db)
	chatHandlers := handlers.NewChatHandlers(chatService)
	messageHandlers := handlers.NewMessageHandlers(chatService)
	wsHandlers := handlers.NewWebSocketHandlers(rt, db)

	authMiddleware := myMiddleware.NewAuthMiddleware(authService)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", authHandlers.Register)
		r.Post("/auth/login", authHandlers.Login)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Handle)

			r.Post("/auth/refresh", authHandlers.Refresh)
			r.Post("/auth/logout", authHandlers.Logout)
			r.Get("/auth/me", authHandlers.Me)
			r.Put("/auth/profile", authHandlers.UpdateProfile)

			r.Get("/users", userHandlers.ListUsers)
			r.Get("/users/{id}", userHandlers.GetUser)

			r.Get("/chats", chatHandlers.ListChats)
			r.Post("/chats", chatHandlers.CreateChat)
			r.Get("/chats/search", chatHandlers.SearchChats)
			r.Route("/chats/{id}", func(r chi.Router) {
				r.Get("/", chatHandlers.GetChat)
				r.Put("/", chatHandlers.UpdateChat)
				r.Delete("/", chatHandlers.DeleteChat)
				r.Post("/participants", chatHandlers.AddParticipant)
				r.Get("/unread", chatHandlers.UnreadCount)

				r.Get("/messages", messageHandlers.ListMessages)
				r.Post("/messages", messageHandlers.SendMessage)
				r.Put("/messages/{messageID}", messageHandlers.EditMessage)
				r.Delete("/messages/{messageID}", messageHandlers.DeleteMessage)
				r.Post("/messages/read", messageHandlers.MarkRead)
			})
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/ws", wsHandlers.HandleWebSocket)
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("Server started on %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rt.Shutdown()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Shutdown error: %v", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
