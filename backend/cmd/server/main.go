// Copyright (C) 2025 msgchat <security@msgchat.dev>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/msgchat/msg/backend/handlers"
	"github.com/msgchat/msg/backend/middleware"
	"github.com/msgchat/msg/backend/presence"
	"github.com/msgchat/msg/backend/relay"
	"github.com/msgchat/msg/backend/storage"
	"github.com/msgchat/msg/backend/storage/memory"
	"github.com/msgchat/msg/backend/storage/postgres"
	redisstore "github.com/msgchat/msg/backend/storage/redis"
)

// indexCleanupInterval paces the Redis index scan that prunes ids whose
// message keys already expired.
const indexCleanupInterval = 10 * time.Minute

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx := context.Background()

	var (
		messages storage.MessageStore
		accounts storage.AccountStore
		health   func() error
	)

	if os.Getenv("DEV_MODE") == "true" {
		// In-memory stores for local development: no Postgres, no Redis,
		// everything gone on restart.
		memMessages := memory.NewMessageStore()
		memMessages.StartSweeper(ctx, time.Minute)
		messages = memMessages
		accounts = memory.NewAccountStore()
		health = func() error { return nil }
		log.Warn("running in dev mode with in-memory storage")
	} else {
		dbURL := os.Getenv("DATABASE_URL")
		if dbURL == "" {
			dbURL = "postgres://localhost/msgchat?sslmode=disable"
		}

		db, err := sql.Open("postgres", dbURL)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to database")
		}
		defer db.Close()

		store := postgres.NewStore(db)
		if err := store.Migrate(); err != nil {
			log.WithError(err).Fatal("failed to run migrations")
		}
		accounts = store

		redisAddr := os.Getenv("REDIS_URL")
		if redisAddr == "" {
			redisAddr = "localhost:6379"
		}
		rdb := goredis.NewClient(&goredis.Options{Addr: redisAddr})

		msgStore := redisstore.NewMessageStore(rdb)
		msgStore.StartCleanup(ctx, indexCleanupInterval)
		messages = msgStore

		health = db.Ping
	}

	registry := presence.NewRegistry()
	hub := relay.NewHub(registry, messages)
	signaler := relay.NewSignaler(registry)

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	jwtIssuer := os.Getenv("JWT_ISSUER")
	if jwtIssuer == "" {
		jwtIssuer = "msgchat"
	}

	authHandler := handlers.NewAuthHandler(accounts, jwtSecret, jwtIssuer, log)
	contactHandler := handlers.NewContactHandler(accounts, log)
	messageHandler := handlers.NewMessageHandler(hub, messages, log)
	streamHandler := handlers.NewStreamHandler(registry, log)
	callHandler := handlers.NewCallHandler(signaler, log)

	authMiddleware := middleware.NewAuthMiddleware(jwtSecret, jwtIssuer)

	r := mux.NewRouter()
	r.Use(middleware.CORS)

	// Public routes
	r.HandleFunc("/register", authHandler.Register).Methods("POST")
	r.HandleFunc("/login", authHandler.Login).Methods("POST")

	// Authenticated API
	api := r.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware)

	api.HandleFunc("/stream", streamHandler.Attach).Methods("GET")

	api.HandleFunc("/send", messageHandler.Send).Methods("POST")
	api.HandleFunc("/messages/toggle/{id}", messageHandler.ToggleSave).Methods("PUT")
	api.HandleFunc("/messages/nuke", messageHandler.Nuke).Methods("DELETE")
	api.HandleFunc("/messages/{userId}", messageHandler.History).Methods("GET")
	api.HandleFunc("/messages", messageHandler.BulkDelete).Methods("DELETE")

	api.HandleFunc("/add-contact", contactHandler.AddContact).Methods("POST")
	api.HandleFunc("/contacts/{username}", contactHandler.Contacts).Methods("GET")

	api.HandleFunc("/call/offer", callHandler.Offer).Methods("POST")
	api.HandleFunc("/call/answer", callHandler.Answer).Methods("POST")
	api.HandleFunc("/call/connected", callHandler.Connected).Methods("POST")
	api.HandleFunc("/call/end", callHandler.End).Methods("POST")

	// Health check (no auth required)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := health(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	log.WithFields(logrus.Fields{
		"port":   port,
		"issuer": jwtIssuer,
	}).Info("server starting")

	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.WithError(err).Fatal("server failed to start")
	}
}
