// cmd/api/main.go
// Main entry point for the application
// This file bootstraps all components and starts the servers

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	// Internal packages
	"github.com/hearsayhq/hearsay-backend/internal/auth"
	"github.com/hearsayhq/hearsay-backend/internal/chat"
	"github.com/hearsayhq/hearsay-backend/internal/common/database"
	"github.com/hearsayhq/hearsay-backend/internal/common/middleware"
	"github.com/hearsayhq/hearsay-backend/internal/common/utils"
	"github.com/hearsayhq/hearsay-backend/internal/config"
	"github.com/hearsayhq/hearsay-backend/internal/users"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	log.Println("========================================")
	log.Println("🚀 Starting Hearsay Chat API")
	log.Println("========================================")

	// 1. Load environment variables
	log.Println("📁 Step 1: Loading .env file...")
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  Warning: No .env file found (%v), using environment variables", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// 2. Load configuration
	log.Println("\n📋 Step 2: Loading configuration...")
	cfg := config.Load()
	log.Println("✅ Configuration loaded")

	// 3. Validate configuration
	log.Println("\n✔️  Step 3: Validating configuration...")
	if err := cfg.Validate(); err != nil {
		log.Fatal("❌ Configuration validation failed:", err)
	}
	log.Println("✅ Configuration is valid")

	// 4. Connect to MongoDB
	log.Println("\n🗄️  Step 4: Connecting to MongoDB...")
	db, mongoClient, err := database.NewMongoDatabase(cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		log.Fatal("❌ Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mongoClient.Disconnect(ctx); err != nil {
			log.Printf("⚠️  Error disconnecting MongoDB: %v", err)
		}
	}()
	log.Println("✅ Connected to MongoDB successfully")

	// 5. Connect to Redis (optional)
	log.Println("\n📮 Step 5: Connecting to Redis...")
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedisClientFromURL(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️  Redis unavailable (%v), rate limits fall back to in-memory counters", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
			log.Println("✅ Connected to Redis successfully")
		}
	} else {
		log.Println("⚠️  Redis URL not configured, rate limits use in-memory counters")
	}

	// 6. Initialize Users module
	log.Println("\n👤 Step 6: Initializing Users module...")
	usersRepo := users.NewMongoRepository(db)
	resolver := users.NewResolver(usersRepo)
	log.Println("✅ Users module initialized")

	// 7. Initialize Chat module
	log.Println("\n💬 Step 7: Initializing Chat module...")
	chatRepo := chat.NewMongoRepository(db)

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), 30*time.Second)
	if err := chatRepo.EnsureIndexes(indexCtx); err != nil {
		cancelIndexes()
		log.Fatal("❌ Failed to create chat indexes:", err)
	}
	cancelIndexes()
	log.Println("   ✅ Chat indexes ensured")

	chatService := chat.NewService(chatRepo, usersRepo, resolver, cfg.ChatMessageMaxLength)

	presence := chat.NewPresenceTracker()
	throttle := chat.NewThrottle(cfg.SocketThrottleMax, cfg.SocketThrottleWindow)

	chatHub := chat.NewHub(presence)
	go chatHub.Run()
	log.Println("   ✅ WebSocket hub started")

	verifyToken := func(token string) (string, error) {
		claims, err := utils.ValidateJWT(token, cfg.JWTSecret)
		if err != nil {
			return "", err
		}
		if claims.Type != "access" {
			return "", fmt.Errorf("token is not an access token")
		}
		return claims.UserID, nil
	}

	chatHandler := chat.NewHandler(chatService, chatHub, throttle, verifyToken, cfg.AllowedOrigins)
	log.Println("✅ Chat module initialized")

	// 8. Setup rate limiters
	log.Println("\n🚦 Step 8: Setting up rate limiters...")
	globalLimiter := middleware.NewRateLimiter("global", cfg.RateLimitMaxRequests, cfg.RateLimitWindow, redisClient,
		"Too many requests, try again later")
	chatLimiter := middleware.NewRateLimiter("chat", cfg.ChatRateLimitMax, cfg.RateLimitWindow, redisClient,
		"Too many chat requests, try again later")
	log.Println("✅ Rate limiters ready")

	// 9. Setup routes
	log.Println("\n🛣️  Step 9: Setting up routes...")
	router := mux.NewRouter()

	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware)
	router.Use(corsMiddleware(cfg.AllowedOrigins))
	router.Use(bodyLimitMiddleware(cfg.MaxBodySize))
	router.Use(globalLimiter.Middleware)

	authMiddleware := auth.NewMiddleware(cfg.JWTSecret)

	chat.RegisterRoutes(router, chatHandler, authMiddleware.Authenticate, chatLimiter.Middleware)
	chat.RegisterHealthCheck(router, chatHub)
	log.Println("✅ Chat routes registered")

	// 10. Start ops server (health + metrics) on its own listener
	log.Println("\n📊 Step 10: Starting ops server...")
	opsRouter := chi.NewRouter()
	opsRouter.Use(chimiddleware.Recoverer)
	opsRouter.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := "ok"
		code := http.StatusOK
		if err := mongoClient.Ping(ctx, nil); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		fmt.Fprintf(w, `{"status":%q,"connections":%d}`, status, chatHub.ActiveConnections())
	})
	opsRouter.Handle("/metrics", promhttp.Handler())

	opsSrv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.MetricsPort),
		Handler:      opsRouter,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("📊 Ops server listening on :%s", cfg.MetricsPort)
		if err := opsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("⚠️  Ops server error: %v", err)
		}
	}()

	// 11. Create and start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Println("\n========================================")
		log.Printf("🚀 Server starting on http://localhost%s", srv.Addr)
		log.Printf("🌍 Environment: %s", cfg.Environment)
		log.Println("========================================")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("❌ Failed to start server:", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n⚠️  Shutdown signal received...")

	log.Println("   - Shutting down chat hub...")
	chatHub.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := opsSrv.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Ops server forced to shutdown: %v", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("❌ Server forced to shutdown:", err)
	}

	log.Println("✅ Server exited gracefully")
}

// requestIDMiddleware tags every request for log correlation
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs method, path and duration of each request
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s [%s]", r.Method, r.RequestURI, time.Since(start), w.Header().Get("X-Request-ID"))
	})
}

// corsMiddleware handles cross-origin requests for the configured origins
func corsMiddleware(allowedOrigins []string) mux.MiddlewareFunc {
	allowAll := false
	set := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		set[origin] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || set[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{
					"Content-Type", "Authorization", "X-Request-ID",
				}, ", "))
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bodyLimitMiddleware caps request body size before handlers decode it
func bodyLimitMiddleware(maxBytes int64) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
