package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"

	"github.com/propvest/backend/internal/config"
	"github.com/propvest/backend/internal/database"
	"github.com/propvest/backend/internal/handlers"
	mW "github.com/propvest/backend/internal/middleware"
	"github.com/propvest/backend/internal/services"
)

// @title Propvest Ledger API
// @version 1.0
// @description Balance ledger, investment reservation and gateway webhook processing
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("gateway.paystack_secret", "PAYSTACK_WEBHOOK_SECRET")
	viper.BindEnv("gateway.stripe_secret", "STRIPE_WEBHOOK_SECRET")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize storage
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Initialize services with injected handles
	limits := config.LoadInvestmentLimits()
	investmentService := services.NewInvestmentService(db, limits)
	transactionService := services.NewTransactionService(db, investmentService, limits)
	webhookService := services.NewWebhookService(db, redisClient)
	webhookHandler := handlers.NewWebhookHandler(webhookService, transactionService, gatewaySecrets())

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Gateway webhooks are authenticated by provider signature, not JWT
		r.Post("/webhooks/{provider}", webhookHandler.HandleGatewayEvent)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/balance", transactionService.GetBalance)

			r.Get("/transactions", transactionService.ListTransactions)
			r.Get("/transactions/{reference}", transactionService.GetTransaction)
			r.Post("/deposits", transactionService.Deposit)
			r.Post("/withdrawals", transactionService.Withdraw)

			r.Get("/investments", investmentService.ListInvestmentsHandler)
			r.Get("/investments/{id}", investmentService.GetInvestmentHandler)
			r.Post("/investments", investmentService.CreateInvestmentHandler)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}

// gatewaySecrets builds the provider -> webhook signing secret map. Only
// providers with a configured secret accept deliveries.
func gatewaySecrets() map[string]string {
	secrets := map[string]string{}
	if s := viper.GetString("gateway.paystack_secret"); s != "" {
		secrets["paystack"] = s
	}
	if s := viper.GetString("gateway.stripe_secret"); s != "" {
		secrets["stripe"] = s
	}
	return secrets
}
