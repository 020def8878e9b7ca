package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/brickvest/estate-finance/internal/cache"
	"github.com/brickvest/estate-finance/internal/config"
	"github.com/brickvest/estate-finance/internal/handler"
	"github.com/brickvest/estate-finance/internal/integrations/ratefeed"
	"github.com/brickvest/estate-finance/internal/middleware"
	"github.com/brickvest/estate-finance/internal/repository"
	"github.com/brickvest/estate-finance/internal/scheduler"
	"github.com/brickvest/estate-finance/internal/service"
	"github.com/brickvest/estate-finance/internal/utils/email"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}
	logger.Info("Connected to database")

	redisCache := cache.NewRedisCache(cfg.RedisAddr)
	if err := redisCache.Ping(context.Background()); err != nil {
		logger.Fatalf("Failed to ping redis: %v", err)
	}
	logger.Info("Connected to redis")

	store := repository.NewRepository(db)
	rates := ratefeed.NewClient(cfg, logger)
	mailer := email.NewSender(cfg, logger)
	svc := service.NewService(store, redisCache, rates, mailer, logger, cfg)
	h := handler.NewHandler(svc, logger)

	sched := scheduler.New(svc, logger)
	if err := sched.Start(); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	r := mux.NewRouter()
	r.HandleFunc("/register", h.Register).Methods(http.MethodPost)
	r.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	r.HandleFunc("/benchmark-rate", func(w http.ResponseWriter, req *http.Request) {
		rate, err := rates.QuoteRate()
		if err != nil {
			logger.Errorf("Failed to quote rate: %v", err)
			http.Error(w, "rate feed unavailable", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]float64{"annual_rate": rate}); err != nil {
			logger.Errorf("Failed to write response: %v", err)
		}
	}).Methods(http.MethodGet)

	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(cfg))
	authRouter.HandleFunc("/properties", h.CreateProperty).Methods(http.MethodPost)
	authRouter.HandleFunc("/properties", h.ListProperties).Methods(http.MethodGet)
	authRouter.HandleFunc("/loans", h.FinanceProperty).Methods(http.MethodPost)
	authRouter.HandleFunc("/loans/{id}/schedule", h.GetSchedule).Methods(http.MethodGet)
	authRouter.HandleFunc("/payments/{id}/pay", h.RecordPayment).Methods(http.MethodPost)
	authRouter.HandleFunc("/portfolio", h.Portfolio).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Infof("Server starting on port %s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatalf("Server failed: %v", err)
	}
}
