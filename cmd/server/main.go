package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/erp-auth/internal/config"
	"github.com/iliyamo/erp-auth/internal/database"
	"github.com/iliyamo/erp-auth/internal/handler"
	"github.com/iliyamo/erp-auth/internal/middleware"
	"github.com/iliyamo/erp-auth/internal/queue"
	"github.com/iliyamo/erp-auth/internal/repository"
	"github.com/iliyamo/erp-auth/internal/router"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err == nil {
		log.Println("loaded configuration from .env")
	}
	cfg := config.Load()

	// The store handle is opened once here, injected into every
	// repository, and closed on shutdown. Nothing else in the process
	// reaches the database except through it.
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	seedCtx, cancelSeed := context.WithTimeout(context.Background(), 30*time.Second)
	if err := database.Seed(seedCtx, db, cfg.AdminEmail, cfg.AdminPassword, cfg.BcryptCost); err != nil {
		cancelSeed()
		log.Fatalf("seed: %v", err)
	}
	cancelSeed()

	users := repository.NewUserRepo(db)
	roles := repository.NewRoleRepo(db)
	perms := repository.NewPermissionRepo(db)
	tokens := repository.NewTokenRepo(db)

	// Redis is optional: without it the credential endpoints simply run
	// unlimited.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Println("redis unavailable, rate limiting disabled")
	}
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)

	// Audit trail consumer; reconnects on its own for as long as the
	// process lives.
	go func() {
		if err := queue.StartAuditConsumer(); err != nil {
			log.Printf("audit consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true

	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, roles, tokens), limiter, cfg.JWTSecret)
	router.RegisterAdmin(e,
		handler.NewUserHandler(cfg, users, roles, tokens),
		handler.NewRoleHandler(roles, perms),
		handler.NewPermissionHandler(perms),
		cfg.JWTSecret)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)

	go func() {
		if err := e.Start(addr); err != nil {
			log.Printf("server stopped: %v", err)
		}
	}()

	// Graceful shutdown: stop accepting requests, then let the deferred
	// db.Close release the pool.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
