package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"

	"github.com/reachforge/crm-api/internal/auth"
	"github.com/reachforge/crm-api/internal/config"
	"github.com/reachforge/crm-api/internal/database"
	"github.com/reachforge/crm-api/internal/handler"
	middlewarepkg "github.com/reachforge/crm-api/internal/middleware"
	"github.com/reachforge/crm-api/internal/queue"
	"github.com/reachforge/crm-api/internal/repository"
	"github.com/reachforge/crm-api/internal/router"
	"github.com/reachforge/crm-api/internal/service"
	"github.com/reachforge/crm-api/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer pool.Close()

	store, err := storage.NewLocalStore(cfg.UploadDir, cfg.Import.MaxUploadBytes)
	if err != nil {
		log.Fatalf("failed to prepare upload dir: %v", err)
	}

	workers := queue.NewPool(cfg.Import.Workers, cfg.Import.QueueSize)
	workers.Start(context.Background())
	defer workers.Stop()

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL)

	usersRepo := repository.NewPGXUsersRepository(pool)
	contactsRepo := repository.NewPGXContactsRepository(pool)
	batchesRepo := repository.NewPGXImportBatchRepository(pool)
	eventsRepo := repository.NewPGXMessageEventsRepository(pool)

	authService := service.NewAuthService(usersRepo, jwtManager)
	contactsService := service.NewContactsService(contactsRepo, cfg.PhoneRegion)
	validator := service.NewRowValidator(contactsRepo)
	importsService := service.NewImportBatchService(batchesRepo, store, validator, cfg.Import)
	importRunner := service.NewImportRunner(batchesRepo, contactsService, store, workers, cfg.Import)
	webhookService := service.NewWebhookService(contactsRepo, eventsRepo)

	handlers := router.Handlers{
		Auth:     handler.NewAuthHandler(authService),
		Contacts: handler.NewContactsHandler(contactsService),
		Imports:  handler.NewImportsHandler(importsService, importRunner),
		Webhooks: handler.NewWebhooksHandler(webhookService),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middlewarepkg.RequestID())
	e.Use(middlewarepkg.Logging())
	e.Use(echoMiddleware.Recover())

	router.Register(e, cfg, jwtManager, handlers)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- e.Start(":" + cfg.Port)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("received signal %s, shutting down", sig)
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
		return
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
