package main

import (
	"fmt"
	"os"

	"parking-service/internal/auth"
	"parking-service/internal/client"
	"parking-service/internal/config"
	"parking-service/internal/db"
	httphandler "parking-service/internal/http"
	"parking-service/internal/http/middleware"
	"parking-service/internal/logger"
	"parking-service/internal/repository"
	"parking-service/internal/service"
	"parking-service/pkg/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.Environment)

	database, err := db.New(cfg, appLogger)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("failed to connect database")
	}

	lotRepo := repository.NewLotRepository(database)
	slotRepo := repository.NewSlotRepository(database)
	bookingRepo := repository.NewBookingRepository(database)

	detector := client.NewDetectorClient(cfg)
	hub := ws.NewHub(appLogger)

	availabilityService := service.NewAvailabilityService(lotRepo, slotRepo, detector, hub, appLogger)
	bookingService := service.NewBookingService(bookingRepo, lotRepo, slotRepo, availabilityService, appLogger)
	lotService := service.NewLotService(lotRepo, slotRepo, detector, availabilityService, appLogger)

	tokenParser := auth.NewParser(cfg.Auth.AccessSecret)

	handler := httphandler.NewHandler(bookingService, lotService, availabilityService, hub, appLogger)
	authMiddleware := middleware.Auth(tokenParser)
	router := httphandler.NewRouter(handler, authMiddleware, cfg.Environment)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	appLogger.Info().Str("addr", addr).Msg("starting parking service")

	if err := router.Run(addr); err != nil {
		appLogger.Error().Err(err).Msg("failed to start server")
		os.Exit(1)
	}
}
