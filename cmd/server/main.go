package main

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/example/rayhan/internal/config"
	"github.com/example/rayhan/internal/database"
	"github.com/example/rayhan/internal/otp"
	"github.com/example/rayhan/internal/routes"
	"github.com/example/rayhan/internal/services"
)

func main() {
	cfg := config.Load()
	db := database.Connect(cfg.DatabaseURL)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("invalid REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}

	otpCfg := otp.DefaultConfig()
	otpCfg.AttemptCap = cfg.OTPRequestCap
	codes := otp.NewStore(rdb, otpCfg)

	app := fiber.New(fiber.Config{
		AppName: "Rayhan Payment Gateway",
	})

	app.Use(recover.New())
	app.Use(logger.New())

	routes.Register(app, db, cfg, codes)

	fiscal := services.NewFiscalService(cfg.FiscalBaseURL, cfg.FiscalUserID, cfg.FiscalSecret, cfg.FiscalEnabled)
	if err := fiscal.Warmup(context.Background()); err != nil {
		log.Printf("Fiscal endpoint warm-up failed: %v", err)
	}

	log.Printf("Starting server on :%s", cfg.AppPort)
	if err := app.Listen(":" + cfg.AppPort); err != nil {
		log.Fatalf("fiber.Listen error: %v", err)
	}
}
