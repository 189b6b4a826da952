package routes

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/example/rayhan/internal/config"
	"github.com/example/rayhan/internal/handlers"
	"github.com/example/rayhan/internal/middleware"
	"github.com/example/rayhan/internal/otp"
	"github.com/example/rayhan/internal/services"
)

// Register wires up all HTTP routes.
func Register(app *fiber.App, db *gorm.DB, cfg *config.Config, codes *otp.Store) {
	sessions := services.NewGormSessionRepository(db)
	fiscal := services.NewFiscalService(cfg.FiscalBaseURL, cfg.FiscalUserID, cfg.FiscalSecret, cfg.FiscalEnabled)
	sms := services.NewSMSService(cfg.SMSBaseURL, cfg.SMSUsername, cfg.SMSPassword, cfg.SMSEnabled)

	paymeService := services.NewPaymeService(sessions, fiscal)
	clickService := services.NewClickService(sessions, fiscal, cfg.ClickSecretKey)
	checkoutService := services.NewCheckoutService(sessions, services.CheckoutConfig{
		PaymeMerchantID:  cfg.PaymeMerchantID,
		PaymeCheckoutURL: cfg.PaymeCheckoutURL,
		ClickServiceID:   cfg.ClickServiceID,
		ClickMerchantID:  cfg.ClickMerchantID,
		ClickCheckoutURL: cfg.ClickCheckoutURL,
	})

	authHandler := handlers.NewAuthHandler(db, cfg, codes)
	otpHandler := handlers.NewOTPHandler(codes, sms)
	paymeHandler := handlers.NewPaymeHandler(paymeService)
	clickHandler := handlers.NewClickHandler(clickService)
	checkoutHandler := handlers.NewCheckoutHandler(checkoutService, sessions)

	api := app.Group("/api")

	// Auth routes
	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Post("/reset-password", authHandler.ResetPassword)

	// OTP routes
	otpGroup := api.Group("/otp")
	otpGroup.Post("/request", otpHandler.RequestCode)
	otpGroup.Post("/verify", otpHandler.VerifyCode)

	// Payme JSON-RPC endpoint: auth check precedes body parsing.
	payme := api.Group("/payme")
	payme.Post("/pay", middleware.PaymeAuthMiddleware(cfg.PaymeMerchantKey), paymeHandler.Pay)

	// Click callback endpoints
	click := api.Group("/click")
	click.Post("/prepare", clickHandler.Prepare)
	click.Post("/complete", clickHandler.Complete)
	click.Post("/callback", clickHandler.Callback)

	// Payment lifecycle for the order platform
	payments := api.Group("/payments")
	payments.Post("/checkout", checkoutHandler.Initiate)
	payments.Put("/checkout/:id", checkoutHandler.Update)
	payments.Get("/sessions", checkoutHandler.ListSessions)
	payments.Get("/:id/status", checkoutHandler.Status)
	payments.Post("/:id/capture", checkoutHandler.Capture)
	payments.Post("/:id/cancel", checkoutHandler.Cancel)
	payments.Post("/:id/refund", checkoutHandler.Refund)

	// Protected routes
	protected := api.Group("", middleware.AuthMiddleware(cfg))
	protected.Get("/profile", authHandler.Profile)
	protected.Post("/profile/change-phone", authHandler.ChangePhone)
}
