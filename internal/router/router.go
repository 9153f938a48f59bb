package router

import (
	"time"

	"vendpay/config"
	"vendpay/internal/database"
	"vendpay/internal/events"
	"vendpay/internal/handler"
	"vendpay/internal/loyalty"
	"vendpay/internal/middleware"
	"vendpay/internal/repository"
	"vendpay/internal/service"
	"vendpay/internal/ws"
	"vendpay/pkg/payment"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Setup wires repositories, services and handlers onto a gin engine. rdb may be nil.
func Setup(cfg *config.Config, db *gorm.DB, rdb *redis.Client, publisher events.Publisher, gateway payment.Gateway, log *zap.Logger) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.RateLimit(middleware.NewInMemoryRateLimiter(100, 60*time.Second)))

	// Repositories
	userRepo := repository.NewUserRepository(db)
	walletRepo := repository.NewWalletRepository(db, cfg.Gateway.Currency)
	loyaltyRepo := repository.NewLoyaltyRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	productRepo := repository.NewProductRepository(db)
	cartRepo := repository.NewCartRepository(db)
	machineRepo := repository.NewMachineRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)
	referralRepo := repository.NewReferralRepository(db)
	settingRepo := repository.NewSettingRepository(db)
	adminRepo := repository.NewAdminRepository(db)

	hub := ws.NewHub()

	// Services
	calc := loyalty.NewCalculator(productRepo, loyaltyRepo, cfg.Loyalty)
	var pusher service.Pusher
	if fcm := service.NewFCMService(cfg.Firebase.ServiceAccountPath, log); fcm != nil {
		log.Info("fcm push notifications enabled")
		pusher = fcm
	} else {
		log.Info("fcm push notifications disabled", zap.Bool("configured", cfg.Firebase.ServiceAccountPath != ""))
	}
	notifSvc := service.NewNotificationService(notificationRepo, userRepo, pusher, log)
	machineSvc := service.NewMachineService(machineRepo, rdb, cfg.Redis.MachineNameTTL, log)

	paymentSvc := service.NewPaymentService(service.PaymentDeps{
		Users:      userRepo,
		Payments:   paymentRepo,
		Wallets:    walletRepo,
		Loyalty:    loyaltyRepo,
		Calculator: calc,
		Catalog:    productRepo,
		Cart:       cartRepo,
		Machines:   machineSvc,
		Notifier:   notifSvc,
		Gateway:    gateway,
		Events:     publisher,
		Hub:        hub,
	}, cfg.Gateway.Currency, log)
	reconSvc := service.NewReconciliationService(service.ReconciliationDeps{
		Payments: paymentRepo,
		Machines: machineSvc,
		Notifier: notifSvc,
		Audit:    auditRepo,
		Events:   publisher,
		Hub:      hub,
	}, log)
	referralSvc := service.NewReferralService(referralRepo, settingRepo, loyaltyRepo, notifSvc, cfg.Loyalty, log)

	// Handlers
	paymentHandler := handler.NewPaymentHandler(paymentSvc)
	webhookHandler := handler.NewWebhookHandler(reconSvc, cfg.Gateway.WebhookSecret, cfg.Dispense.WebhookSecret, log)
	walletHandler := handler.NewWalletHandler(walletRepo)
	loyaltyHandler := handler.NewLoyaltyHandler(loyaltyRepo, calc, cfg.Loyalty.PointValue)
	referralHandler := handler.NewReferralHandler(referralSvc)
	notificationHandler := handler.NewNotificationHandler(notifSvc, userRepo)
	adminHandler := handler.NewAdminHandler(adminRepo, settingRepo)
	meHandler := handler.NewMeHandler(userRepo, walletRepo, paymentRepo, cfg.Loyalty.PointValue)

	r.GET("/health", handler.Health(func() error { return database.Ping(db) }))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		// Webhooks authenticate by signature, not JWT.
		api.POST("/webhooks/gateway", webhookHandler.Gateway)
		api.POST("/webhooks/dispense", webhookHandler.Dispense)

		api.GET("/ws/payments", ws.UpgradePaymentsWS(&cfg.JWT, hub))

		authed := api.Group("")
		authed.Use(middleware.AuthRequired(&cfg.JWT))
		{
			payments := authed.Group("/payments")
			payments.Use(middleware.RateLimitByUser(middleware.NewInMemoryRateLimiter(30, 60*time.Second)))
			payments.POST("/wallet/charge", paymentHandler.WalletCharge)
			payments.POST("/wallet/pay", paymentHandler.WalletPay)
			payments.POST("/card", paymentHandler.CardPay)
			payments.POST("/gpay", paymentHandler.GPayPay)
			payments.POST("/ios", paymentHandler.IOSPay)
			payments.GET("/:id", paymentHandler.Get)

			authed.GET("/me", meHandler.GetProfile)
			authed.GET("/me/payments", meHandler.ListPayments)

			authed.GET("/wallet", walletHandler.GetBalance)
			authed.GET("/wallet/transactions", walletHandler.GetTransactions)

			authed.GET("/loyalty", loyaltyHandler.GetBalance)
			authed.GET("/loyalty/entries", loyaltyHandler.GetEntries)
			authed.POST("/loyalty/quote", loyaltyHandler.Quote)
			authed.POST("/loyalty/rebuild", loyaltyHandler.Rebuild)

			authed.GET("/me/referral-code", referralHandler.GetMyReferralCode)
			authed.GET("/me/referrals", referralHandler.GetMyReferrals)
			authed.POST("/referrals/redeem", referralHandler.Redeem)

			authed.GET("/me/notifications", notificationHandler.List)
			authed.PUT("/me/notifications/:id/read", notificationHandler.MarkRead)
			authed.POST("/me/fcm-token", notificationHandler.RegisterFCMToken)
		}

		admin := api.Group("/admin")
		admin.Use(middleware.AdminRequired(cfg.Admin.APIKey))
		{
			admin.GET("/dashboard", adminHandler.Dashboard)
			admin.GET("/payments", adminHandler.ListPayments)
			admin.GET("/payments/:id/audit", adminHandler.PaymentAudit)
			admin.GET("/transactions", adminHandler.ListTransactions)
			admin.GET("/referrals", adminHandler.ListReferrals)
			admin.GET("/settings", adminHandler.GetSettings)
			admin.PUT("/settings", adminHandler.UpdateSettings)
			admin.GET("/analytics", adminHandler.Analytics)
		}
	}

	return r
}
