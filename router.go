package main

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/lightning-gifts/config"
	"github.com/yourusername/lightning-gifts/handlers"
	"github.com/yourusername/lightning-gifts/middleware"
	"github.com/yourusername/lightning-gifts/services"
	"github.com/yourusername/lightning-gifts/store"
	"github.com/yourusername/lightning-gifts/utils"
	"gorm.io/gorm"
)

const rateWindow = 15 * time.Minute

type app struct {
	cfg        *config.Config
	db         *gorm.DB
	giftStore  *store.GormGiftStore
	gifts      *services.GiftService
	reconciler *services.Reconciler
	poller     *services.Poller
	notifier   *services.HTTPNotifier
}

func newApp(cfg *config.Config, db *gorm.DB, processor utils.ProcessorClientInterface) *app {
	giftStore := store.NewGormGiftStore(db)
	notifier := services.NewHTTPNotifier(cfg.NotifyTimeout)
	gifts := services.NewGiftService(giftStore, processor, notifier, services.Options{
		VerifyCodeCutover: cfg.VerifyCodeCutoverTime(),
	})

	return &app{
		cfg:        cfg,
		db:         db,
		giftStore:  giftStore,
		gifts:      gifts,
		reconciler: services.NewReconciler(gifts, store.NewGormEventLog(db), cfg.LNPayWallet),
		poller:     services.NewPoller(gifts, giftStore, cfg.PollInterval),
		notifier:   notifier,
	}
}

func newRouter(a *app) *gin.Engine {
	if a.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS())

	health := handlers.NewHealthHandler(a.db)
	router.GET("/health", health.Health)
	router.GET("/ready", health.Ready)

	apiLimit := middleware.NewRateLimiter(50, rateWindow).Middleware()
	checkLimit := middleware.NewRateLimiter(200, rateWindow).Middleware()

	gifts := handlers.NewGiftHandler(a.gifts, a.cfg.ServiceURL)
	router.POST("/create", apiLimit, gifts.CreateGift)
	router.GET("/lnurl", apiLimit, gifts.LNURLPay)
	router.GET("/status/:chargeId", checkLimit, gifts.ChargeStatus)
	router.GET("/view/:giftId", apiLimit, gifts.View)
	router.GET("/gift/:giftId", checkLimit, gifts.GetGift)
	router.POST("/redeem/:giftId", apiLimit, gifts.Redeem)
	router.GET("/lnurl/:giftId", apiLimit, gifts.LNURLWithdraw)
	router.POST("/redeemStatus/:withdrawalId", checkLimit, gifts.RedeemStatus)

	webhook := handlers.NewWebhookHandler(a.reconciler, a.cfg.LNPayWallet)
	router.POST("/webhook/:wallet", webhook.Handle)

	if a.cfg.JWTSecret != "" {
		admin := router.Group("/admin")
		if a.cfg.JWTRefreshSecret != "" {
			auth := handlers.NewAuthHandler(a.cfg.JWTSecret, a.cfg.JWTRefreshSecret, a.cfg.JWTAccessTTL)
			admin.POST("/token/refresh", checkLimit, auth.Refresh)
		}

		operator := admin.Group("", middleware.JwtAuthMiddleware(a.cfg.JWTSecret), middleware.RequireRole(middleware.RoleOperator))
		adminHandler := handlers.NewAdminHandler(a.gifts, a.giftStore)
		operator.GET("/gifts", adminHandler.ListGifts)
		operator.POST("/gifts/:giftId/reconcile", adminHandler.ReconcileGift)
	}

	return router
}
