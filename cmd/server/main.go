// Package main runs the course booking HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hortus-cognitor/backend/config"
	"github.com/hortus-cognitor/backend/internal/auth"
	"github.com/hortus-cognitor/backend/internal/bookings"
	"github.com/hortus-cognitor/backend/internal/checkout"
	"github.com/hortus-cognitor/backend/internal/courses"
	"github.com/hortus-cognitor/backend/internal/exports"
	"github.com/hortus-cognitor/backend/internal/ledger"
	"github.com/hortus-cognitor/backend/internal/metrics"
	"github.com/hortus-cognitor/backend/internal/middleware"
	"github.com/hortus-cognitor/backend/internal/models"
	"github.com/hortus-cognitor/backend/internal/notify"
	"github.com/hortus-cognitor/backend/internal/payments"
	"github.com/hortus-cognitor/backend/internal/reminders"
	"github.com/hortus-cognitor/backend/pkg/database"
	"github.com/hortus-cognitor/backend/pkg/queue"
	"github.com/hortus-cognitor/backend/pkg/redis"
	"github.com/hortus-cognitor/backend/pkg/response"
	"github.com/hortus-cognitor/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	loc, err := time.LoadLocation(cfg.Site.Timezone)
	if err != nil {
		logger.Fatal("site timezone", zap.String("timezone", cfg.Site.Timezone), zap.Error(err))
	}
	if err := bookings.RegisterValidators(); err != nil {
		logger.Fatal("validators", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var media courses.Media
	if cfg.AWS.Region != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			MediaBucket:          cfg.AWS.MediaBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			media = s3Client
		}
	}

	m := metrics.New()
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	emailQueue := notify.NewQueueSink(jobQueue, logger)
	mailer, err := notify.NewMailer(notify.MailerConfig{
		FromAddress: cfg.Email.FromAddress,
		FromName:    cfg.Email.FromName,
		SMTPHost:    cfg.Email.SMTPHost,
		SMTPPort:    cfg.Email.SMTPPort,
		SMTPUser:    cfg.Email.SMTPUser,
		SMTPPass:    cfg.Email.SMTPPass,
	}, logger)
	if err != nil {
		logger.Fatal("mailer", zap.Error(err))
	}
	gateway := checkout.NewStripeGateway(checkout.StripeConfig{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Currency:      cfg.Stripe.Currency,
		SiteURL:       cfg.Site.URL,
	}, logger)

	// Repositories
	authRepo := auth.NewRepository(pool)
	courseRepo := courses.NewRepository(pool)
	bookingRepo := bookings.NewRepository(pool)
	ledgerRepo := ledger.NewRepository(pool)
	checkoutRepo := checkout.NewRepository(pool, bookingRepo, ledgerRepo)
	paymentRepo := payments.NewRepository(pool, ledgerRepo)
	reminderRepo := reminders.NewRepository(pool)

	// Handlers
	authHandler := auth.NewHandler(authRepo, jwtService, logger)
	courseHandler := courses.NewHandler(courseRepo, media, cfg.Stripe.PublishableKey, logger)
	bookingHandler := bookings.NewHandler(bookingRepo, courseRepo, bookings.NewTurnstile(cfg.Turnstile.SecretKey, logger),
		emailQueue, cfg.Site.NotificationEmails, logger)
	checkoutHandler := checkout.NewHandler(courseRepo, checkoutRepo, gateway, logger)
	processor := payments.NewProcessor(paymentRepo, emailQueue, cfg.Site.NotificationEmails, m, logger)
	paymentHandler := payments.NewHandler(processor, gateway, paymentRepo, loc, logger)
	scheduler := reminders.NewScheduler(reminderRepo, mailer, reminderConfig(cfg, loc), m, logger)
	reminderHandler := reminders.NewHandler(scheduler, reminderRepo, logger)
	exportHandler := exports.NewHandler(courseRepo, bookingRepo, logger)

	limiter := middleware.NewRateLimiter(middleware.NewRedisCounter(rdb.Client), m, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		if err := pool.Ping(c.Request.Context()); err != nil {
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	// Public catalogue and booking
	router.GET("/courses", courseHandler.List)
	router.GET("/courses/:slug", courseHandler.Get)
	router.GET("/courses/:slug/payment-options", courseHandler.PaymentOptions)
	router.POST("/courses/:slug/book", limiter.Middleware(middleware.BookingLimit), bookingHandler.Book)
	router.POST("/contact", limiter.Middleware(middleware.ContactLimit), bookingHandler.Contact)

	// Checkout and payment provider callbacks
	router.POST("/api/checkout-sessions", limiter.Middleware(middleware.CheckoutLimit), checkoutHandler.CreateSession)
	router.GET("/payments/success", paymentHandler.Success)
	router.GET("/payments/cancel", paymentHandler.Cancel)
	router.GET("/payments/:id/pay", limiter.Middleware(middleware.CheckoutLimit), paymentHandler.Pay)
	router.POST("/webhooks/stripe", paymentHandler.Webhook)

	// Admin
	router.POST("/admin/login", authHandler.Login)
	admin := router.Group("/admin")
	admin.Use(middleware.JWT(jwtService), middleware.RequireRole(models.RoleAdmin))
	{
		admin.GET("/me", authHandler.Me)
		admin.GET("/payments", paymentHandler.List)
		admin.GET("/payments/:id/records", paymentHandler.Records)
		admin.PATCH("/bookings/:id", bookingHandler.UpdateStatus)
		admin.GET("/courses/:id/bookings.xlsx", exportHandler.CourseBookings)
		admin.POST("/courses/:id/hero-image", courseHandler.UploadHeroImage)
		admin.GET("/reminders", reminderHandler.List)
		admin.POST("/reminders/:kind/run", reminderHandler.Run)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func reminderConfig(cfg *config.Config, loc *time.Location) reminders.Config {
	r := cfg.Reminders
	return reminders.Config{
		PaymentEnabled:       r.PaymentEnabled,
		PaymentOffsets:       reminders.ParseOffsets(r.PaymentDaysBeforeList),
		CourseDetailsEnabled: r.CourseDetailsEnabled,
		CourseDetailsDays:    r.CourseDetailsDays,
		SessionEnabled:       r.SessionEnabled,
		SessionDays:          r.SessionDays,
		SessionFrequency:     r.SessionFrequency,
		TestMode:             r.TestMode,
		TestEmail:            r.TestEmail,
		SiteURL:              cfg.Site.URL,
		Location:             loc,
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
