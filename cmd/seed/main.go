// Command seed creates the payment plans, the three pricing tiers of every course and an admin user.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hortus-cognitor/backend/config"
	"github.com/hortus-cognitor/backend/internal/auth"
	"github.com/hortus-cognitor/backend/internal/courses"
	"github.com/hortus-cognitor/backend/internal/models"
	"github.com/hortus-cognitor/backend/pkg/database"
	"github.com/hortus-cognitor/backend/pkg/utils"
)

func main() {
	basic := flag.String("basic", "150.00", "basic tier price")
	standard := flag.String("standard", "225.00", "standard tier price")
	solidarity := flag.String("solidarity", "300.00", "solidarity tier price")
	depositDays := flag.Int("deposit-days", 30, "installment deposit deadline, days from now")
	finalDays := flag.Int("final-days", 60, "final payment deadline, days from now")
	flag.Parse()

	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
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

	repo := courses.NewRepository(pool)

	now := time.Now().UTC()
	depositDeadline := now.AddDate(0, 0, *depositDays)
	finalDeadline := now.AddDate(0, 0, *finalDays)
	plans := []models.PaymentPlan{
		{Kind: models.PlanFull, DepositPercentage: decimal.NewFromInt(100), DepositDeadline: finalDeadline, FinalPaymentDeadline: finalDeadline, IsActive: true},
		{Kind: models.PlanInstallment, DepositPercentage: decimal.NewFromInt(50), DepositDeadline: depositDeadline, FinalPaymentDeadline: finalDeadline, IsActive: true},
	}
	for i := range plans {
		if err := repo.UpsertPlan(ctx, &plans[i]); err != nil {
			logger.Fatal("upsert plan", zap.String("kind", plans[i].Kind), zap.Error(err))
		}
		logger.Info("plan", zap.String("kind", plans[i].Kind), zap.String("id", plans[i].ID.String()))
	}

	prices := map[string]decimal.Decimal{
		models.TierBasic:      mustDecimal(logger, *basic),
		models.TierStandard:   mustDecimal(logger, *standard),
		models.TierSolidarity: mustDecimal(logger, *solidarity),
	}
	list, err := repo.ListAll(ctx)
	if err != nil {
		logger.Fatal("list courses", zap.Error(err))
	}
	for _, c := range list {
		sessions, err := repo.Sessions(ctx, c.ID)
		if err != nil {
			logger.Fatal("course sessions", zap.String("course", c.Slug), zap.Error(err))
		}
		for _, tier := range []string{models.TierBasic, models.TierStandard, models.TierSolidarity} {
			t := models.PricingTier{
				CourseID:     c.ID,
				Tier:         tier,
				Price:        prices[tier],
				SessionCount: len(sessions),
				Description:  models.TierLabel(tier),
			}
			if err := repo.UpsertTier(ctx, &t); err != nil {
				logger.Fatal("upsert tier", zap.String("course", c.Slug), zap.String("tier", tier), zap.Error(err))
			}
		}
		logger.Info("tiers", zap.String("course", c.Slug), zap.Int("sessions", len(sessions)))
	}

	email, password := os.Getenv("ADMIN_EMAIL"), os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		logger.Info("ADMIN_EMAIL or ADMIN_PASSWORD not set, skipping admin user")
		return
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		logger.Fatal("admin password", zap.Error(err))
	}
	u, err := auth.NewRepository(pool).Upsert(ctx, email, hash, os.Getenv("ADMIN_NAME"), models.RoleAdmin)
	if err != nil {
		logger.Fatal("upsert admin", zap.Error(err))
	}
	logger.Info("admin user", zap.String("email", u.Email), zap.String("id", u.ID.String()))
}

func mustDecimal(logger *zap.Logger, s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		logger.Fatal("price", zap.String("value", s), zap.Error(err))
	}
	return d.Round(2)
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
