// Command reminders runs reminder batches once, for cron.
//
//	reminders [-dry-run] [-force] payment|course-details|session|all
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hortus-cognitor/backend/config"
	"github.com/hortus-cognitor/backend/internal/metrics"
	"github.com/hortus-cognitor/backend/internal/notify"
	"github.com/hortus-cognitor/backend/internal/reminders"
	"github.com/hortus-cognitor/backend/pkg/database"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "count what would be sent without sending or recording")
	force := flag.Bool("force", false, "send even if a reminder was already recorded")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall run timeout")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] payment|course-details|session|all\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

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

	r := cfg.Reminders
	scheduler := reminders.NewScheduler(reminders.NewRepository(pool), mailer, reminders.Config{
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
	}, metrics.New(), logger)

	opts := reminders.Options{DryRun: *dryRun, Force: *force}
	var summaries []reminders.Summary
	if arg := flag.Arg(0); arg == "all" {
		summaries, err = scheduler.RunAll(ctx, opts)
	} else {
		kind, perr := reminders.ParseKind(arg)
		if perr != nil {
			fmt.Fprintln(os.Stderr, perr)
			flag.Usage()
			os.Exit(2)
		}
		var s reminders.Summary
		s, err = scheduler.Run(ctx, kind, opts)
		summaries = append(summaries, s)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(summaries)
	if err != nil {
		logger.Fatal("reminder run", zap.Error(err))
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
