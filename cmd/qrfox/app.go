package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/QRFox/app/controllers"
	"github.com/ManuelReschke/QRFox/app/models"
	"github.com/ManuelReschke/QRFox/app/repository"
	"github.com/ManuelReschke/QRFox/internal/pkg/billing"
	"github.com/ManuelReschke/QRFox/internal/pkg/cache"
	"github.com/ManuelReschke/QRFox/internal/pkg/constants"
	"github.com/ManuelReschke/QRFox/internal/pkg/database"
	"github.com/ManuelReschke/QRFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/QRFox/internal/pkg/env"
	"github.com/ManuelReschke/QRFox/internal/pkg/mail"
	"github.com/ManuelReschke/QRFox/internal/pkg/router"
)

const limiterRedisDB = 2

// components is everything the commands build from the environment.
type components struct {
	cfg       billing.Config
	repos     *repository.Repositories
	service   *billing.Service
	resolver  *entitlements.Resolver
	processor *billing.WebhookProcessor
	queue     *billing.RedisDeadLetterQueue
	replayer  *billing.DeadLetterReplayer
}

func bootstrap(ctx context.Context) (*components, error) {
	if err := env.SetupEnvFile(); err != nil {
		if !errors.Is(err, env.ErrNoEnvFile) {
			return nil, err
		}
		log.Info("no .env file found, using the process environment")
	}
	database.SetupDatabase()
	cache.SetupCache()

	repository.InitializeFactory(database.GetDB())
	repos := repository.GetGlobalRepositories()
	cfg := billing.ConfigFromEnv()

	catalog := billing.CatalogFromEnv()
	mappings, err := repos.Billing.ListActivePlanMappings(ctx, models.BillingProviderStripe)
	if err != nil {
		log.Warnf("[Billing] plan mappings unavailable, using defaults: %v", err)
	} else {
		catalog = catalog.WithMappings(mappings)
	}

	deps := billing.Deps{
		Store:    repos.Billing,
		Accounts: repos.Account,
		Provider: billing.NewStripeProvider(cfg.StripeSecretKey, cfg.ProviderTimeout),
		Catalog:  catalog,
		Config:   cfg,
	}
	if smtpCfg := mail.SMTPConfigFromEnv(); smtpCfg.Enabled() {
		deps.Notifier = mail.NewSubscriptionNotifier(repos.Account, mail.NewSMTPSender(smtpCfg))
	}
	svc := billing.NewService(deps)
	queue := billing.NewRedisDeadLetterQueue(cache.GetClient())
	processor := billing.NewWebhookProcessor(repos.Billing, svc.Webhooks, queue)

	return &components{
		cfg:       cfg,
		repos:     repos,
		service:   svc,
		resolver:  entitlements.NewResolver(repos.Account, repos.Billing),
		processor: processor,
		queue:     queue,
		replayer:  billing.NewDeadLetterReplayer(queue, processor, cfg.DeadLetterMaxAttempts, billing.DefaultReplayInterval),
	}, nil
}

// NewApplication wires the fiber app on top of the bootstrapped components.
func NewApplication(c *components) *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit: controllers.MaxWebhookBodyBytes,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: constants.DocsRoute,
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}))

	deps := router.Dependencies{
		Accounts: c.repos.Account,
		Resolver: c.resolver,
		Billing:  controllers.NewBillingController(c.service, c.resolver, c.processor, c.cfg.WebhookSecret),
		Account:  controllers.NewAccountController(c.repos.Account, c.resolver),
	}
	// rate limit counters use database 2 (cache uses DB 0), shared across instances
	if err := cache.Ping(context.Background()); err == nil {
		deps.LimiterStorage = cache.NewFiberStorage(limiterRedisDB)
	} else {
		log.Warnf("rate limiter falls back to memory storage: %v", err)
	}
	router.InstallRouter(app, deps)
	return app
}

func runServer() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = cache.Close() }()

	app := NewApplication(c)
	c.replayer.Start()
	defer c.replayer.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutting down")
		return app.Shutdown()
	}
}
