package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	html "github.com/gofiber/template/html/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storefront/internal/config"
	"storefront/internal/events"
	"storefront/internal/http/handlers"
	applog "storefront/internal/log"
	"storefront/internal/repos"
	"storefront/internal/services"
)

func main() {
	cfg := config.Load()

	logger, err := applog.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("[log] %v", err)
	}
	defer func() { _ = logger.Sync() }()
	applog.Set(logger)

	db, err := repos.OpenDB(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatal("db.open.fail", zap.Error(err))
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.SeedDemo {
		if err := repos.SeedDemo(ctx, db, time.Now().UTC()); err != nil {
			logger.Fatal("db.seed.fail", zap.Error(err))
		}
	}

	bus := events.NewBus(logger)
	deps := handlers.NewDeps(db, cfg, logger)
	services.Subscribe(bus, deps.Orders, deps.Inventory, logger)

	relays := []*events.Relay{events.NewRelay(deps.Outbox, "local", bus, cfg.OutboxPollInterval, logger)}
	var consumer *events.PaymentConsumer
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaOrderTopic), logger)
		defer kp.Close()
		kr := events.NewRelay(deps.Outbox, "kafka", kp, cfg.OutboxPollInterval, logger)
		// payment signals came from outside; only our own facts go back out
		kr.Accept = func(t events.Type) bool {
			return t == events.OrderPlaced || t == events.OrderCancelled || t == events.ReservationsExpired
		}
		relays = append(relays, kr)

		consumer = events.NewPaymentConsumer(
			events.NewKafkaReader(cfg.KafkaBrokers, cfg.KafkaPaymentTopic, cfg.KafkaGroupID), deps.Payments, logger)
		defer consumer.Close()
	}

	engine := html.New("./web/templates", ".html")
	app := fiber.New(fiber.Config{
		Views:                 engine,
		DisableStartupMessage: true,
		BodyLimit:             1 << 20,
		ErrorHandler:          handlers.ErrorHandler,
	})

	app.Use(requestid.New())
	app.Use(recover.New())
	app.Use(helmet.New())
	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/healthz"
		},
	}))
	app.Use(func(c *fiber.Ctx) error {
		err := c.Next()
		applog.Info(c, "http.access", nil)
		return err
	})
	handlers.Routes(app, deps, cfg.AdminTokenHash, cfg.PaymentWebhookTokenHash)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http.listen", zap.String("port", cfg.Port))
		return app.Listen(":" + cfg.Port)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})
	for _, r := range relays {
		g.Go(func() error { return r.Run(gctx) })
	}
	g.Go(func() error { return deps.Sweeper.Run(gctx) })
	if consumer != nil {
		g.Go(func() error { return consumer.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		logger.Error("shutdown", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown.clean")
}
