package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/yasunstudio/perdami-store-app-sub001/internal/audit"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/config"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/fulfillment"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/httpapi"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/intake"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/metrics"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/notification"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/order"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/scheduler"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/storage"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/storage/memory"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/websocket"
	"github.com/yasunstudio/perdami-store-app-sub001/pkg/messaging"

	"github.com/redis/go-redis/v9"
)

// backend is every store the service needs; both the PostgreSQL and the
// in-memory stores provide it.
type backend interface {
	order.Store
	notification.Store
	notification.Directory
	audit.Store
	intake.Inbox
	Ping(ctx context.Context) error
}

type App struct {
	cfg        config.Config
	logger     *slog.Logger
	store      backend
	closeStore func()
	redis      *redis.Client

	Engine     *order.Engine
	Dispatcher *notification.Dispatcher
	Controller *fulfillment.Controller
	Payments   *scheduler.Runner
	Pickups    *scheduler.Runner

	hub       *websocket.Hub
	publisher messaging.Publisher
	outbox    *messaging.OutboxDispatcher
	consumers []consumer
	httpSrv   *http.Server
}

type consumer struct {
	name    string
	c       *messaging.Consumer
	handler messaging.Handler
}

func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// New wires every component without starting any background work.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	a.hub = websocket.NewHub(logger)
	a.Dispatcher = notification.NewDispatcher(a.store, logger, notification.WithPusher(a.hub))
	a.Engine = order.NewEngine(a.store, logger)
	a.Engine.Subscribe(notification.NewTransitionNotifier(a.Dispatcher, logger))
	auditLog := audit.NewLogger(a.store, logger)

	paymentTask := scheduler.NewPaymentReminders(a.store, a.Engine, a.Dispatcher, scheduler.PaymentConfig{
		Window:        cfg.Payment.Window,
		ReminderLead:  cfg.Payment.ReminderLead,
		WarningLead:   cfg.Payment.WarningLead,
		EscalateAfter: cfg.Payment.EscalateAfter,
		BatchSize:     cfg.Payment.BatchSize,
		Location:      cfg.Venue.Location(),
	}, logger)
	pickupTask := scheduler.NewPickupReminders(a.store, a.Dispatcher, cfg.Venue, cfg.Pickup.BatchSize, logger)

	var locker scheduler.Locker = scheduler.NewLocalLocker()
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		locker = scheduler.NewRedisLocker(a.redis, "fulfillment:")
	}
	a.Payments = scheduler.NewRunner(paymentTask, locker, cfg.Payment.Interval, cfg.Payment.Timeout, logger)
	a.Pickups = scheduler.NewRunner(pickupTask, locker, cfg.Pickup.Interval, cfg.Pickup.Timeout, logger)

	a.Controller = fulfillment.NewController(a.Engine, pickupTask, a.Dispatcher, auditLog, logger,
		fulfillment.WithLocation(cfg.Venue.Location()))
	payments := intake.NewPayments(a.Engine, a.store, logger)

	if err := a.openBroker(payments); err != nil {
		a.Close(ctx)
		return nil, err
	}

	api := httpapi.NewServer(httpapi.Deps{
		Orders:        a.Engine,
		Progress:      a.Controller,
		Payments:      payments,
		Notifications: a.Dispatcher,
		Audit:         auditLog,
		Sweepers:      []httpapi.Sweeper{a.Payments, a.Pickups},
		Health:        a.store,
	}, logger)
	api.HandleFunc("GET /notifications/ws", websocket.NewHandler(a.hub, a.Dispatcher, logger).ServeWS)
	a.httpSrv = &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api,
	}

	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	if a.cfg.StoreDriver == "memory" {
		a.logger.Warn("using in-memory store; state is lost on exit")
		a.store = memory.New()
		a.closeStore = func() {}
		return nil
	}

	store, err := storage.New(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	a.store = store
	a.closeStore = store.Close
	return nil
}

// openBroker connects the notification relay and the consumers. It is a
// no-op without a broker URL.
func (a *App) openBroker(payments *intake.Payments) error {
	if a.cfg.RabbitURL == "" {
		return nil
	}

	if pg, ok := a.store.(*storage.Store); ok {
		publisher, err := messaging.NewRabbitPublisher(a.cfg.RabbitURL, a.cfg.NotificationsExch)
		if err != nil {
			return err
		}
		a.publisher = publisher
		a.outbox = messaging.NewOutboxDispatcher(pg.Pool(), publisher, storage.OutboxTable, a.cfg.OutboxInterval, a.cfg.OutboxBatchSize, a.logger)
	}

	paymentConsumer, err := messaging.NewRabbitConsumer(a.cfg.RabbitURL, a.cfg.PaymentsExchange, a.cfg.PaymentsQueue, a.logger)
	if err != nil {
		return err
	}
	a.consumers = append(a.consumers, consumer{name: "payments", c: paymentConsumer, handler: payments.Consume})

	if a.cfg.SMTP.Enabled() {
		emailConsumer, err := messaging.NewRabbitConsumer(a.cfg.RabbitURL, a.cfg.NotificationsExch, a.cfg.EmailQueue, a.logger)
		if err != nil {
			return err
		}
		sender := notification.NewEmailSender(notification.SMTPConfig{
			Host:     a.cfg.SMTP.Host,
			Port:     a.cfg.SMTP.Port,
			Username: a.cfg.SMTP.Username,
			Password: a.cfg.SMTP.Password,
			From:     a.cfg.SMTP.From,
		}, a.store, a.logger)
		a.consumers = append(a.consumers, consumer{name: "email", c: emailConsumer, handler: sender.Consume})
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(a.consumers)+1)

	go a.hub.Run(ctx)

	if a.outbox != nil {
		a.outbox.Start(ctx)
	}

	for _, c := range a.consumers {
		go func() {
			if err := c.c.Start(ctx, c.handler); err != nil {
				errCh <- fmt.Errorf("%s consumer: %w", c.name, err)
			}
		}()
	}

	if a.cfg.SchedulerEnabled {
		a.Payments.Start(ctx)
		a.Pickups.Start(ctx)
		a.logger.Info("schedulers started",
			"payment_interval", a.cfg.Payment.Interval, "pickup_interval", a.cfg.Pickup.Interval)
	}

	go func() {
		a.logger.Info("fulfillment http server listening", "addr", a.cfg.HTTPAddr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *App) Close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownGracePeriod)
	defer cancel()

	if a.httpSrv != nil {
		_ = a.httpSrv.Shutdown(shutdownCtx)
	}
	for _, c := range a.consumers {
		_ = c.c.Close()
	}
	if a.publisher != nil {
		_ = a.publisher.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.closeStore != nil {
		a.closeStore()
	}
}

// Run is the service entry point.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := NewLogger(cfg.LogLevel)
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer app.Close(ctx)

	return app.Run(ctx)
}
