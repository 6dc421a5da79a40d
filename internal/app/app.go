package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/carrier/delhivery"
	"github.com/xenking/kart-orders/internal/cartcache"
	"github.com/xenking/kart-orders/internal/domain/auth"
	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/coupon"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/payment"
	"github.com/xenking/kart-orders/internal/domain/pricing"
	"github.com/xenking/kart-orders/internal/domain/shipment"
	"github.com/xenking/kart-orders/internal/events"
	"github.com/xenking/kart-orders/internal/gateway/razorpay"
	"github.com/xenking/kart-orders/internal/gateway/stripe"
	"github.com/xenking/kart-orders/internal/handler"
	"github.com/xenking/kart-orders/internal/repository"
	"github.com/xenking/kart-orders/pkg/health"
	"github.com/xenking/kart-orders/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	if err := repository.RunMigrations(cfg.DatabaseURL); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	// Redis for anonymous carts and the shared rate limiter.
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return errors.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()

	publisher, closeEvents, err := newPublisher(lg, m, cfg.Kafka)
	if err != nil {
		return errors.Wrap(err, "create event publisher")
	}
	defer closeEvents()

	// Repositories.
	productRepo := repository.NewProductRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	cartRepo := repository.NewCartRepository(pool)
	anonCarts := cartcache.NewRedisStore(rdb, cfg.AnonCart.TTL)

	// Domain services.
	engine := pricing.NewEngine(cfg.Pricing.engine())
	coupons := coupon.NewValidator(couponRepo)
	carts := cart.NewService(anonCarts, cartRepo, productRepo, coupons, engine)
	factory := order.NewFactory(productRepo, coupons, orderRepo, engine, publisher)
	orders := order.NewStateMachine(orderRepo, coupons, publisher)

	gateways, err := newGateways(lg, cfg)
	if err != nil {
		return err
	}
	payments := payment.NewOrchestrator(orders, []byte(cfg.Razorpay.WebhookSecret), gateways...)

	var carrier shipment.Carrier = disabledCarrier{}
	if cfg.Carrier.enabled() {
		c, err := delhivery.New(delhivery.Config{
			BaseURL: cfg.Carrier.BaseURL,
			Token:   cfg.Carrier.Token,
			Timeout: cfg.Carrier.Timeout,
		})
		if err != nil {
			return errors.Wrap(err, "create carrier client")
		}
		carrier = c
	} else {
		lg.Warn("Carrier not configured, shipment booking disabled")
	}
	shipments := shipment.NewService(carrier, orderRepo, publisher, cfg.Carrier.shipment())

	// Health check service.
	healthSvc := health.New()
	healthSvc.Register(health.Check{
		Name: "postgres", Kind: health.Readiness, Timeout: 5 * time.Second,
		Func: health.PingCheck("postgres", pool),
	})
	healthSvc.Register(health.Check{
		Name: "redis", Kind: health.Readiness, Timeout: 2 * time.Second,
		Func: health.PingCheck("redis", anonCarts),
	})
	healthSvc.Register(health.Check{
		Name: "goroutines", Kind: health.Liveness, Timeout: time.Second,
		Func: health.GoroutineCountCheck(10000),
	})
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	api := handler.New(handler.Deps{
		Carts:     carts,
		Coupons:   coupons,
		Checkout:  factory,
		Orders:    orders,
		Payments:  payments,
		Shipments: shipments,
		Auth:      auth.NewTokens([]byte(cfg.Auth.JWTSecret)),
	})

	// Health endpoints and the API on one router.
	r := chi.NewRouter()
	r.Get("/livez", healthSvc.Handler(health.Liveness))
	r.Get("/readyz", healthSvc.Handler(health.Readiness))
	r.Mount("/api", api.Routes())

	limiter := httpmiddleware.NewRedisLimiter(rdb, "ratelimit", cfg.RateLimit.Max, cfg.RateLimit.Window)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Carrier and gateway calls run inside the request.
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: httpmiddleware.Wrap(r,
			httpmiddleware.Recovery(),
			httpmiddleware.RateLimit(limiter, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
				Skip:   isWebhook,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("kart-api", m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

func isWebhook(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/webhooks/")
}

// newPublisher returns the Kafka publisher when brokers are configured and
// a no-op otherwise, counted either way.
func newPublisher(lg *zap.Logger, m *app.Telemetry, cfg KafkaConfig) (events.Publisher, func(), error) {
	var (
		next    events.Publisher = events.Nop{}
		closeFn                  = func() {}
	)
	if len(cfg.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Brokers, cfg.Topic)
		next = kp
		closeFn = func() {
			if err := kp.Close(); err != nil {
				lg.Warn("Close event publisher", zap.Error(err))
			}
		}
		lg.Info("Publishing order events", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))
	}
	metered, err := events.NewMetered(next, m.MeterProvider().Meter("kart-orders"))
	if err != nil {
		return nil, nil, err
	}
	return metered, closeFn, nil
}

func newGateways(lg *zap.Logger, cfg *Config) ([]payment.Gateway, error) {
	var gateways []payment.Gateway
	if cfg.Stripe.SecretKey != "" {
		g, err := stripe.New(stripe.Config{SecretKey: cfg.Stripe.SecretKey, Currency: cfg.Stripe.Currency})
		if err != nil {
			return nil, errors.Wrap(err, "create stripe gateway")
		}
		gateways = append(gateways, g)
	}
	if cfg.Razorpay.KeyID != "" {
		g, err := razorpay.New(razorpay.Config{
			KeyID:     cfg.Razorpay.KeyID,
			KeySecret: cfg.Razorpay.KeySecret,
			Currency:  cfg.Razorpay.Currency,
		})
		if err != nil {
			return nil, errors.Wrap(err, "create razorpay gateway")
		}
		gateways = append(gateways, g)
	}
	if len(gateways) == 0 {
		lg.Warn("No payment gateway configured, only cash on delivery is available")
	}
	return gateways, nil
}

// errCarrierDisabled is returned by every carrier call when no carrier is
// configured.
var errCarrierDisabled = errors.New("carrier is not configured")

type disabledCarrier struct{}

func (disabledCarrier) Create(context.Context, shipment.Request) (*shipment.Response, error) {
	return nil, errCarrierDisabled
}

func (disabledCarrier) Cancel(context.Context, string) error { return errCarrierDisabled }

func (disabledCarrier) Label(context.Context, string) ([]byte, error) {
	return nil, errCarrierDisabled
}
