package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rafitos77/vipgate/internal/storage"
	"github.com/rafitos77/vipgate/modules/billing"
	"github.com/rafitos77/vipgate/pkg/checkout"
	"github.com/rafitos77/vipgate/pkg/config"
	"github.com/rafitos77/vipgate/pkg/entitlement"
	"github.com/rafitos77/vipgate/pkg/gateway"
	"github.com/rafitos77/vipgate/pkg/httpserver"
	"github.com/rafitos77/vipgate/pkg/logger"
	"github.com/rafitos77/vipgate/pkg/notify"
	"github.com/rafitos77/vipgate/pkg/payment"
	"github.com/rafitos77/vipgate/pkg/pg"
	"github.com/rafitos77/vipgate/pkg/pricing"
)

type appConfig struct {
	// PricingPath points at a YAML price table; empty uses the built-in one.
	PricingPath string `env:"PRICING_PATH"`
}

func main() {
	ctx := context.Background()

	var (
		appCfg         appConfig
		logCfg         logger.Config
		pgCfg          pg.Config
		httpCfg        httpserver.Config
		entitlementCfg entitlement.Config
		routerCfg      payment.RouterConfig
		notifyCfg      notify.Config
		stripeCfg      gateway.StripeConfig
		asaasCfg       gateway.AsaasConfig
		pushinPayCfg   gateway.PushinPayConfig
		nowCfg         gateway.NOWPaymentsConfig
		paypalCfg      gateway.PayPalConfig
	)
	config.MustLoad(&appCfg)
	config.MustLoad(&logCfg)
	config.MustLoad(&pgCfg)
	config.MustLoad(&httpCfg)
	config.MustLoad(&entitlementCfg)
	config.MustLoad(&routerCfg)
	config.MustLoad(&notifyCfg)
	config.MustLoad(&stripeCfg)
	config.MustLoad(&asaasCfg)
	config.MustLoad(&pushinPayCfg)
	config.MustLoad(&nowCfg)
	config.MustLoad(&paypalCfg)

	log := logger.New(
		logger.WithConfig(logCfg),
		logger.WithAttr(slog.String("service", "vipgate")),
		logger.WithContextValue("request_id", middleware.RequestIDKey),
	)

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		log.ErrorContext(ctx, "failed to connect to postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, storage.Migrations, pgCfg, log); err != nil {
		log.ErrorContext(ctx, "failed to apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

	entitlements := entitlement.NewService(
		storage.NewEntitlementStore(pool),
		entitlementCfg,
		entitlement.WithLogger(log),
	)
	payments := storage.NewPaymentStore(pool)

	table, err := pricing.NewTable(pricingSource(appCfg))
	if err != nil {
		log.ErrorContext(ctx, "failed to load pricing table", slog.Any("error", err))
		os.Exit(1)
	}

	providers, parsers := buildGateways(ctx, log, []gatewayBuilder{
		{"stripe", stripeCfg.Configured(), func() (payment.Provider, error) { return gateway.NewStripe(stripeCfg) }},
		{"asaas", asaasCfg.Configured(), func() (payment.Provider, error) { return gateway.NewAsaas(asaasCfg) }},
		{"pushinpay", pushinPayCfg.Configured(), func() (payment.Provider, error) { return gateway.NewPushinPay(pushinPayCfg) }},
		{"nowpayments", nowCfg.Configured(), func() (payment.Provider, error) { return gateway.NewNOWPayments(nowCfg) }},
		{"paypal", paypalCfg.Configured(), func() (payment.Provider, error) { return gateway.NewPayPal(paypalCfg) }},
	})
	if len(providers) == 0 {
		log.ErrorContext(ctx, "no payment gateway configured")
		os.Exit(1)
	}

	reconcilerOpts := []payment.ReconcilerOption{payment.WithReconcilerLogger(log)}
	if notifyCfg.Configured() {
		reconcilerOpts = append(reconcilerOpts,
			payment.WithNotifier(notify.New(notifyCfg, notify.WithLogger(log))))
	} else {
		log.InfoContext(ctx, "bot callback not configured, payment notifications disabled")
	}
	reconciler := payment.NewReconciler(payments, entitlements, reconcilerOpts...)

	checkoutSvc := checkout.NewService(
		table,
		payment.NewRouter(routerCfg),
		payments,
		reconciler,
		providers,
		checkout.WithLogger(log),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Mount("/", billing.Router(billing.RouterOptions{
		Parsers:    parsers,
		Reconciler: reconciler,
		Checkout:   checkoutSvc,
		Health:     pg.Healthcheck(pool),
		Logger:     log,
	}))

	srv := httpserver.NewFromConfig(httpCfg,
		httpserver.WithLogger(log),
		httpserver.WithStartHook(func(l *slog.Logger) {
			l.Info("server started", slog.String("addr", httpCfg.Addr))
		}),
		httpserver.WithStopHook(func(l *slog.Logger) {
			l.Info("server stopped")
		}),
	)
	if err := srv.Run(ctx, r); err != nil {
		log.ErrorContext(ctx, "server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func pricingSource(cfg appConfig) pricing.Source {
	if cfg.PricingPath == "" {
		return pricing.NewStaticSource()
	}
	return pricing.NewYAMLSource(os.DirFS("."), cfg.PricingPath)
}

// gatewayBuilder pairs a gateway's config check with its constructor so the
// wiring loop can treat all five providers uniformly.
type gatewayBuilder struct {
	name       string
	configured bool
	build      func() (payment.Provider, error)
}

// buildGateways constructs every adapter whose credentials are present.
// Missing credentials skip the gateway and a failing constructor logs the
// error instead of failing startup, so a deployment can run with any subset
// of providers.
func buildGateways(ctx context.Context, log *slog.Logger, builders []gatewayBuilder) ([]payment.Provider, map[payment.ProviderID]billing.WebhookParser) {
	var providers []payment.Provider
	parsers := make(map[payment.ProviderID]billing.WebhookParser)

	for _, b := range builders {
		if !b.configured {
			log.InfoContext(ctx, "gateway not configured, skipping",
				slog.String("gateway", b.name))
			continue
		}
		p, err := b.build()
		if err != nil {
			log.ErrorContext(ctx, "failed to initialize gateway",
				slog.String("gateway", b.name),
				slog.Any("error", err))
			continue
		}
		providers = append(providers, p)
		if parser, ok := p.(billing.WebhookParser); ok {
			parsers[p.ID()] = parser
		}
	}
	return providers, parsers
}
