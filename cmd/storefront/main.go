package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"storefront/config"
	"storefront/internal/cache"
	"storefront/internal/dispatcher"
	"storefront/internal/driver"
	driverlightning "storefront/internal/driver/lightning"
	driverswap "storefront/internal/driver/swap"
	"storefront/internal/eventbus"
	"storefront/internal/httpapi"
	"storefront/internal/mailer"
	"storefront/internal/nostrmirror"
	"storefront/internal/nostrsign"
	"storefront/internal/orderstate"
	"storefront/internal/relaypool"
	"storefront/internal/store"
	"storefront/internal/streamqueue"
	"storefront/internal/watcher"
	"storefront/pkg/logger"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"
)

// One exit code per failure class, so supervisors can tell a config problem
// from a database problem from a shutdown that missed its deadline.
const (
	exitOK              = 0
	exitConfigError     = 1
	exitDatabaseError   = 2
	exitShutdownTimeout = 3
)

// pendingOrderTTL is how long a PENDING/MEMPOOL order may linger before the
// periodic sweep expires it, a backstop behind each order's own watcher
// deadline for orders whose watcher died without reaching a terminal state.
const pendingOrderTTL = 24 * time.Hour

var Cfg config.StoreConfig

func main() {
	os.Exit(run())
}

func run() int {
	if err := logger.Init(logger.GetEnv()); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: failed to initialize logger: %v\n", err)
		return exitConfigError
	}
	defer logger.Sync()

	_, filename, _, _ := runtime.Caller(0)
	root := filepath.Dir(filename)
	configPath := config.Path(root).Join("..", "..", "config.toml")

	if err := config.Load(configPath, &Cfg); err != nil {
		logger.Error("failed to load config", zap.Error(err))
		return exitConfigError
	}

	db, err := store.Open(store.Config{File: Cfg.DBFile})
	if err != nil {
		logger.Error("failed to open database", zap.Error(err))
		return exitDatabaseError
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		logger.Error("failed to run migrations", zap.Error(err))
		return exitDatabaseError
	}

	orders := store.NewOrderRepository(db)
	carts := store.NewCartRepository(db)
	products := store.NewProductRepository(db)
	settingsRepo := store.NewSettingsRepository(db)
	outbox := store.NewOutboxRepository(db)
	bookkeeping := store.NewNostrBookkeepingRepository(db)

	var cacheCfg cache.Config
	if err := copier.Copy(&cacheCfg, &Cfg.Redis); err != nil {
		logger.Error("failed to copy cache config", zap.Error(err))
		return exitConfigError
	}
	redisCache, err := cache.New(cacheCfg)
	if err != nil {
		logger.Error("failed to connect to redis", zap.Error(err))
		return exitConfigError
	}
	defer redisCache.Close()

	queue := streamqueue.New(redisCache.Raw(), "storefront:notifications", "notification-dispatchers")

	key, err := loadOrGenerateKeypair(Cfg.Nostr.SecretHex)
	if err != nil {
		logger.Error("failed to load nostr keypair", zap.Error(err))
		return exitConfigError
	}

	relays := relaypool.New()
	for _, relayURL := range Cfg.Nostr.Relays {
		relays.AddRelay(relayURL)
	}
	defer relays.Close()

	drivers, err := buildDrivers(Cfg)
	if err != nil {
		logger.Error("failed to initialize payment drivers", zap.Error(err))
		return exitConfigError
	}
	for _, d := range drivers {
		if closer, ok := d.(interface{ Close() error }); ok {
			defer closer.Close()
		}
	}

	bus := eventbus.New()

	mail := mailer.New(mailer.Config{
		Host: Cfg.SMTP.Host, Port: Cfg.SMTP.Port, Username: Cfg.SMTP.User,
		Password: Cfg.SMTP.Pass, From: Cfg.SMTP.From, ReplyTo: Cfg.SMTP.ReplyTo,
	})

	notify := dispatcher.New(orders, outbox, settingsRepo, queue, relays, mail, key, "dispatcher-1")
	machine := orderstate.NewMachine(orders, outbox, bus, notify)

	registry := watcher.NewRegistry(orders, drivers, machine, bus)

	mirror := nostrmirror.New(relays, bookkeeping, key)

	srv := httpapi.NewServer(httpapi.Config{
		Orders: orders, Carts: carts, Products: products, Settings: settingsRepo, Outbox: outbox,
		Machine: machine, Bus: bus, Registry: registry, Drivers: drivers, Mirror: mirror,
		Dispatcher: notify, Cache: redisCache,
		SessionSecret: Cfg.SessionSecret, AdminPIN: Cfg.AdminPIN,
		RequestTimeout: time.Duration(Cfg.HTTP.RequestTimeoutSeconds) * time.Second,
		OnchainMinSats: Cfg.OnchainMinSats,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	defer cancelDispatch()
	go func() {
		if err := notify.Run(dispatchCtx); err != nil && dispatchCtx.Err() == nil {
			logger.Error("notification dispatcher stopped", zap.Error(err))
		}
	}()

	if err := registry.RecoverAll(context.Background()); err != nil {
		logger.Error("failed to recover in-flight orders", zap.Error(err))
	}

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	go sweepStaleOrders(sweepCtx, orders)

	// Initial catalog sync against the relay set; the content-hash check
	// makes this a no-op when nothing changed since the last run.
	go func() {
		syncCtx, cancelSync := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancelSync()
		settings, err := settingsRepo.Get(syncCtx)
		if err != nil {
			logger.Warn("startup stall sync: load settings failed", zap.Error(err))
			return
		}
		productRows, err := products.List(syncCtx)
		if err != nil {
			logger.Warn("startup stall sync: list products failed", zap.Error(err))
			return
		}
		if err := mirror.SyncAll(syncCtx, settings, productRows); err != nil {
			logger.Warn("startup stall sync incomplete", zap.Error(err))
		}
	}()

	httpServer := &http.Server{Addr: Cfg.HTTP.Addr, Handler: srv.NewRouter()}
	go func() {
		logger.Info("storefront listening", zap.String("addr", Cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped unexpectedly", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown exceeded deadline", zap.Error(err))
		registry.StopAll()
		cancelDispatch()
		return exitShutdownTimeout
	}

	registry.StopAll()
	cancelDispatch()

	logger.Info("shutdown complete")
	return exitOK
}

// sweepStaleOrders periodically expires PENDING/MEMPOOL orders older than the
// TTL, covering orders whose watchers never concluded.
func sweepStaleOrders(ctx context.Context, orders *store.OrderRepository) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := orders.PrunePendingOlderThan(ctx, pendingOrderTTL)
			if err != nil {
				logger.Warn("stale order sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("expired stale pending orders", zap.Int64("count", n))
			}
		}
	}
}

func loadOrGenerateKeypair(secret string) (*nostrsign.Keypair, error) {
	if secret == "" {
		logger.Warn("SHOP_NOSTR_SECRET_HEX not set, generating an ephemeral keypair for this run")
		return nostrsign.GenerateKeypair()
	}
	return nostrsign.KeypairFromSecret(secret)
}

// buildDrivers constructs one driver per configured payment method. Both a
// Lightning and an on-chain swap driver may run side by side; an order's
// Method field selects which one the watcher and checkout handler use.
func buildDrivers(cfg config.StoreConfig) (map[store.PaymentMethod]driver.Driver, error) {
	drivers := make(map[store.PaymentMethod]driver.Driver)

	if cfg.PaymentProvider == "lightning" || cfg.Lightning.TLSCertPath != "" {
		lnd, err := driverlightning.NewClient(driverlightning.Config{
			GRPCHost: cfg.Lightning.GRPCHost, GRPCPort: cfg.Lightning.GRPCPort,
			TLSCertPath: cfg.Lightning.TLSCertPath, MacaroonPath: cfg.Lightning.MacaroonPath,
			Network: cfg.Lightning.Network, InvoiceExpirySeconds: cfg.Lightning.InvoiceExpirySeconds,
		})
		if err != nil {
			return nil, fmt.Errorf("init lightning driver: %w", err)
		}
		drivers[store.MethodLightning] = lnd
	}

	if cfg.Swap.BaseURL != "" {
		drivers[store.MethodOnchain] = driverswap.NewClient(driverswap.Config{
			BaseURL: cfg.Swap.BaseURL, APIKey: cfg.Swap.APIKey, WebhookSecret: cfg.Swap.WebhookSecret,
			Network: cfg.Swap.Network, HTTPTimeout: 15 * time.Second,
		})
	}

	if len(drivers) == 0 {
		return nil, fmt.Errorf("no payment driver configured: set lightning or swap credentials")
	}
	return drivers, nil
}
