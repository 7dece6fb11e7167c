package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	adminsvc "cedra_fulfillment/internal/admin"
	"cedra_fulfillment/internal/cache"
	"cedra_fulfillment/internal/checkout"
	"cedra_fulfillment/internal/config"
	"cedra_fulfillment/internal/database"
	adminh "cedra_fulfillment/internal/handlers/admin"
	pa "cedra_fulfillment/internal/handlers/payement"
	"cedra_fulfillment/internal/handlers/user"
	"cedra_fulfillment/internal/idempotency"
	"cedra_fulfillment/internal/ledger"
	"cedra_fulfillment/internal/notify"
	"cedra_fulfillment/internal/providers"
	"cedra_fulfillment/internal/reconciler"
	"cedra_fulfillment/internal/routes"
	"cedra_fulfillment/internal/services"
	"cedra_fulfillment/internal/utils"
)

func main() {
	cfg := config.Load()
	if cfg.JWTSecret == "" {
		log.Fatal("❌ JWT_SECRET manquant")
	}

	conns, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("❌ Connexion aux bases impossible: %v", err)
	}
	defer conns.Close()

	ordersSession, err := conns.OrdersSession()
	if err != nil {
		log.Fatalf("❌ Session keyspace commandes: %v", err)
	}
	if err := database.CheckOrdersSchema(ordersSession); err != nil {
		log.Fatalf("❌ Schéma commandes incomplet (voir scripts/orders_init.cql): %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Registre et journaux ---
	store := ledger.NewScyllaStore(ordersSession)
	auditLog := utils.NewAuditLogger(ordersSession)
	var (
		archive reconciler.EvidenceArchive
		linker  adminh.EvidenceLinker
	)
	if conns.MinIO != nil {
		evidence := services.NewEvidenceArchive(conns.MinIO, cfg.MinIO.EvidenceBucket)
		archive, linker = evidence, evidence
	}

	var (
		catalog checkout.PriceCatalog
		prices  adminh.PriceInvalidator
	)
	if productsSession, err := conns.ProductsSession(); err != nil {
		log.Printf("⚠️ Catalogue produits indisponible: %v", err)
	} else if productsSession != nil {
		cached := cache.NewCatalogCache(conns.Redis, checkout.NewScyllaCatalog(productsSession), cache.ProductCacheTTL)
		catalog, prices = cached, cached
		log.Println("✅ Catalogue de prix branché")
	}

	// --- Prestataires ---
	registry := providers.NewRegistry(buildAdapters(cfg)...)
	if len(registry.Names()) == 0 {
		log.Fatal("❌ Aucun prestataire de paiement configuré")
	}
	log.Printf("✅ Prestataires actifs : %v", registry.Names())

	// --- Notifications ---
	var mailer notify.Mailer
	if cfg.SMTP.Host != "" {
		mailer = notify.NewSMTPMailer(cfg.SMTP)
	} else {
		log.Println("⚠️ SMTP non configuré, e-mails de statut désactivés")
	}
	dispatcher := notify.NewDispatcher(mailer, notify.NewRedisPublisher(conns.Redis), cfg.NotifyWorkers, 1024)
	dispatcher.Start(ctx)

	// --- Services ---
	guard := idempotency.NewGuard(conns.Redis, cfg.IdempotencyTTL)
	checkoutSvc := checkout.NewService(checkout.Options{
		Store:    store,
		Journal:  store,
		Guard:    guard,
		Registry: registry,
		Catalog:  catalog,
		Notifier: dispatcher,
		Currency: cfg.Currency,
	})
	rec := reconciler.New(reconciler.Options{
		Store:    store,
		Journal:  store,
		Registry: registry,
		Events:   guard,
		Evidence: archive,
		Notifier: dispatcher,
	})
	adminSvc := adminsvc.NewService(store, store)

	sweeper := reconciler.NewSweeper(store, registry, dispatcher, cfg.SweepInterval, cfg.StaleAfter)
	go sweeper.Run(ctx)

	// --- HTTP ---
	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.FrontendURL},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Session-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	routes.RegisterRoutes(r, routes.Deps{
		JWTSecret:          []byte(cfg.JWTSecret),
		Redis:              conns.Redis,
		CheckoutRatePerMin: cfg.CheckoutRatePerMin,
		Audit:              auditLog,
		Payments:           pa.NewHandler(checkoutSvc, rec),
		Users:              user.NewHandler(store, conns.Redis, cfg.FrontendURL),
		Admin: adminh.NewHandler(adminh.Options{
			Service:  adminSvc,
			Checkout: checkoutSvc,
			Journal:  store,
			Evidence: linker,
			Audit:    auditLog,
			Prices:   prices,
		}),
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		log.Println("🚀 Serveur Cedra lancé sur le port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ Serveur HTTP: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("🛑 Arrêt demandé, fermeture du serveur...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ Arrêt HTTP forcé: %v", err)
	}
	dispatcher.Close()
	log.Println("👋 Serveur arrêté")
}

// buildAdapters n'enregistre que les prestataires dont les identifiants sont fournis
func buildAdapters(cfg config.Config) []providers.Adapter {
	retry := providers.DefaultRetryPolicy(cfg.ProviderTimeout, cfg.ProviderRetries)
	returnURL := cfg.ReturnBaseURL + "/checkout/return"
	cancelURL := cfg.ReturnBaseURL + "/checkout/cancel"

	var adapters []providers.Adapter
	if cfg.Card.SecretKey != "" {
		adapters = append(adapters, providers.NewCard(cfg.Card.SecretKey, cfg.Card.WebhookSecret, retry))
	}
	if cfg.Wallet.ClientID != "" {
		adapters = append(adapters, providers.NewWallet(providers.WalletOptions{
			BaseURL:   cfg.Wallet.BaseURL,
			OAuth:     cfg.WalletOAuth(),
			WebhookID: cfg.Wallet.WebhookID,
			ReturnURL: returnURL,
			CancelURL: cancelURL,
			Retry:     retry,
		}))
	}
	if cfg.Redirect.APIKey != "" {
		adapters = append(adapters, providers.NewRedirect(providers.RedirectOptions{
			BaseURL:       cfg.Redirect.BaseURL,
			APIKey:        cfg.Redirect.APIKey,
			WebhookSecret: cfg.Redirect.WebhookSecret,
			ReturnURL:     returnURL,
			CancelURL:     cancelURL,
			Retry:         retry,
		}))
	}
	return adapters
}
