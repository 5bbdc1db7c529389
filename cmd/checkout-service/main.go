// Storefront checkout service: catalog browsing, accounts, and the
// reservation / provider-payment / reconciliation flow.
//
// @title shop-checkout API
// @version 1.0
// @BasePath /
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	swaggoFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/tenisdos/shop-checkout/docs"
	"github.com/tenisdos/shop-checkout/internal/catalog"
	"github.com/tenisdos/shop-checkout/internal/checkout"
	"github.com/tenisdos/shop-checkout/internal/config"
	"github.com/tenisdos/shop-checkout/internal/contact"
	"github.com/tenisdos/shop-checkout/internal/customer"
	"github.com/tenisdos/shop-checkout/internal/email"
	"github.com/tenisdos/shop-checkout/internal/httpx"
	"github.com/tenisdos/shop-checkout/internal/metrics"
	"github.com/tenisdos/shop-checkout/internal/order"
	"github.com/tenisdos/shop-checkout/internal/payment"
	"github.com/tenisdos/shop-checkout/internal/session"
	"github.com/tenisdos/shop-checkout/internal/store"
	"github.com/tenisdos/shop-checkout/internal/validation"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.Migrate(cfg.PostgresDSN, cfg.MigrationsPath); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	orders := order.NewPGRepo(pool)
	customers := customer.NewPGRepo(pool)
	products := catalog.NewPGRepo(pool)
	contacts := contact.NewPGRepo(pool)
	sessions := session.NewPGStore(pool)

	gateway := payment.NewClient(cfg.PayPalBaseURL, cfg.PayPalClientID, cfg.PayPalClientSecret, cfg.PayPalWebhookID)
	m := metrics.NewCheckout()

	opts := []checkout.Option{
		checkout.WithCurrency(cfg.Currency),
		checkout.WithMetrics(m),
		checkout.WithBaseURL(cfg.PublicBaseURL),
	}
	var sender *email.Sender
	if cfg.SendGridKey != "" {
		sender = email.NewSender(cfg.SendGridKey, "TENIS2_SHOP", cfg.FromEmail, cfg.Currency)
		opts = append(opts, checkout.WithMailer(sender))
	}
	svc := checkout.NewService(orders, customers, gateway, opts...)

	var resetSender resetMailer
	if sender != nil {
		resetSender = sender
	}

	v := validation.New()

	r := gin.New()
	r.Use(gin.Recovery(), httpx.RequestID(), httpx.Logger())

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggoFiles.Handler))

	r.POST("/api/auth/register", registerHandler(customers, v))
	r.POST("/api/auth/login", loginHandler(customers, sessions, cfg.SessionTTL, v))
	r.POST("/api/auth/logout", session.RequireAuth(sessions), logoutHandler(sessions))
	r.POST("/api/auth/forgot-password", forgotPasswordHandler(customers, resetSender, cfg.PublicBaseURL, v))
	r.POST("/api/auth/reset-password", resetPasswordHandler(customers, v))

	r.GET("/api/products/original", listProductsHandler(products, catalog.KindOriginal))
	r.GET("/api/products/replica", listProductsHandler(products, catalog.KindReplica))
	r.GET("/api/products/cheapest", listByPriceHandler(products, true))
	r.GET("/api/products/priciest", listByPriceHandler(products, false))
	r.GET("/api/products/:code", getProductHandler(products))

	r.POST("/api/contact", contactHandler(contacts, v))

	auth := r.Group("/", session.RequireAuth(sessions))
	auth.POST("/checkout/initiate", initiateCheckoutHandler(svc, v))
	auth.POST("/checkout/capture", captureCheckoutHandler(svc, v, m))
	auth.GET("/api/orders/history", orderHistoryHandler(orders))
	auth.GET("/api/contacts", listContactsHandler(contacts))

	// Provider push endpoint; authenticated by signature verification, not by
	// a customer session.
	r.POST("/checkout/webhook", webhookHandler(svc))

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		log.Printf("[main] checkout-service listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[main] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] shutdown: %v", err)
	}
}
