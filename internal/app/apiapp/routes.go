package apiapp

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	authsvc "github.com/mvolkov/trackstore/internal/services/auth"
	checkoutsvc "github.com/mvolkov/trackstore/internal/services/checkout"
	downloadsvc "github.com/mvolkov/trackstore/internal/services/downloads"
	entsvc "github.com/mvolkov/trackstore/internal/services/entitlements"
	paymentsvc "github.com/mvolkov/trackstore/internal/services/payments"
	"github.com/mvolkov/trackstore/internal/transport/http/handlers"
)

type Dependencies struct {
	AuthService        *authsvc.Service
	CheckoutService    *checkoutsvc.Service
	PaymentService     *paymentsvc.Service
	WebhookVerifier    handlers.WebhookVerifier
	EntitlementService *entsvc.Service
	DownloadService    *downloadsvc.Service
	Logger             *zap.Logger
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler()
	authHandler := handlers.NewAuthHandler(deps.AuthService)
	checkoutHandler := handlers.NewCheckoutHandler(deps.CheckoutService)
	webhookHandler := handlers.NewWebhookHandler(deps.WebhookVerifier, deps.PaymentService, deps.Logger)
	downloadHandler := handlers.NewDownloadHandler(deps.DownloadService)
	libraryHandler := handlers.NewLibraryHandler(deps.EntitlementService)
	authMW := AuthMiddleware(deps.AuthService, deps.Logger)

	r.Get("/healthz", healthHandler.Get)

	// The webhook carries its own authentication in the signature header.
	r.Post("/webhook/payment", webhookHandler.HandlePayment)

	r.With(authMW).Post("/checkout", checkoutHandler.Create)
	r.With(authMW).Get("/download", downloadHandler.Get)
	r.With(authMW).Get("/library", libraryHandler.List)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/refresh", authHandler.Refresh)
		r.With(authMW).Post("/logout", authHandler.Logout)
	})
}
