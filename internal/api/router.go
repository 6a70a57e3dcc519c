/**
 * @description
 * HTTP router setup for the settlement service using go-chi/chi. Route groups:
 * public reads and wallet/checkout callbacks, optional-auth donation endpoints,
 * authenticated owner endpoints, and the admin review queue.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: routing and standard middleware.
 * - github.com/go-chi/cors: browser CORS policy.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configure the cross-cutting middleware.
type RouterOptions struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter creates a new Chi router and registers the settlement-service routes.
func NewRouter(h *Handlers, auth *Authenticator, admins AdminChecker, opts RouterOptions) *chi.Mux {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"https://*", "http://*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Retry-After", "X-Payment-URI"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// The feed holds its connection open, so it sits outside the request timeout.
	r.Get("/campaigns/{id}/feed", h.CampaignFeedHandler)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(opts.RequestTimeout))

		r.Get("/assets", h.ListAssetsHandler)
		r.Get("/campaigns/{id}", h.GetCampaignHandler)
		r.Get("/campaigns/{id}/donations", h.ListCampaignDonationsHandler)
		r.Get("/campaigns/{id}/donate/qr", h.DonationQRHandler)
		r.Post("/checkout/webhook", h.CheckoutWebhookHandler)
		r.Post("/checkout/confirm", h.ConfirmCheckoutHandler)

		r.Group(func(r chi.Router) {
			r.Use(auth.OptionalAuth)
			r.Post("/donations/crypto", h.SubmitCryptoDonationHandler)
			r.Post("/checkout/sessions", h.CreateCheckoutSessionHandler)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth)
			r.Post("/campaigns", h.CreateCampaignHandler)
			r.Get("/me/donations", h.ListMyDonationsHandler)
			r.Get("/me/withdrawals", h.ListMyWithdrawalsHandler)
			r.Post("/campaigns/{id}/withdrawals", h.RequestWithdrawalHandler)
			r.Post("/campaigns/{id}/crypto-withdrawals", h.RequestCryptoWithdrawalHandler)
			r.Get("/campaigns/{id}/withdrawals", h.ListCampaignWithdrawalsHandler)

			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireAdmin(admins))
				r.Get("/withdrawals", h.ListAllWithdrawalsHandler)
				r.Post("/withdrawals/{id}/resolve", h.ResolveWithdrawalHandler)
				r.Post("/crypto-withdrawals/{id}/payout", h.PayoutCryptoWithdrawalHandler)
			})
		})
	})

	return r
}
