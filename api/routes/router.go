package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dcastellanos/ordergate-backend/api/controllers"
	"github.com/dcastellanos/ordergate-backend/api/middleware"
	"github.com/dcastellanos/ordergate-backend/internal/deadletter"
	"github.com/dcastellanos/ordergate-backend/internal/orders"
	"github.com/dcastellanos/ordergate-backend/pkg/config"
	"github.com/dcastellanos/ordergate-backend/pkg/enums"
	"github.com/dcastellanos/ordergate-backend/pkg/logger"
)

// Deps carries everything the HTTP surface needs. Readiness pingers may be
// nil when the process does not hold that client.
type Deps struct {
	Config      *config.Config
	Logger      *logger.Logger
	Orders      orders.Service
	DeadLetters deadletter.Service
	Readiness   map[string]controllers.Pinger
	Metrics     prometheus.Gatherer
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Readiness))
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Get("/{orderId}", controllers.OrderDetail(deps.Orders, logg))
		r.Get("/{orderId}/history", controllers.OrderHistory(deps.Orders, logg))
		r.Post("/{orderId}/submit", controllers.SubmitOrder(deps.Orders, logg))
		r.With(middleware.RequireRole(logg, enums.ActorRoleSupplier)).
			Post("/{orderId}/confirm", controllers.ConfirmOrder(deps.Orders, logg))
		r.With(middleware.RequireRole(logg, enums.ActorRoleSupplier)).
			Post("/{orderId}/ship", controllers.ShipOrder(deps.Orders, logg))
		r.Post("/{orderId}/complete", controllers.CompleteOrder(deps.Orders, logg))
		r.With(middleware.RequireRole(logg, enums.ActorRoleAdmin, enums.ActorRoleSales)).
			Post("/{orderId}/cancel", controllers.CancelOrder(deps.Orders, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))

		r.Get("/orders/{orderId}", controllers.OrderDetail(deps.Orders, logg))
		r.Post("/orders/{orderId}/force-transition", controllers.AdminForceTransition(deps.Orders, logg))

		r.Route("/dead-letters", func(r chi.Router) {
			r.Get("/", controllers.ListDeadLetters(deps.DeadLetters, logg))
			r.Get("/{messageId}", controllers.DeadLetterDetail(deps.DeadLetters, logg))
			r.Post("/{messageId}/replay", controllers.ReplayDeadLetter(deps.DeadLetters, logg))
		})
	})

	return r
}
