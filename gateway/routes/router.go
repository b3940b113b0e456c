package routes

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lendfarm/core"
	"lendfarm/gateway/middleware"
	"lendfarm/native/flywheel"
	"lendfarm/storage/eventlog"
)

// Executor is the slice of core.Executor the handlers need.
type Executor interface {
	Apply(ctx context.Context, name string, fn func(*core.Engines) error) error
	View(fn func(*core.Engines) error) error
	Height() uint64
	Config() flywheel.Config
}

// EventQuerier reads the persisted event history.
type EventQuerier interface {
	Query(ctx context.Context, filter eventlog.Filter) ([]eventlog.Entry, error)
}

type Config struct {
	Executor      Executor
	Events        EventQuerier
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Pauses        PauseControl
	Logger        *slog.Logger
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Executor == nil {
		return nil, errors.New("routes: executor required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORS))

	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware("root"))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "ok",
			"height": cfg.Executor.Height(),
		})
	})

	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	auth := func(next http.Handler) http.Handler { return next }
	if cfg.Authenticator != nil {
		auth = cfg.Authenticator.Middleware("claim")
	}
	lendingAuth := func(next http.Handler) http.Handler { return next }
	if cfg.Authenticator != nil {
		lendingAuth = cfg.Authenticator.Middleware("lend")
	}
	adminAuth := func(next http.Handler) http.Handler { return next }
	if cfg.Authenticator != nil {
		adminAuth = cfg.Authenticator.Middleware("admin")
	}
	adm := &adminRoutes{exec: cfg.Executor, pauses: cfg.Pauses, logger: logger.With("route", "admin")}

	fr := &flywheelRoutes{exec: cfg.Executor, events: cfg.Events, logger: logger.With("route", "flywheel")}
	r.Route("/v1/flywheel", func(sr chi.Router) {
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware("flywheel"))
		}
		if obs != nil {
			sr.Use(obs.Middleware("flywheel"))
		}
		fr.mount(sr, auth)
		sr.Route("/admin", func(ar chi.Router) {
			ar.Use(adminAuth)
			ar.Post("/weights", adm.setWeights)
			ar.Post("/speeds", adm.setSpeeds)
			ar.Post("/farms", adm.setFarm)
			ar.Post("/native-speed", adm.setNativeSpeed)
			ar.Post("/grant", adm.grant)
			ar.Post("/delegates", adm.setDelegate)
			ar.Post("/pauses", adm.setPause)
		})
	})

	lr := &lendingRoutes{exec: cfg.Executor, logger: logger.With("route", "lending")}
	r.Route("/v1/lending", func(sr chi.Router) {
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware("lending"))
		}
		if obs != nil {
			sr.Use(obs.Middleware("lending"))
		}
		lr.mount(sr, lendingAuth)
		sr.Group(func(ar chi.Router) {
			ar.Use(adminAuth)
			ar.Post("/pools", adm.createPool)
			ar.Post("/markets", adm.listMarket)
			ar.Post("/upgrade", adm.upgrade)
			ar.Post("/interest", adm.accrueInterest)
		})
	})

	return r, nil
}
