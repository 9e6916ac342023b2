package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/adscout/adscout/config"
	"github.com/adscout/adscout/lib/cleanup"
	"github.com/adscout/adscout/lib/creds"
	"github.com/adscout/adscout/lib/keywords"
	"github.com/adscout/adscout/lib/listings"
	"github.com/adscout/adscout/lib/models"
	"github.com/adscout/adscout/lib/scheduler"
)

func NewAPI(
	lc fx.Lifecycle,
	cfg *config.Config,
	log *zap.Logger,
	sched *scheduler.Scheduler,
	registry *keywords.Registry,
	store *listings.Store,
	sweeper *cleanup.Manager,
	credStore *creds.Store,
) *http.Server {
	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	srv := &http.Server{Addr: addr, Handler: router(cfg, log, sched, registry, store, sweeper, credStore)}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go srv.ListenAndServe()
			return nil
		},
		OnStop: srv.Shutdown,
	})

	return srv
}

func router(
	cfg *config.Config,
	log *zap.Logger,
	sched *scheduler.Scheduler,
	registry *keywords.Registry,
	store *listings.Store,
	sweeper *cleanup.Manager,
	credStore *creds.Store,
) http.Handler {
	ctrl := &controller{log, sched, registry, store, sweeper, credStore}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		if auth := cfg.GetCreds(); len(auth) > 0 {
			r.Use(middleware.BasicAuth("adscout", auth))
		} else {
			log.Sugar().Info("Auth is disabled since no credentials are defined")
		}

		r.Route("/scheduler", func(r chi.Router) {
			r.Get("/", ctrl.schedulerStatus)
			r.Post("/start", ctrl.startScheduler)
			r.Post("/stop", ctrl.stopScheduler)
			r.Put("/interval", ctrl.setInterval)
			r.Post("/run", ctrl.runOnce)
		})

		r.Route("/keywords", func(r chi.Router) {
			r.Get("/", ctrl.listKeywords)
			r.Post("/", ctrl.registerKeyword)
			r.Get("/capacity", ctrl.keywordCapacity)
			r.Delete("/{term}", ctrl.deactivateKeyword)
		})

		r.Route("/listings", func(r chi.Router) {
			r.Get("/", ctrl.listListings)
		})

		r.Route("/cleanup", func(r chi.Router) {
			r.Get("/stats", ctrl.cleanupStats)
			r.Post("/sweep", ctrl.sweep)
		})

		r.Route("/credentials", func(r chi.Router) {
			r.Get("/", ctrl.listCredentials)
			r.Put("/{service}", ctrl.putCredentials)
			r.Delete("/{service}", ctrl.deleteCredentials)
		})
	})

	return r
}

type controller struct {
	log       *zap.Logger
	sched     *scheduler.Scheduler
	registry  *keywords.Registry
	store     *listings.Store
	sweeper   *cleanup.Manager
	credStore *creds.Store
}

func (ctrl *controller) reject(w http.ResponseWriter, status int, err error) {
	if err != nil {
		http.Error(w, err.Error(), status)
	} else {
		w.WriteHeader(status)
	}
}

// rejectMapped translates the domain's sentinel rejections into statuses;
// anything unrecognized is a 500.
func (ctrl *controller) rejectMapped(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, keywords.ErrAtCapacity),
		errors.Is(err, scheduler.ErrAlreadyRunning),
		errors.Is(err, scheduler.ErrAlreadyStopped),
		errors.Is(err, keywords.ErrAlreadyActive):
		ctrl.reject(w, http.StatusConflict, err)
	case errors.Is(err, keywords.ErrNotFound):
		ctrl.reject(w, http.StatusNotFound, err)
	case errors.Is(err, keywords.ErrEmptyTerm),
		errors.Is(err, keywords.ErrInvalidAffinity),
		errors.Is(err, scheduler.ErrInvalidInterval),
		errors.Is(err, scheduler.ErrUnknownSource),
		errors.Is(err, creds.ErrNoKey):
		ctrl.reject(w, http.StatusBadRequest, err)
	default:
		ctrl.reject(w, http.StatusInternalServerError, err)
		ctrl.log.Sugar().Errorw("Request failed", "err", err)
	}
}

func (ctrl *controller) resolve(w http.ResponseWriter, status int, body any) {
	if b, err := json.Marshal(body); err != nil {
		ctrl.reject(w, http.StatusInternalServerError, err)
		ctrl.log.Sugar().Errorw("Request failed", "err", err)
	} else {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(b)
	}
}

func (ctrl *controller) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	st, err := ctrl.sched.GetStatus(r.Context())
	if err != nil {
		ctrl.rejectMapped(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, st)
}

func (ctrl *controller) startScheduler(w http.ResponseWriter, r *http.Request) {
	if err := ctrl.sched.Start(); err != nil {
		ctrl.rejectMapped(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"started": true})
}

func (ctrl *controller) stopScheduler(w http.ResponseWriter, r *http.Request) {
	if err := ctrl.sched.Stop(); err != nil {
		ctrl.rejectMapped(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"stopped": true})
}

func (ctrl *controller) setInterval(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Minutes int `json:"minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctrl.reject(w, http.StatusBadRequest, err)
		return
	}

	if err := ctrl.sched.SetInterval(req.Minutes); err != nil {
		ctrl.rejectMapped(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"interval_minutes": req.Minutes})
}

func (ctrl *controller) runOnce(w http.ResponseWriter, r *http.Request) {
	source := r.FormValue("source")
	if source == "" {
		source = "all"
	}

	if err := ctrl.sched.RunOnce(r.Context(), source); err != nil {
		ctrl.rejectMapped(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"ran": source})
}

func (ctrl *controller) listKeywords(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") == ""
	kws, err := ctrl.registry.List(r.Context(), r.URL.Query().Get("affinity"), activeOnly)
	if err != nil {
		ctrl.rejectMapped(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, FromMany[KeywordView](kws))
}

func (ctrl *controller) registerKeyword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Term     string `json:"term"`
		Affinity string `json:"affinity"`
		Priority int    `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctrl.reject(w, http.StatusBadRequest, err)
		return
	}
	if req.Affinity == "" {
		req.Affinity = "both"
	}
	if req.Priority == 0 {
		req.Priority = 1
	}

	if err := ctrl.registry.Register(r.Context(), req.Term, req.Affinity, req.Priority); err != nil {
		ctrl.rejectMapped(w, err)
		return
	}
	ctrl.resolve(w, http.StatusCreated, map[string]any{"term": keywords.Normalize(req.Term)})
}

func (ctrl *controller) deactivateKeyword(w http.ResponseWriter, r *http.Request) {
	if err := ctrl.registry.Deactivate(r.Context(), chi.URLParam(r, "term")); err != nil {
		ctrl.rejectMapped(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"deactivated": true})
}

func (ctrl *controller) keywordCapacity(w http.ResponseWriter, r *http.Request) {
	status, err := ctrl.registry.Capacity(r.Context())
	if err != nil {
		ctrl.rejectMapped(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, status)
}

func (ctrl *controller) listListings(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			ctrl.reject(w, http.StatusBadRequest, fmt.Errorf("invalid limit: %s", raw))
			return
		}
		limit = parsed
	}

	var (
		rows models.Listings
		err  error
	)
	if r.URL.Query().Get("undelivered") != "" {
		rows, err = ctrl.store.Undelivered(r.Context(), r.URL.Query().Get("source"), limit)
	} else {
		rows, err = ctrl.store.Recent(r.Context(), r.URL.Query().Get("source"), limit)
	}
	if err != nil {
		ctrl.rejectMapped(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, FromMany[ListingView](rows))
}

func (ctrl *controller) cleanupStats(w http.ResponseWriter, r *http.Request) {
	stats, err := ctrl.sweeper.GetStats(r.Context())
	if err != nil {
		ctrl.rejectMapped(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, stats)
}

func (ctrl *controller) sweep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Basis string `json:"basis"`
		Days  int    `json:"days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctrl.reject(w, http.StatusBadRequest, err)
		return
	}

	var res *listings.ExpireResult
	var err error
	switch req.Basis {
	case "retention":
		res, err = ctrl.sweeper.SweepOld(r.Context(), req.Days)
	case "", "unseen":
		res, err = ctrl.sweeper.SweepUnseen(r.Context(), req.Days)
	default:
		ctrl.reject(w, http.StatusBadRequest, fmt.Errorf("unknown sweep basis: %s", req.Basis))
		return
	}
	if err != nil {
		ctrl.rejectMapped(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, res)
}

func (ctrl *controller) listCredentials(w http.ResponseWriter, r *http.Request) {
	infos, err := ctrl.credStore.List(r.Context())
	if err != nil {
		ctrl.rejectMapped(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, infos)
}

func (ctrl *controller) putCredentials(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Secret   string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctrl.reject(w, http.StatusBadRequest, err)
		return
	}
	if req.Username == "" || req.Secret == "" {
		ctrl.reject(w, http.StatusBadRequest, errors.New("username and secret are required"))
		return
	}

	if err := ctrl.credStore.Put(r.Context(), chi.URLParam(r, "service"), req.Username, req.Secret); err != nil {
		ctrl.rejectMapped(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"stored": true})
}

func (ctrl *controller) deleteCredentials(w http.ResponseWriter, r *http.Request) {
	if err := ctrl.credStore.Delete(r.Context(), chi.URLParam(r, "service")); err != nil {
		ctrl.rejectMapped(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"deleted": true})
}
