package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	chiMiddleware "github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/kbekoe/databroker/internal/blacklist"
	"github.com/kbekoe/databroker/internal/config"
	"github.com/kbekoe/databroker/internal/deps"
	"github.com/kbekoe/databroker/internal/errs"
	"github.com/kbekoe/databroker/internal/fulfill"
	"github.com/kbekoe/databroker/internal/ledger"
	"github.com/kbekoe/databroker/internal/middleware"
	"github.com/kbekoe/databroker/internal/model"
	"github.com/kbekoe/databroker/internal/notify"
	"github.com/kbekoe/databroker/internal/provider"
	"github.com/kbekoe/databroker/internal/ratelimit"
	"github.com/kbekoe/databroker/internal/reconcile"
)

const (
	orphanSweepInterval = 10 * time.Minute
	routeSweepInterval  = 5 * time.Minute
	routeSweepBatch     = 100
)

// Storage covers the queries handlers issue directly. Everything else goes
// through the domain components.
type Storage interface {
	BlacklistPage(ctx context.Context, search string, offset, limit int) ([]model.BlacklistEntry, int64, error)
	GetBalance(ctx context.Context, shopID int64) (model.AvailableBalance, error)
	SetSetting(ctx context.Context, key, value string) error
}

type Server struct {
	storage    Storage
	router     *fulfill.Router
	reconciler *reconcile.Reconciler
	gate       *blacklist.Gate
	engine     *ledger.Engine
	sender     *notify.Sender
	selector   *provider.Selector
	limiter    *ratelimit.Limiter
	config     *config.Config
	deps       *deps.Deps
}

func NewServer(storage Storage, router *fulfill.Router, reconciler *reconcile.Reconciler,
	gate *blacklist.Gate, engine *ledger.Engine, sender *notify.Sender,
	selector *provider.Selector, limiter *ratelimit.Limiter,
	config *config.Config, deps *deps.Deps) *Server {
	return &Server{
		storage:    storage,
		router:     router,
		reconciler: reconciler,
		gate:       gate,
		engine:     engine,
		sender:     sender,
		selector:   selector,
		limiter:    limiter,
		config:     config,
		deps:       deps,
	}
}

func (srv *Server) buildRouter() http.Handler {
	router := chi.NewRouter()
	router.Use(chiMiddleware.StripSlashes)
	router.Use(middleware.LogMiddleware(srv.deps.Logger))
	router.Use(middleware.DecompressMiddleware)
	router.Use(middleware.CompressMiddleware(srv.deps.Logger))

	router.Post("/api/payments/callback", srv.PaymentCallbackHandler)
	router.Post("/api/webhooks/{provider}", srv.WebhookHandler)

	router.Group(func(r chi.Router) {
		r.Use(middleware.CronAuthMiddleware(srv.config.CronSecretHash))

		r.Get("/api/cron/poll", srv.PollHandler)
		r.Get("/api/cron/route", srv.RouteSweepHandler)
		r.Get("/api/cron/blacklist/sweep", srv.BlacklistSweepHandler)
	})

	router.Group(func(r chi.Router) {
		r.Use(middleware.AdminAuthMiddleware(srv.deps.TokenManager))

		r.Get("/api/admin/orders/manual", srv.ManualOrdersHandler)
		r.Post("/api/admin/orders/{id}/fulfill", srv.ManualFulfillHandler)

		r.Get("/api/admin/blacklist", srv.BlacklistListHandler)
		r.Post("/api/admin/blacklist", srv.BlacklistAddHandler)
		r.Delete("/api/admin/blacklist/{phone}", srv.BlacklistRemoveHandler)

		r.Get("/api/admin/balances/resync", srv.ResyncBalancesHandler)
		r.Get("/api/admin/shops/{id}/balance", srv.ShopBalanceHandler)
		r.Post("/api/admin/withdrawals/{id}/approve", srv.ApproveWithdrawalHandler)
		r.Post("/api/admin/withdrawals/{id}/reject", srv.RejectWithdrawalHandler)

		r.Get("/api/admin/providers/balance", srv.ProviderBalancesHandler)
		r.Post("/api/admin/providers/active", srv.SetActiveProviderHandler)
		r.Post("/api/admin/settings/auto-fulfill", srv.SetAutoFulfillHandler)

		r.Post("/api/admin/broadcasts/{id}/retry", srv.RetryBroadcastHandler)
	})

	return router
}

func (srv *Server) Run(ctx context.Context) error {
	router := srv.buildRouter()

	server := &http.Server{
		Addr:    srv.config.RunAddress,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srv.deps.Logger.Fatalf("server error: %v", err)
		}
	}()

	go srv.reconciler.Run(ctx)
	go srv.limiter.Run(ctx)
	go srv.orphanSweepLoop(ctx)
	go srv.routeSweepLoop(ctx)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := server.Shutdown(shutdownCtx)

	srv.sender.Wait()
	return err
}

func (srv *Server) orphanSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(orphanSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fixed, err := srv.gate.FixOrphaned(ctx)
			if err != nil {
				srv.deps.Logger.Errorf("orphan sweep: %v", err)
				continue
			}
			if fixed > 0 {
				srv.deps.Logger.Infof("orphan sweep reset %d orders", fixed)
			}
		}
	}
}

// routeSweepLoop picks up paid orders that fell out of routing, either
// released from the blacklist or stranded by a transport error, and runs
// them through the router again.
func (srv *Server) routeSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(routeSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := srv.router.SweepUnsubmitted(ctx, routeSweepBatch)
			if err != nil {
				srv.deps.Logger.Errorf("route sweep: %v", err)
				continue
			}
			if summary.Checked > 0 {
				srv.deps.Logger.Infow("route sweep",
					"checked", summary.Checked,
					"submitted", summary.Submitted,
					"queued", summary.Queued,
					"failed", summary.Failed)
			}
		}
	}
}

// splitNumbers breaks a pasted blob of phone numbers on whitespace, commas
// and semicolons. Operators paste these straight from spreadsheets.
func splitNumbers(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == '\n' || r == '\r' || r == '\t' || r == ' ' || r == ',' || r == ';'
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (srv *Server) PaymentCallbackHandler(w http.ResponseWriter, r *http.Request) {
	var req model.PaymentCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.OrderID == 0 || req.Reference == "" {
		http.Error(w, "order id and reference required", http.StatusBadRequest)
		return
	}

	outcome, err := srv.router.HandlePaid(r.Context(), req.OrderID)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrOrderNotFound):
			http.Error(w, "order not found", http.StatusNotFound)
		case fulfill.IsRejection(err):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			srv.deps.Logger.Errorf("payment callback for order %d: %v", req.OrderID, err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

func (srv *Server) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if err := srv.reconciler.HandleWebhook(r.Context(), providerName, body); err != nil {
		srv.deps.Logger.Errorf("webhook from %s: %v", providerName, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (srv *Server) PollHandler(w http.ResponseWriter, r *http.Request) {
	summary := srv.reconciler.PollBatch(r.Context())
	writeJSON(w, http.StatusOK, summary)
}

func (srv *Server) RouteSweepHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := srv.router.SweepUnsubmitted(r.Context(), routeSweepBatch)
	if err != nil {
		srv.deps.Logger.Errorf("route sweep: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (srv *Server) BlacklistSweepHandler(w http.ResponseWriter, r *http.Request) {
	fixed, err := srv.gate.FixOrphaned(r.Context())
	if err != nil {
		srv.deps.Logger.Errorf("blacklist sweep: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"fixed": fixed})
}

func (srv *Server) ManualOrdersHandler(w http.ResponseWriter, r *http.Request) {
	orders, err := srv.router.AwaitingManual(r.Context())
	if err != nil {
		http.Error(w, "failed to list orders", http.StatusInternalServerError)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (srv *Server) ManualFulfillHandler(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	outcome, err := srv.router.ManualFulfill(r.Context(), orderID)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrOrderNotFound):
			http.Error(w, "order not found", http.StatusNotFound)
		case fulfill.IsRejection(err):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, errs.ErrNoActiveProvider):
			http.Error(w, "no active provider", http.StatusServiceUnavailable)
		default:
			srv.deps.Logger.Errorf("manual fulfill order %d: %v", orderID, err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

func (srv *Server) BlacklistListHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	search := query.Get("search")

	page := 1
	if v, err := strconv.Atoi(query.Get("page")); err == nil && v > 0 {
		page = v
	}
	limit := 50
	if v, err := strconv.Atoi(query.Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}

	entries, total, err := srv.storage.BlacklistPage(r.Context(), search, (page-1)*limit, limit)
	if err != nil {
		http.Error(w, "failed to list blacklist", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   total,
		"page":    page,
	})
}

func (srv *Server) BlacklistAddHandler(w http.ResponseWriter, r *http.Request) {
	var req model.BlacklistAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	phones := splitNumbers(req.Numbers)
	if len(phones) == 0 {
		http.Error(w, "no phone numbers given", http.StatusBadRequest)
		return
	}

	added, err := srv.gate.Add(r.Context(), phones, req.Reason)
	if err != nil {
		srv.deps.Logger.Errorf("add blacklist entries: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"added": added})
}

func (srv *Server) BlacklistRemoveHandler(w http.ResponseWriter, r *http.Request) {
	phone, err := url.PathUnescape(chi.URLParam(r, "phone"))
	if err != nil || phone == "" {
		http.Error(w, "invalid phone", http.StatusBadRequest)
		return
	}

	if err := srv.gate.Remove(r.Context(), phone); err != nil {
		srv.deps.Logger.Errorf("remove blacklist entry %s: %v", phone, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (srv *Server) ResyncBalancesHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := srv.engine.ResyncAll(r.Context())
	if err != nil {
		http.Error(w, "resync failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (srv *Server) ShopBalanceHandler(w http.ResponseWriter, r *http.Request) {
	shopID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid shop id", http.StatusBadRequest)
		return
	}

	balance, err := srv.storage.GetBalance(r.Context(), shopID)
	if err != nil {
		http.Error(w, "failed to get balance", http.StatusInternalServerError)
		return
	}
	parentEarnings, err := srv.engine.ParentEarnings(r.Context(), shopID)
	if err != nil {
		http.Error(w, "failed to get parent earnings", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"balance":         balance,
		"parent_earnings": parentEarnings,
	})
}

func (srv *Server) ApproveWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	srv.handleWithdrawal(w, r, srv.engine.ApproveWithdrawal)
}

func (srv *Server) RejectWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	srv.handleWithdrawal(w, r, srv.engine.RejectWithdrawal)
}

func (srv *Server) handleWithdrawal(w http.ResponseWriter, r *http.Request, apply func(context.Context, int64) error) {
	withdrawalID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid withdrawal id", http.StatusBadRequest)
		return
	}

	if err := apply(r.Context(), withdrawalID); err != nil {
		switch {
		case errors.Is(err, errs.ErrWithdrawalNotFound):
			http.Error(w, "withdrawal not found", http.StatusNotFound)
		case errors.Is(err, errs.ErrWithdrawalNotPending):
			http.Error(w, "withdrawal already processed", http.StatusConflict)
		default:
			srv.deps.Logger.Errorf("process withdrawal %d: %v", withdrawalID, err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (srv *Server) ProviderBalancesHandler(w http.ResponseWriter, r *http.Request) {
	reports := srv.selector.AllBalances(r.Context())
	writeJSON(w, http.StatusOK, reports)
}

func (srv *Server) SetActiveProviderHandler(w http.ResponseWriter, r *http.Request) {
	var req model.ActiveProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if !srv.selector.IsMTNClass(req.Name) {
		http.Error(w, "unknown provider", http.StatusUnprocessableEntity)
		return
	}

	if err := srv.storage.SetSetting(r.Context(), provider.ActiveProviderKey, req.Name); err != nil {
		http.Error(w, "failed to persist", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (srv *Server) SetAutoFulfillHandler(w http.ResponseWriter, r *http.Request) {
	var req model.AutoFulfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	value := "on"
	if !req.Enabled {
		value = "off"
	}
	if err := srv.storage.SetSetting(r.Context(), fulfill.AutoFulfillKey, value); err != nil {
		http.Error(w, "failed to persist", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (srv *Server) RetryBroadcastHandler(w http.ResponseWriter, r *http.Request) {
	broadcastID := chi.URLParam(r, "id")
	if broadcastID == "" {
		http.Error(w, "invalid broadcast id", http.StatusBadRequest)
		return
	}

	summary, err := srv.sender.RetryFailedBroadcast(r.Context(), broadcastID)
	if err != nil {
		srv.deps.Logger.Errorf("retry broadcast %s: %v", broadcastID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
