package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nightreel/reelforge/internal/billing"
	"github.com/nightreel/reelforge/internal/catalog"
	"github.com/nightreel/reelforge/internal/models"
	"github.com/nightreel/reelforge/internal/service"
)

type Server struct {
	addr     string
	username string
	password string
	log      *slog.Logger
	users    *service.UserService
	payments *service.PaymentService
	engine   *billing.Engine
	catalog  *catalog.Catalog
	bot      *tgbotapi.BotAPI
	router   *chi.Mux
}

func NewServer(addr, username, password string, log *slog.Logger, users *service.UserService, payments *service.PaymentService, engine *billing.Engine, cat *catalog.Catalog, bot *tgbotapi.BotAPI) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:     addr,
		username: username,
		password: password,
		log:      log,
		users:    users,
		payments: payments,
		engine:   engine,
		catalog:  cat,
		bot:      bot,
		router:   r,
	}
	r.Post("/webhook/gateway", s.handleGatewayWebhook)
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Post("/broadcast", s.handleBroadcast)
		protected.Get("/models", s.handleListModels)
		protected.Route("/users/{id}", func(r chi.Router) {
			r.Get("/balance", s.handleUserBalance)
			r.Get("/transactions", s.handleUserTransactions)
			r.Get("/reconcile", s.handleUserReconcile)
			r.Post("/credits", s.handleGrantCredits)
		})
	})
	return s
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("admin shutdown error", "err", err)
		}
	}()

	s.log.Info("admin server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin listen: %w", err)
	}
	return nil
}

// handleGatewayWebhook is the public endpoint for payment gateway status
// callbacks. Successful payments are forwarded into the ledger pipeline.
func (s *Server) handleGatewayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	if err := s.payments.HandleGatewayWebhook(r.Context(), body); err != nil {
		s.log.Error("gateway webhook", "err", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	ids, err := s.users.ListTelegramIDs(ctx)
	if err != nil {
		s.log.Error("list telegram ids", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	count := 0
	for _, id := range ids {
		msg := tgbotapi.NewMessage(id, req.Message)
		if _, err := s.bot.Send(msg); err != nil {
			s.log.Error("send broadcast", "user", id, "err", err)
			continue
		}
		count++
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"sent":  count,
		"total": len(ids),
	})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	type modelView struct {
		Key           string `json:"key"`
		Title         string `json:"title"`
		Mode          string `json:"mode"`
		Price         int64  `json:"price"`
		SupportsMorph bool   `json:"supports_morph"`
	}
	configs := s.catalog.List()
	out := make([]modelView, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, modelView{
			Key:           cfg.Key,
			Title:         cfg.Title,
			Mode:          string(cfg.Mode),
			Price:         cfg.Price,
			SupportsMorph: cfg.SupportsMorph,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUserBalance(w http.ResponseWriter, r *http.Request) {
	user, ok := s.lookupUser(w, r)
	if !ok {
		return
	}
	balance, err := s.engine.GetBalance(r.Context(), user.ID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     user.ID,
		"telegram_id": user.TelegramID,
		"balance":     balance,
	})
}

func (s *Server) handleUserTransactions(w http.ResponseWriter, r *http.Request) {
	user, ok := s.lookupUser(w, r)
	if !ok {
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}
	txs, err := s.users.RecentTransactions(r.Context(), user.ID, limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txs)
}

// handleUserReconcile recomputes the user's balance from the transaction
// log and reports any drift against the cached column.
func (s *Server) handleUserReconcile(w http.ResponseWriter, r *http.Request) {
	user, ok := s.lookupUser(w, r)
	if !ok {
		return
	}
	cached, derived, err := s.engine.Reconcile(r.Context(), user.ID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user_id": user.ID,
		"cached":  cached,
		"derived": derived,
		"drift":   cached - derived,
	})
}

type grantCreditsRequest struct {
	Amount    int64  `json:"amount"`
	InvoiceID string `json:"invoice_id"`
}

// handleGrantCredits issues a bonus credit to the user. The caller supplies
// the invoice id so a retried request cannot double-credit.
func (s *Server) handleGrantCredits(w http.ResponseWriter, r *http.Request) {
	user, ok := s.lookupUser(w, r)
	if !ok {
		return
	}
	var req grantCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 || strings.TrimSpace(req.InvoiceID) == "" {
		http.Error(w, "amount and invoice_id required", http.StatusBadRequest)
		return
	}
	tx, err := s.engine.Credit(r.Context(), billing.CreditParams{
		UserID:      user.ID,
		BotName:     user.BotName,
		InvoiceID:   "admin-" + req.InvoiceID,
		Amount:      req.Amount,
		Category:    models.CategoryBonus,
		ServiceType: models.ServiceTopUp,
	})
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) lookupUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return nil, false
	}
	user, err := s.users.FindByID(r.Context(), id)
	if err != nil {
		s.internalError(w, err)
		return nil, false
	}
	if user == nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return nil, false
	}
	return user, true
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="reelforge"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("admin internal error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(value, 10, 64)
}
