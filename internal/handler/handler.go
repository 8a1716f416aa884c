// Package handler содержит HTTP-обработчики API сервиса migpoints.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/mmeshcher/migpoints/internal/middleware"
	"github.com/mmeshcher/migpoints/internal/model"
	"github.com/mmeshcher/migpoints/internal/repository"
	"github.com/mmeshcher/migpoints/internal/reward"
	"github.com/mmeshcher/migpoints/internal/service"
	"github.com/mmeshcher/migpoints/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, phone, name, password string) (int64, error)
	AuthenticateUser(ctx context.Context, phone, password string) (int64, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	GetAvailableAds(ctx context.Context, userID int64, format, country string) ([]service.OfferWithCooldown, error)
	TrackImpression(ctx context.Context, userID int64, providerName, adID string) error
	CompleteAd(ctx context.Context, userID int64, providerName, adID string, claimedReward float64, watchTime int) (*reward.Breakdown, error)
	GetBalance(ctx context.Context, userID int64) (*model.Balance, error)
	GetTransactions(ctx context.Context, userID int64, limit int) ([]model.Transaction, error)
	ConvertAirtime(ctx context.Context, userID int64, amountRand int) error
	ConvertData(ctx context.Context, userID int64, points int, bundle string) error
	GrantBonus(ctx context.Context, userID int64, amount float64, description string) error
	EnableProvider(name string)
	DisableProvider(name string)
	ProviderStatus(ctx context.Context) ([]service.ProviderStatusEntry, error)
}

// Handler реализует HTTP-обработчики API сервиса migpoints.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
	Shortfall  string `json:"shortfall,omitempty"`
}

type registerRequest struct {
	Phone    string `json:"phone"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Password == "" || req.Name == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidPhone(req.Phone) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Phone, req.Name, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Phone == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Phone, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// GetAds возвращает доступные рекламные предложения с информацией о кулдауне.
func (h *Handler) GetAds(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "native"
	}
	country := r.URL.Query().Get("country")
	if country == "" {
		country = "ZA"
	}

	offers, err := h.service.GetAvailableAds(r.Context(), userID, format, country)
	if err != nil {
		h.logger.Error("get ads error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(offers) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, offers)
}

type impressionRequest struct {
	Provider string `json:"provider"`
	AdID     string `json:"ad_id"`
}

// TrackImpression фиксирует показ рекламы пользователю.
func (h *Handler) TrackImpression(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req impressionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Provider == "" || req.AdID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.TrackImpression(r.Context(), userID, req.Provider, req.AdID); err != nil {
		if errors.Is(err, service.ErrProviderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("track impression error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type completeRequest struct {
	Provider  string  `json:"provider"`
	AdID      string  `json:"ad_id"`
	Reward    float64 `json:"reward"`
	WatchTime int     `json:"watch_time"`
}

type completeResponse struct {
	Success        bool     `json:"success"`
	TotalReward    float64  `json:"total_reward"`
	Base           float64  `json:"base"`
	Bonus          float64  `json:"bonus"`
	BonusBreakdown []string `json:"bonus_breakdown,omitempty"`
}

// CompleteAd зачисляет награду за досмотренную рекламу.
func (h *Handler) CompleteAd(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Provider == "" || req.AdID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	breakdown, err := h.service.CompleteAd(r.Context(), userID, req.Provider, req.AdID, req.Reward, req.WatchTime)
	if err != nil {
		h.writeCompleteError(w, err, userID, req)
		return
	}

	writeJSON(w, http.StatusOK, completeResponse{
		Success:        true,
		TotalReward:    breakdown.Total,
		Base:           breakdown.Base,
		Bonus:          breakdown.Bonus,
		BonusBreakdown: breakdown.Lines,
	})
}

func (h *Handler) writeCompleteError(w http.ResponseWriter, err error, userID int64, req completeRequest) {
	var cooldownErr *repository.CooldownError
	switch {
	case errors.As(err, &cooldownErr):
		retryAfter := int(math.Ceil(cooldownErr.Remaining.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:      "ad on cooldown, please wait before watching again",
			RetryAfter: retryAfter,
		})
	case errors.Is(err, service.ErrInvalidWatchTime):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "watch time below completion threshold"})
	case errors.Is(err, service.ErrInvalidReward):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "claimed reward out of bounds"})
	case errors.Is(err, service.ErrProviderNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, repository.ErrUserNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	default:
		h.logger.Error("complete ad error",
			zap.Error(err),
			zap.Int64("userID", userID),
			zap.String("provider", req.Provider),
			zap.String("adID", req.AdID),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "settlement failed, please try again"})
	}
}

// GetBalance возвращает баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.logger.Error("get balance error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, balance)
}

// GetTransactions возвращает последние операции текущего пользователя.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	transactions, err := h.service.GetTransactions(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("get transactions error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(transactions) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, transactions)
}

type airtimeRequest struct {
	Amount int `json:"amount"`
}

// ConvertAirtime списывает баллы за эфирное время.
func (h *Handler) ConvertAirtime(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req airtimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.ConvertAirtime(r.Context(), userID, req.Amount)
	if err != nil {
		h.writeRedemptionError(w, err, userID)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type dataRequest struct {
	Points int    `json:"points"`
	Bundle string `json:"bundle"`
}

// ConvertData списывает баллы за пакет трафика.
func (h *Handler) ConvertData(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req dataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Bundle == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.ConvertData(r.Context(), userID, req.Points, req.Bundle)
	if err != nil {
		h.writeRedemptionError(w, err, userID)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) writeRedemptionError(w http.ResponseWriter, err error, userID int64) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount):
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
	case errors.Is(err, repository.ErrInsufficientBalance):
		writeJSON(w, http.StatusPaymentRequired, errorResponse{Error: "insufficient balance"})
	default:
		h.logger.Error("redemption error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// requireAdmin пропускает запрос только для пользователей с правами администратора.
func (h *Handler) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		u, err := h.service.GetUser(r.Context(), userID)
		if err != nil || !u.IsAdmin {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		next(w, r)
	}
}

type bonusRequest struct {
	UserID      int64   `json:"user_id"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
}

// GrantBonus зачисляет административный бонус пользователю.
func (h *Handler) GrantBonus(w http.ResponseWriter, r *http.Request) {
	var req bonusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.GrantBonus(r.Context(), req.UserID, req.Amount, req.Description)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAmount):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, repository.ErrUserNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("grant bonus error", zap.Error(err), zap.Int64("targetUserID", req.UserID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

// ProviderStatus возвращает состояние всех провайдеров со статистикой.
func (h *Handler) ProviderStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.ProviderStatus(r.Context())
	if err != nil {
		h.logger.Error("provider status error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, status)
}
