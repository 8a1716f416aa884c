// Package service реализует бизнес-логику сервиса migpoints.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mmeshcher/migpoints/internal/cooldown"
	"github.com/mmeshcher/migpoints/internal/model"
	"github.com/mmeshcher/migpoints/internal/provider"
	"github.com/mmeshcher/migpoints/internal/repository"
	"github.com/mmeshcher/migpoints/internal/reward"
)

// ErrInvalidCredentials возвращается при неверной паре телефон/пароль.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrProviderNotFound возвращается, если указанный провайдер не зарегистрирован.
	ErrProviderNotFound = errors.New("provider not found")
	// ErrInvalidWatchTime возвращается, если заявленное время просмотра меньше
	// минимальной доли ожидаемой длительности.
	ErrInvalidWatchTime = errors.New("watch time below completion threshold")
	// ErrInvalidReward возвращается, если заявленная награда выходит за
	// допустимые пределы.
	ErrInvalidReward = errors.New("claimed reward out of bounds")
	// ErrInvalidAmount возвращается при неположительной сумме операции.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, phone, name string, passwordHash []byte) (int64, error)
	GetUserByPhone(ctx context.Context, phone string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	Settle(ctx context.Context, userID int64, provider, adID string, amountTenths int64, description string, window time.Duration) error
	CreateRedemption(ctx context.Context, userID int64, amountTenths int64, description string) error
	CreateBonus(ctx context.Context, userID int64, amountTenths int64, description string) error
	GetBalance(ctx context.Context, userID int64) (int64, int64, int64, error)
	GetTransactionsByUser(ctx context.Context, userID int64, limit int) ([]model.Transaction, error)
	EarnDays(ctx context.Context, userID int64, from time.Time) (map[string]bool, error)
	GetProviderStats(ctx context.Context) ([]model.ProviderStats, error)
	PurgeWatchEvents(ctx context.Context, olderThan time.Time) (int64, error)
}

// Options содержит параметры политики зачисления.
type Options struct {
	// MinWatchRatio — минимальная доля ожидаемой длительности для зачисления.
	MinWatchRatio float64
	// MaxAdReward — потолок награды за один просмотр.
	MaxAdReward float64
	// WatchRetention — горизонт хранения истории просмотров.
	WatchRetention time.Duration
}

// Service содержит бизнес-логику сервиса migpoints.
type Service struct {
	repo     Repository
	registry *provider.Registry
	selector *provider.Selector
	guard    *cooldown.Guard
	opts     Options
	now      func() time.Time
}

// NewService создаёт сервис с указанными зависимостями.
func NewService(repo Repository, registry *provider.Registry, selector *provider.Selector, guard *cooldown.Guard, opts Options) *Service {
	if opts.MinWatchRatio <= 0 {
		opts.MinWatchRatio = 0.9
	}
	if opts.MaxAdReward <= 0 {
		opts.MaxAdReward = 10
	}
	if opts.WatchRetention <= 0 {
		opts.WatchRetention = 30 * 24 * time.Hour
	}

	return &Service{
		repo:     repo,
		registry: registry,
		selector: selector,
		guard:    guard,
		opts:     opts,
		now:      time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, phone, name, password string) (int64, error) {
	hashed := hashPassword(phone, password)
	id, err := s.repo.CreateUser(ctx, phone, name, hashed)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет телефон и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, phone, password string) (int64, error) {
	u, err := s.repo.GetUserByPhone(ctx, phone)
	if err != nil {
		return 0, err
	}

	hashed := hashPassword(phone, password)
	if subtle.ConstantTimeCompare(hashed, u.PasswordHash) != 1 {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

func hashPassword(phone, password string) []byte {
	sum := sha256.Sum256([]byte(phone + ":" + password))
	return sum[:]
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// OfferWithCooldown — рекламное предложение c информацией о кулдауне для дашборда.
type OfferWithCooldown struct {
	model.AdOffer
	OnCooldown bool `json:"on_cooldown"`
	RetryAfter int  `json:"retry_after_seconds,omitempty"`
}

// GetAvailableAds возвращает кандидатов от всех включённых провайдеров с
// отметкой о кулдауне каждого предложения для текущего пользователя.
func (s *Service) GetAvailableAds(ctx context.Context, userID int64, format, country string) ([]OfferWithCooldown, error) {
	offers := s.selector.Offers(ctx, format, country)

	res := make([]OfferWithCooldown, 0, len(offers))
	for _, offer := range offers {
		onCooldown, remaining, err := s.guard.Check(ctx, userID, offer.Provider, offer.AdID)
		if err != nil {
			return nil, err
		}

		res = append(res, OfferWithCooldown{
			AdOffer:    offer,
			OnCooldown: onCooldown,
			RetryAfter: int(math.Ceil(remaining.Seconds())),
		})
	}

	return res, nil
}

// SelectAd возвращает одно лучшее доступное предложение либо nil.
func (s *Service) SelectAd(ctx context.Context, format, country string) *model.AdOffer {
	return s.selector.Select(ctx, format, country)
}

// TrackImpression сообщает провайдеру о показе рекламы.
func (s *Service) TrackImpression(ctx context.Context, userID int64, providerName, adID string) error {
	p, ok := s.registry.Get(providerName)
	if !ok {
		return ErrProviderNotFound
	}

	p.TrackImpression(ctx, adID, userID)
	return nil
}

// CompleteAd зачисляет награду за досмотренную рекламу.
//
// Порядок проверок: провайдер существует; кулдаун не активен (повторная
// проверка выполняется ещё раз внутри транзакции зачисления); заявленное
// время просмотра достигает порога; заявленная награда в допустимых
// пределах. Затем рассчитываются бонусы и выполняется атомарное зачисление.
func (s *Service) CompleteAd(ctx context.Context, userID int64, providerName, adID string, claimedReward float64, watchTime int) (*reward.Breakdown, error) {
	p, ok := s.registry.Get(providerName)
	if !ok {
		return nil, ErrProviderNotFound
	}

	onCooldown, remaining, err := s.guard.Check(ctx, userID, providerName, adID)
	if err != nil {
		return nil, err
	}
	if onCooldown {
		return nil, &repository.CooldownError{Remaining: remaining}
	}

	// Фолбэк-провайдер показывает заглушки, для него порог досмотра не
	// применяется. Для остальных требуется MinWatchRatio от ожидаемой
	// длительности.
	if providerName != s.registry.Fallback() {
		expected, ok := p.ExpectedDuration(adID)
		if !ok {
			if record, found := s.registry.Record(providerName); found {
				expected = record.DefaultDuration
			}
		}
		if expected > 0 && float64(watchTime) < s.opts.MinWatchRatio*float64(expected) {
			return nil, fmt.Errorf("%w: watched %ds of expected %ds", ErrInvalidWatchTime, watchTime, expected)
		}
	}

	maxReward := s.opts.MaxAdReward
	if record, found := s.registry.Record(providerName); found && record.MaxReward > 0 {
		maxReward = record.MaxReward
	}
	if claimedReward <= 0 || claimedReward > maxReward {
		return nil, fmt.Errorf("%w: %.1f", ErrInvalidReward, claimedReward)
	}

	now := s.now()

	from := startOfDay(now.AddDate(0, 0, -reward.StreakDays))
	earnDays, err := s.repo.EarnDays(ctx, userID, from)
	if err != nil {
		return nil, err
	}

	breakdown := reward.Calculate(claimedReward, now, earnDays)

	description := fmt.Sprintf("Watched ad %s (%s)", adID, providerName)
	err = s.repo.Settle(ctx, userID, providerName, adID, toTenths(breakdown.Total), description, s.guard.Window())
	if err != nil {
		return nil, err
	}

	p.TrackCompletion(ctx, adID, userID, watchTime)

	return &breakdown, nil
}

func startOfDay(t time.Time) time.Time {
	local := t.Local()
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
}

// toTenths переводит сумму в MIGP в целые десятые доли для хранения.
func toTenths(v float64) int64 {
	return int64(math.Round(v * 10))
}

// GetBalance возвращает баланс пользователя в виде структуры model.Balance.
func (s *Service) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	current, earned, spent, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.Balance{
		Current: float64(current) / 10,
		Earned:  float64(earned) / 10,
		Spent:   float64(spent) / 10,
	}, nil
}

// GetTransactions возвращает последние операции пользователя.
func (s *Service) GetTransactions(ctx context.Context, userID int64, limit int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.GetTransactionsByUser(ctx, userID, limit)
}

// airtimePointsPerRand — курс конвертации: 10 MIGP за 1 рэнд эфирного времени.
const airtimePointsPerRand = 10

// ConvertAirtime списывает баллы за эфирное время на указанную сумму в рэндах.
func (s *Service) ConvertAirtime(ctx context.Context, userID int64, amountRand int) error {
	if amountRand <= 0 {
		return ErrInvalidAmount
	}

	points := int64(amountRand) * airtimePointsPerRand * 10
	return s.repo.CreateRedemption(ctx, userID, points, fmt.Sprintf("Airtime: R%d", amountRand))
}

// ConvertData списывает указанное количество баллов за пакет трафика.
func (s *Service) ConvertData(ctx context.Context, userID int64, points int, bundle string) error {
	if points <= 0 {
		return ErrInvalidAmount
	}

	return s.repo.CreateRedemption(ctx, userID, int64(points)*10, "Data: "+bundle)
}

// GrantBonus зачисляет административный бонус пользователю.
func (s *Service) GrantBonus(ctx context.Context, userID int64, amount float64, description string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if description == "" {
		description = "Admin bonus"
	}

	return s.repo.CreateBonus(ctx, userID, toTenths(amount), description)
}

// EnableProvider включает провайдера.
func (s *Service) EnableProvider(name string) {
	s.registry.Enable(name)
}

// DisableProvider отключает провайдера (фолбэк отключить нельзя).
func (s *Service) DisableProvider(name string) {
	s.registry.Disable(name)
}

// ProviderStatusEntry — состояние провайдера вместе с его счётчиками.
type ProviderStatusEntry struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Priority    int    `json:"priority"`
	Impressions int64  `json:"impressions"`
	Completions int64  `json:"completions"`
}

// ProviderStatus возвращает состояние всех провайдеров со статистикой.
func (s *Service) ProviderStatus(ctx context.Context) ([]ProviderStatusEntry, error) {
	stats, err := s.repo.GetProviderStats(ctx)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]model.ProviderStats, len(stats))
	for _, st := range stats {
		byName[st.Provider] = st
	}

	records := s.registry.Status()
	res := make([]ProviderStatusEntry, 0, len(records))
	for _, rec := range records {
		st := byName[rec.Name]
		res = append(res, ProviderStatusEntry{
			Name:        rec.Name,
			Enabled:     rec.Enabled,
			Priority:    rec.Priority,
			Impressions: st.Impressions,
			Completions: st.Completions,
		})
	}

	return res, nil
}

// StartRetentionSweeps запускает фоновую очистку устаревших просмотров.
func (s *Service) StartRetentionSweeps(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				_, _ = s.repo.PurgeWatchEvents(sweepCtx, s.now().Add(-s.opts.WatchRetention))
				cancel()
			}
		}
	}()
}
