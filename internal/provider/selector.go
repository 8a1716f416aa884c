package provider

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/migpoints/internal/model"
)

// Selector выбирает рекламное предложение, перебирая включённых
// провайдеров по убыванию приоритета до первого непустого ответа.
type Selector struct {
	registry *Registry
	logger   *zap.Logger

	// FallbackToDemo: фолбэк-провайдер пробуется последним, пока есть
	// другие включённые провайдеры, чтобы не вытеснять платные сети.
	FallbackToDemo bool
	// Timeout ограничивает обращение к одному провайдеру: зависшая сеть
	// эквивалентна пустому ответу.
	Timeout time.Duration
}

// NewSelector создаёт селектор поверх реестра провайдеров.
func NewSelector(registry *Registry, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		registry:       registry,
		logger:         logger,
		FallbackToDemo: true,
		Timeout:        5 * time.Second,
	}
}

// ordered возвращает включённых провайдеров в порядке опроса: по
// убыванию приоритета, фолбэк в конце при активной политике.
func (s *Selector) ordered() []Entry {
	entries := s.registry.EnabledByPriority()
	if !s.FallbackToDemo || len(entries) < 2 {
		return entries
	}

	fallback := s.registry.Fallback()
	res := make([]Entry, 0, len(entries))
	var deferred []Entry
	for _, e := range entries {
		if e.Record.Name == fallback {
			deferred = append(deferred, e)
			continue
		}
		res = append(res, e)
	}
	return append(res, deferred...)
}

// Select возвращает первое непустое предложение либо nil, если все
// провайдеры отказали. nil — это «сейчас рекламы нет», не ошибка.
func (s *Selector) Select(ctx context.Context, format, country string) *model.AdOffer {
	for _, e := range s.ordered() {
		offer := s.fetch(ctx, e, format, country)
		if offer == nil {
			s.logger.Debug("provider returned no ad", zap.String("provider", e.Record.Name))
			continue
		}

		// Имя провайдера проставляется до возврата, чтобы настройка
		// трекинга и кулдауна шла по верному адресату.
		offer.Provider = e.Record.Name

		s.logger.Debug("ad selected",
			zap.String("provider", e.Record.Name),
			zap.String("adID", offer.AdID),
			zap.Float64("reward", offer.Reward),
		)
		return offer
	}

	s.logger.Debug("no ads available from any provider")
	return nil
}

// Offers опрашивает всех включённых провайдеров и возвращает по одному
// кандидату от каждого (для дашборда).
func (s *Selector) Offers(ctx context.Context, format, country string) []model.AdOffer {
	var res []model.AdOffer
	for _, e := range s.ordered() {
		offer := s.fetch(ctx, e, format, country)
		if offer == nil {
			continue
		}
		offer.Provider = e.Record.Name
		res = append(res, *offer)
	}
	return res
}

func (s *Selector) fetch(ctx context.Context, e Entry, format, country string) *model.AdOffer {
	fetchCtx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	return e.Provider.FetchAd(fetchCtx, format, country)
}
