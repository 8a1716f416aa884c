// Package cooldown определяет, доступна ли реклама пользователю или ещё
// действует пауза после предыдущего просмотра.
package cooldown

import (
	"context"
	"time"
)

// LastWatchSource отдаёт время последнего просмотра пары (provider, ad)
// пользователем. Состояние кулдауна не хранится отдельно: оно выводится
// из истории просмотров на каждом чтении. Второй результат false — у
// пользователя ещё нет просмотров этой рекламы.
type LastWatchSource interface {
	LastWatch(ctx context.Context, userID int64, provider, adID string) (time.Time, bool, error)
}

// Guard вычисляет состояние кулдауна для пары (пользователь, реклама).
type Guard struct {
	source LastWatchSource
	window time.Duration
	now    func() time.Time
}

// NewGuard создаёт Guard с указанным окном кулдауна.
func NewGuard(source LastWatchSource, window time.Duration) *Guard {
	return &Guard{
		source: source,
		window: window,
		now:    time.Now,
	}
}

// Window возвращает настроенное окно кулдауна.
func (g *Guard) Window() time.Duration { return g.window }

// Check возвращает признак активного кулдауна и остаток времени до его
// окончания. Проверка выполняется и при выдаче рекламы, и повторно при
// зачислении: между этими моментами проходит время, и устаревший запрос
// на зачисление обязан быть отклонён.
func (g *Guard) Check(ctx context.Context, userID int64, provider, adID string) (bool, time.Duration, error) {
	last, found, err := g.source.LastWatch(ctx, userID, provider, adID)
	if err != nil {
		return false, 0, err
	}
	if !found {
		return false, 0, nil
	}

	elapsed := g.now().Sub(last)
	if elapsed >= g.window {
		return false, 0, nil
	}

	return true, g.window - elapsed, nil
}
