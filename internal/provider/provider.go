// Package provider содержит рекламных провайдеров, их реестр и выбор
// предложения с фолбэком по приоритету.
package provider

import (
	"context"

	"github.com/mmeshcher/migpoints/internal/model"
)

// AdProvider описывает контракт одного рекламного провайдера.
//
// FetchAd возвращает nil при любой временной ошибке: провайдер не должен
// прерывать выбор рекламы, селектор переходит к следующему по приоритету.
// Провайдер без обязательных учётных данных создаётся нерабочим и всегда
// возвращает nil.
type AdProvider interface {
	Name() string
	FetchAd(ctx context.Context, format, country string) *model.AdOffer
	TrackImpression(ctx context.Context, adID string, userID int64)
	TrackCompletion(ctx context.Context, adID string, userID int64, watchTime int)
	// ExpectedDuration возвращает ожидаемую длительность ролика по его
	// идентификатору, если провайдер может её определить.
	ExpectedDuration(adID string) (int, bool)
}

// StatsRecorder фиксирует информационные счётчики показов и досмотров.
// Ошибки записи статистики не влияют на выдачу рекламы и расчёты.
type StatsRecorder interface {
	RecordImpression(ctx context.Context, provider, adID string, userID int64) error
	RecordCompletion(ctx context.Context, provider, adID string, userID int64, watchTime int) error
}

// NopStats — заглушка StatsRecorder для тестов и провайдеров без учёта.
type NopStats struct{}

func (NopStats) RecordImpression(ctx context.Context, provider, adID string, userID int64) error {
	return nil
}

func (NopStats) RecordCompletion(ctx context.Context, provider, adID string, userID int64, watchTime int) error {
	return nil
}
