// Package model содержит доменные сущности сервиса migpoints.
package model

import "time"

// User представляет зарегистрированного пользователя платформы.
type User struct {
	ID           int64
	Phone        string
	Name         string
	PasswordHash []byte
	IsAdmin      bool
	Balance      float64
	CreatedAt    time.Time
}

// TransactionType описывает тип операции в леджере баллов.
type TransactionType string

const (
	TransactionEarn  TransactionType = "earn"
	TransactionSpend TransactionType = "spend"
	TransactionBonus TransactionType = "bonus"
)

// Transaction описывает запись в журнале операций с баллами.
// Журнал append-only: записи не изменяются после создания.
type Transaction struct {
	ID          int64           `json:"id"`
	Type        TransactionType `json:"type"`
	Amount      float64         `json:"amount"`
	Description string          `json:"description"`
	Timestamp   time.Time       `json:"timestamp"`
}

// AdOffer описывает рекламное предложение, полученное от провайдера.
// Не сохраняется как отдельная сущность: либо отбрасывается, либо
// превращается в WatchEvent при успешном просмотре.
type AdOffer struct {
	Provider       string  `json:"provider"`
	AdID           string  `json:"ad_id"`
	Title          string  `json:"title"`
	Description    string  `json:"description,omitempty"`
	Advertiser     string  `json:"advertiser,omitempty"`
	Reward         float64 `json:"reward"`
	Duration       int     `json:"duration"`
	Format         string  `json:"format,omitempty"`
	CreativeURL    string  `json:"creative_url,omitempty"`
	ImageURL       string  `json:"image_url,omitempty"`
	EmbedScript    string  `json:"embed_script,omitempty"`
	EmbedContainer string  `json:"embed_container,omitempty"`
	IsEmbed        bool    `json:"is_embed"`
	ECPM           float64 `json:"-"`
}

// WatchEvent фиксирует факт просмотра рекламы пользователем.
// Идентичность рекламы составная: (provider, ad_id).
type WatchEvent struct {
	UserID    int64
	Provider  string
	AdID      string
	Timestamp time.Time
}

// Balance содержит текущий баланс пользователя и агрегаты по леджеру.
type Balance struct {
	Current float64 `json:"current"`
	Earned  float64 `json:"earned"`
	Spent   float64 `json:"spent"`
}

// ProviderRecord описывает конфигурацию одного рекламного провайдера.
// Изменяется только административными действиями enable/disable.
type ProviderRecord struct {
	Name            string
	Enabled         bool
	Priority        int
	DefaultDuration int
	MaxReward       float64
}

// ProviderStats содержит информационные счётчики по провайдеру.
type ProviderStats struct {
	Provider    string `json:"provider"`
	Impressions int64  `json:"impressions"`
	Completions int64  `json:"completions"`
}
