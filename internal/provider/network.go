package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/migpoints/internal/model"
)

// FieldMap задаёт соответствие полей ответа рекламной сети полям AdOffer.
// Сети отличаются только именами полей и адресами, поэтому вместо класса
// на сеть используется один адаптер с декларативной конфигурацией.
type FieldMap struct {
	AdID        string
	Title       string
	Advertiser  string
	Reward      string
	Duration    string
	CreativeURL string
}

// DefaultFieldMap — соответствие полей по умолчанию.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		AdID:        "ad_id",
		Title:       "title",
		Advertiser:  "advertiser",
		Reward:      "reward",
		Duration:    "duration",
		CreativeURL: "creative_url",
	}
}

// NetworkConfig описывает подключение к одной рекламной сети.
type NetworkConfig struct {
	Name            string
	BaseURL         string
	APIKey          string
	AuthHeader      string
	DefaultDuration int
	Fields          FieldMap
	Timeout         time.Duration
}

// NetworkProvider — универсальный HTTP-адаптер рекламной сети.
//
// Провайдер без адреса или ключа API считается ненастроенным: FetchAd
// всегда возвращает nil, запросы к сети не выполняются.
type NetworkProvider struct {
	cfg        NetworkConfig
	stats      StatsRecorder
	httpClient *retryablehttp.Client
	configured bool
}

// NewNetworkProvider создаёт адаптер рекламной сети по конфигурации.
func NewNetworkProvider(cfg NetworkConfig, stats StatsRecorder) *NetworkProvider {
	if stats == nil {
		stats = NopStats{}
	}
	if cfg.AuthHeader == "" {
		cfg.AuthHeader = "Authorization"
	}
	if cfg.Fields == (FieldMap{}) {
		cfg.Fields = DefaultFieldMap()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = nil

	return &NetworkProvider{
		cfg:        cfg,
		stats:      stats,
		httpClient: client,
		configured: cfg.BaseURL != "" && cfg.APIKey != "",
	}
}

// Name возвращает имя рекламной сети.
func (p *NetworkProvider) Name() string { return p.cfg.Name }

// Configured сообщает, есть ли у адаптера рабочие учётные данные.
func (p *NetworkProvider) Configured() bool { return p.configured }

// FetchAd запрашивает кандидата у рекламной сети. Любая ошибка сети или
// пустой ответ превращаются в nil: селектор перейдёт к следующему провайдеру.
func (p *NetworkProvider) FetchAd(ctx context.Context, format, country string) *model.AdOffer {
	if !p.configured {
		return nil
	}

	endpoint := fmt.Sprintf("%s/api/ads?format=%s&country=%s",
		p.cfg.BaseURL, url.QueryEscape(format), url.QueryEscape(country))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil
	}
	req.Header.Set(p.cfg.AuthHeader, p.cfg.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil
	}

	offer := p.mapOffer(raw)
	if offer.AdID == "" || offer.Reward <= 0 {
		return nil
	}

	return offer
}

func (p *NetworkProvider) mapOffer(raw map[string]any) *model.AdOffer {
	offer := &model.AdOffer{
		Provider: p.cfg.Name,
		Duration: p.cfg.DefaultDuration,
	}

	offer.AdID = stringField(raw, p.cfg.Fields.AdID)
	offer.Title = stringField(raw, p.cfg.Fields.Title)
	offer.Advertiser = stringField(raw, p.cfg.Fields.Advertiser)
	offer.CreativeURL = stringField(raw, p.cfg.Fields.CreativeURL)
	offer.Reward = numberField(raw, p.cfg.Fields.Reward)

	if d := numberField(raw, p.cfg.Fields.Duration); d > 0 {
		offer.Duration = int(d)
	}

	return offer
}

func stringField(raw map[string]any, key string) string {
	if v, ok := raw[key].(string); ok {
		return v
	}
	return ""
}

func numberField(raw map[string]any, key string) float64 {
	switch v := raw[key].(type) {
	case float64:
		return v
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}

// TrackImpression сообщает сети о показе и обновляет счётчики.
func (p *NetworkProvider) TrackImpression(ctx context.Context, adID string, userID int64) {
	_ = p.stats.RecordImpression(ctx, p.cfg.Name, adID, userID)
	p.post(ctx, "/api/ads/impression", map[string]any{"ad_id": adID})
}

// TrackCompletion сообщает сети о досмотре и обновляет счётчики.
func (p *NetworkProvider) TrackCompletion(ctx context.Context, adID string, userID int64, watchTime int) {
	_ = p.stats.RecordCompletion(ctx, p.cfg.Name, adID, userID, watchTime)
	p.post(ctx, "/api/ads/completion", map[string]any{"ad_id": adID, "watch_time": watchTime})
}

func (p *NetworkProvider) post(ctx context.Context, path string, payload map[string]any) {
	if !p.configured {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, body)
	if err != nil {
		return
	}
	req.Header.Set(p.cfg.AuthHeader, p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}

// ExpectedDuration: удалённая сеть не хранит каталог локально, известна
// только длительность по умолчанию из конфигурации.
func (p *NetworkProvider) ExpectedDuration(adID string) (int, bool) {
	if p.cfg.DefaultDuration > 0 {
		return p.cfg.DefaultDuration, true
	}
	return 0, false
}
