package provider

import (
	"context"
	"math/rand"

	"github.com/mmeshcher/migpoints/internal/model"
)

// DemoName — имя фолбэк-провайдера с демонстрационной рекламой.
const DemoName = "demo"

// DemoProvider отдаёт демонстрационную рекламу из встроенного каталога.
// Служит гарантированным фолбэком, когда настоящие сети недоступны.
type DemoProvider struct {
	stats StatsRecorder
	ads   []model.AdOffer
}

// NewDemoProvider создаёт фолбэк-провайдер со встроенным каталогом.
func NewDemoProvider(stats StatsRecorder) *DemoProvider {
	if stats == nil {
		stats = NopStats{}
	}
	return &DemoProvider{
		stats: stats,
		ads: []model.AdOffer{
			{
				Provider:    DemoName,
				AdID:        "demo_mtn_001",
				Title:       "MTN Mega Data Deal",
				Description: "Get 50% more data on all recharges this month!",
				Advertiser:  "MTN South Africa",
				Reward:      2.0,
				Duration:    30,
				Format:      "native",
				CreativeURL: "https://via.placeholder.com/800x600/0066CC/FFF?text=MTN+Data",
				ImageURL:    "https://via.placeholder.com/400x300/0066CC/FFF?text=MTN",
			},
			{
				Provider:    DemoName,
				AdID:        "demo_shoprite_001",
				Title:       "Shoprite Fresh Specials",
				Description: "Fresh produce at unbeatable prices all week!",
				Advertiser:  "Shoprite",
				Reward:      1.5,
				Duration:    20,
				Format:      "banner",
				CreativeURL: "https://via.placeholder.com/800x600/00AA00/FFF?text=Shoprite",
				ImageURL:    "https://via.placeholder.com/400x300/00AA00/FFF?text=Shoprite",
			},
			{
				Provider:    DemoName,
				AdID:        "demo_vodacom_001",
				Title:       "Vodacom LTE Upgrade",
				Description: "Unlimited streaming with LTE upgrade!",
				Advertiser:  "Vodacom",
				Reward:      2.0,
				Duration:    25,
				Format:      "native",
				CreativeURL: "https://via.placeholder.com/800x600/E60000/FFF?text=Vodacom",
				ImageURL:    "https://via.placeholder.com/400x300/E60000/FFF?text=Vodacom",
			},
		},
	}
}

// Name возвращает имя провайдера.
func (p *DemoProvider) Name() string { return DemoName }

// FetchAd возвращает случайную демонстрационную рекламу из каталога.
func (p *DemoProvider) FetchAd(ctx context.Context, format, country string) *model.AdOffer {
	offer := p.ads[rand.Intn(len(p.ads))]
	return &offer
}

// TrackImpression фиксирует показ демонстрационной рекламы.
func (p *DemoProvider) TrackImpression(ctx context.Context, adID string, userID int64) {
	_ = p.stats.RecordImpression(ctx, DemoName, adID, userID)
}

// TrackCompletion фиксирует досмотр демонстрационной рекламы.
func (p *DemoProvider) TrackCompletion(ctx context.Context, adID string, userID int64, watchTime int) {
	_ = p.stats.RecordCompletion(ctx, DemoName, adID, userID, watchTime)
}

// ExpectedDuration возвращает длительность ролика из каталога.
func (p *DemoProvider) ExpectedDuration(adID string) (int, bool) {
	for _, ad := range p.ads {
		if ad.AdID == adID {
			return ad.Duration, true
		}
	}
	return 0, false
}
