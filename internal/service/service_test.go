package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmeshcher/migpoints/internal/cooldown"
	"github.com/mmeshcher/migpoints/internal/model"
	"github.com/mmeshcher/migpoints/internal/provider"
	"github.com/mmeshcher/migpoints/internal/repository"
)

type stubRepo struct {
	users       map[string]*model.User
	nextID      int64
	lastWatch   time.Time
	watched     bool
	earnDays    map[string]bool
	settled     []settledCall
	redemptions []int64
	bonuses     []int64
	settleErr   error
}

type settledCall struct {
	userID       int64
	provider     string
	adID         string
	amountTenths int64
	description  string
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		users:    make(map[string]*model.User),
		earnDays: make(map[string]bool),
	}
}

func (r *stubRepo) Close() error { return nil }

func (r *stubRepo) CreateUser(ctx context.Context, phone, name string, passwordHash []byte) (int64, error) {
	if _, ok := r.users[phone]; ok {
		return 0, repository.ErrUserExists
	}
	r.nextID++
	r.users[phone] = &model.User{ID: r.nextID, Phone: phone, Name: name, PasswordHash: passwordHash}
	return r.nextID, nil
}

func (r *stubRepo) GetUserByPhone(ctx context.Context, phone string) (*model.User, error) {
	u, ok := r.users[phone]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return u, nil
}

func (r *stubRepo) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	for _, u := range r.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *stubRepo) LastWatch(ctx context.Context, userID int64, provider, adID string) (time.Time, bool, error) {
	return r.lastWatch, r.watched, nil
}

func (r *stubRepo) Settle(ctx context.Context, userID int64, provider, adID string, amountTenths int64, description string, window time.Duration) error {
	if r.settleErr != nil {
		return r.settleErr
	}
	r.settled = append(r.settled, settledCall{userID, provider, adID, amountTenths, description})
	return nil
}

func (r *stubRepo) CreateRedemption(ctx context.Context, userID int64, amountTenths int64, description string) error {
	r.redemptions = append(r.redemptions, amountTenths)
	return nil
}

func (r *stubRepo) CreateBonus(ctx context.Context, userID int64, amountTenths int64, description string) error {
	r.bonuses = append(r.bonuses, amountTenths)
	return nil
}

func (r *stubRepo) GetBalance(ctx context.Context, userID int64) (int64, int64, int64, error) {
	return 125, 200, 75, nil
}

func (r *stubRepo) GetTransactionsByUser(ctx context.Context, userID int64, limit int) ([]model.Transaction, error) {
	return nil, nil
}

func (r *stubRepo) EarnDays(ctx context.Context, userID int64, from time.Time) (map[string]bool, error) {
	return r.earnDays, nil
}

func (r *stubRepo) GetProviderStats(ctx context.Context) ([]model.ProviderStats, error) {
	return []model.ProviderStats{{Provider: "demo", Impressions: 3, Completions: 1}}, nil
}

func (r *stubRepo) PurgeWatchEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

type stubProvider struct {
	name     string
	duration int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) FetchAd(ctx context.Context, format, country string) *model.AdOffer {
	return &model.AdOffer{AdID: p.name + "_001", Reward: 2.0, Duration: p.duration}
}

func (p *stubProvider) TrackImpression(ctx context.Context, adID string, userID int64) {}

func (p *stubProvider) TrackCompletion(ctx context.Context, adID string, userID int64, watchTime int) {
}

func (p *stubProvider) ExpectedDuration(adID string) (int, bool) {
	if p.duration > 0 {
		return p.duration, true
	}
	return 0, false
}

func newTestService(repo *stubRepo) *Service {
	registry := provider.NewRegistry("demo")
	registry.Register(model.ProviderRecord{
		Name:            "adsterra",
		Enabled:         true,
		Priority:        5,
		DefaultDuration: 30,
		MaxReward:       10,
	}, &stubProvider{name: "adsterra", duration: 30})
	registry.Register(model.ProviderRecord{
		Name:            "demo",
		Enabled:         true,
		Priority:        1,
		DefaultDuration: 30,
		MaxReward:       10,
	}, &stubProvider{name: "demo", duration: 30})

	selector := provider.NewSelector(registry, nil)
	guard := cooldown.NewGuard(repo, 5*time.Minute)

	svc := NewService(repo, registry, selector, guard, Options{
		MinWatchRatio: 0.9,
		MaxAdReward:   10,
	})
	// Среда: без бонусов выходного дня.
	svc.now = func() time.Time { return time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestRegisterAndAuthenticate(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	id, err := svc.RegisterUser(ctx, "0821234567", "Thabo", "secret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	gotID, err := svc.AuthenticateUser(ctx, "0821234567", "secret")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if gotID != id {
		t.Errorf("id = %d, want %d", gotID, id)
	}

	_, err = svc.AuthenticateUser(ctx, "0821234567", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("err = %v, want ErrInvalidCredentials", err)
	}

	_, err = svc.RegisterUser(ctx, "0821234567", "Thabo", "secret")
	if !errors.Is(err, repository.ErrUserExists) {
		t.Errorf("err = %v, want ErrUserExists", err)
	}
}

func TestCompleteAd(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	// Первый просмотр за день: база 2.0 плюс 50% бонуса.
	breakdown, err := svc.CompleteAd(ctx, 1, "adsterra", "ads_001", 2.0, 30)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if breakdown.Total != 3.0 {
		t.Errorf("total = %v, want 3.0", breakdown.Total)
	}

	if len(repo.settled) != 1 {
		t.Fatalf("settle calls = %d, want 1", len(repo.settled))
	}
	if repo.settled[0].amountTenths != 30 {
		t.Errorf("settled tenths = %d, want 30", repo.settled[0].amountTenths)
	}
	if repo.settled[0].provider != "adsterra" || repo.settled[0].adID != "ads_001" {
		t.Errorf("settled identity = (%s, %s)", repo.settled[0].provider, repo.settled[0].adID)
	}
}

func TestCompleteAd_NoBonuses(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)
	repo.earnDays[svc.now().Format("2006-01-02")] = true

	breakdown, err := svc.CompleteAd(context.Background(), 1, "adsterra", "ads_001", 2.0, 30)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if breakdown.Total != 2.0 || breakdown.Bonus != 0 {
		t.Errorf("breakdown = %+v, want bare base", breakdown)
	}
}

func TestCompleteAd_WatchTimeTooShort(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)

	// 20 секунд из ожидаемых 30 — ниже порога в 90%.
	_, err := svc.CompleteAd(context.Background(), 1, "adsterra", "ads_001", 2.0, 20)
	if !errors.Is(err, ErrInvalidWatchTime) {
		t.Fatalf("err = %v, want ErrInvalidWatchTime", err)
	}
	if len(repo.settled) != 0 {
		t.Errorf("settlement happened despite short watch")
	}
}

func TestCompleteAd_FallbackSkipsWatchCheck(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)

	_, err := svc.CompleteAd(context.Background(), 1, "demo", "demo_001", 2.0, 1)
	if err != nil {
		t.Fatalf("fallback provider must not enforce watch threshold: %v", err)
	}
}

func TestCompleteAd_RewardOutOfBounds(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	for _, claimed := range []float64{0, -1, 10.5} {
		_, err := svc.CompleteAd(ctx, 1, "adsterra", "ads_001", claimed, 30)
		if !errors.Is(err, ErrInvalidReward) {
			t.Errorf("claimed %v: err = %v, want ErrInvalidReward", claimed, err)
		}
	}
}

func TestCompleteAd_Cooldown(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)
	repo.watched = true
	// guard сверяется с реальным временем, отметка ставится от него же.
	repo.lastWatch = time.Now().Add(-time.Minute)

	_, err := svc.CompleteAd(context.Background(), 1, "adsterra", "ads_001", 2.0, 30)

	var cdErr *repository.CooldownError
	if !errors.As(err, &cdErr) {
		t.Fatalf("err = %v, want CooldownError", err)
	}
	if cdErr.Remaining <= 3*time.Minute || cdErr.Remaining > 4*time.Minute {
		t.Errorf("remaining = %v, want about 4m", cdErr.Remaining)
	}
	if !errors.Is(err, repository.ErrCooldownActive) {
		t.Errorf("CooldownError must unwrap to ErrCooldownActive")
	}
}

func TestCompleteAd_UnknownProvider(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)

	_, err := svc.CompleteAd(context.Background(), 1, "ghost", "x", 2.0, 30)
	if !errors.Is(err, ErrProviderNotFound) {
		t.Fatalf("err = %v, want ErrProviderNotFound", err)
	}
}

func TestGetAvailableAds_CooldownAnnotation(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)
	repo.watched = true
	// guard сверяется с реальным временем, отметка ставится от него же.
	repo.lastWatch = time.Now().Add(-time.Minute)

	offers, err := svc.GetAvailableAds(context.Background(), 1, "native", "ZA")
	if err != nil {
		t.Fatalf("get ads: %v", err)
	}
	if len(offers) == 0 {
		t.Fatalf("no offers")
	}
	for _, o := range offers {
		if !o.OnCooldown {
			t.Errorf("offer %s not marked on cooldown", o.AdID)
		}
		if o.RetryAfter <= 0 {
			t.Errorf("offer %s has no retry_after", o.AdID)
		}
	}
}

func TestConvertAirtime(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	if err := svc.ConvertAirtime(ctx, 1, 5); err != nil {
		t.Fatalf("convert: %v", err)
	}
	// R5 по курсу 10 MIGP за рэнд — 50 MIGP, 500 десятых.
	if repo.redemptions[0] != 500 {
		t.Errorf("redeemed tenths = %d, want 500", repo.redemptions[0])
	}

	if err := svc.ConvertAirtime(ctx, 1, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestConvertData(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)

	if err := svc.ConvertData(context.Background(), 1, 30, "1GB"); err != nil {
		t.Fatalf("convert: %v", err)
	}
	if repo.redemptions[0] != 300 {
		t.Errorf("redeemed tenths = %d, want 300", repo.redemptions[0])
	}
}

func TestGrantBonus(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)

	if err := svc.GrantBonus(context.Background(), 1, 5.5, "welcome"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if repo.bonuses[0] != 55 {
		t.Errorf("bonus tenths = %d, want 55", repo.bonuses[0])
	}

	if err := svc.GrantBonus(context.Background(), 1, 0, ""); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestGetBalance(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)

	balance, err := svc.GetBalance(context.Background(), 1)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Current != 12.5 || balance.Earned != 20 || balance.Spent != 7.5 {
		t.Errorf("balance = %+v", balance)
	}
}

func TestProviderStatus(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)

	status, err := svc.ProviderStatus(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status) != 2 {
		t.Fatalf("entries = %d, want 2", len(status))
	}
	for _, e := range status {
		if e.Name == "demo" && (e.Impressions != 3 || e.Completions != 1) {
			t.Errorf("demo stats = %+v", e)
		}
	}
}
