package provider

import (
	"context"
	"strings"
	"testing"
)

func TestRewardFromECPM(t *testing.T) {
	tests := []struct {
		name      string
		ecpm      float64
		userShare float64
		minReward float64
		want      float64
	}{
		{
			// 0.10 * 18.5 / 1000 * 0.7 * 10 = 0.01295 → floor
			name:      "popunder hits floor",
			ecpm:      0.10,
			userShare: 0.7,
			minReward: 0.1,
			want:      0.1,
		},
		{
			// 5.0 * 18.5 / 1000 * 0.7 * 10 = 0.6475 → 0.6
			name:      "high ecpm rounded",
			ecpm:      5.0,
			userShare: 0.7,
			minReward: 0.1,
			want:      0.6,
		},
		{
			name:      "zero ecpm returns floor",
			ecpm:      0,
			userShare: 0.7,
			minReward: 0.1,
			want:      0.1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RewardFromECPM(tt.ecpm, tt.userShare, tt.minReward)
			if got != tt.want {
				t.Errorf("RewardFromECPM(%v) = %v, want %v", tt.ecpm, got, tt.want)
			}
		})
	}
}

func TestAdsterraProvider_FetchAd(t *testing.T) {
	p := NewAdsterraProvider(nil)

	offer := p.FetchAd(context.Background(), "native", "ZA")
	if offer == nil {
		t.Fatalf("expected offer, got nil")
	}
	if offer.Provider != AdsterraName {
		t.Errorf("provider = %q, want %q", offer.Provider, AdsterraName)
	}
	if !strings.HasPrefix(offer.AdID, "adsterra_") {
		t.Errorf("adID = %q, want adsterra_ prefix", offer.AdID)
	}
	if !offer.IsEmbed || offer.EmbedScript == "" {
		t.Errorf("embed unit without embed script: %+v", offer)
	}
	if offer.Reward < p.MinReward {
		t.Errorf("reward = %v below minimum %v", offer.Reward, p.MinReward)
	}
	if offer.Duration != adsterraDuration {
		t.Errorf("duration = %d, want %d", offer.Duration, adsterraDuration)
	}
}

func TestAdsterraProvider_UnitRotation(t *testing.T) {
	p := NewAdsterraProvider(nil)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		offer := p.FetchAd(context.Background(), "native", "ZA")
		seen[offer.Format] = true
	}

	// Ротация с шагом 17 по модулю 100 обходит все три диапазона.
	if len(seen) < 2 {
		t.Errorf("rotation stuck on a single unit: %v", seen)
	}
}

func TestAdsterraProvider_ExpectedDuration(t *testing.T) {
	p := NewAdsterraProvider(nil)

	if d, ok := p.ExpectedDuration("adsterra_27951368_0e95d61a022fea5177f5dce50bc90756"); !ok || d != adsterraDuration {
		t.Errorf("ExpectedDuration = (%d, %v), want (%d, true)", d, ok, adsterraDuration)
	}
	if _, ok := p.ExpectedDuration("demo_mtn_001"); ok {
		t.Errorf("foreign ad id should not be recognized")
	}
}
