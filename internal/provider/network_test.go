package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestNetwork(t *testing.T, handler http.HandlerFunc) *NetworkProvider {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewNetworkProvider(NetworkConfig{
		Name:            "adnetwork",
		BaseURL:         server.URL,
		APIKey:          "test-key",
		DefaultDuration: 30,
	}, nil)
}

func TestNetworkProvider_FetchAd(t *testing.T) {
	p := newTestNetwork(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ads" {
			t.Errorf("path = %q, want /api/ads", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "test-key" {
			t.Errorf("auth header = %q, want test-key", got)
		}
		if got := r.URL.Query().Get("format"); got != "native" {
			t.Errorf("format = %q, want native", got)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"ad_id": "net_42",
			"title": "Try MigPoints",
			"advertiser": "MTN",
			"reward": 1.5,
			"duration": 20,
			"creative_url": "https://cdn.example.com/ad.mp4"
		}`))
	})

	offer := p.FetchAd(context.Background(), "native", "ZA")
	if offer == nil {
		t.Fatalf("expected offer, got nil")
	}
	if offer.AdID != "net_42" {
		t.Errorf("adID = %q, want net_42", offer.AdID)
	}
	if offer.Reward != 1.5 {
		t.Errorf("reward = %v, want 1.5", offer.Reward)
	}
	if offer.Duration != 20 {
		t.Errorf("duration = %d, want 20", offer.Duration)
	}
	if offer.Advertiser != "MTN" {
		t.Errorf("advertiser = %q, want MTN", offer.Advertiser)
	}
}

func TestNetworkProvider_FetchAdCustomFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": "x_1", "name": "Spin", "payout": 2.5}`))
	}))
	t.Cleanup(server.Close)

	p := NewNetworkProvider(NetworkConfig{
		Name:            "custom",
		BaseURL:         server.URL,
		APIKey:          "k",
		DefaultDuration: 15,
		Fields: FieldMap{
			AdID:   "id",
			Title:  "name",
			Reward: "payout",
		},
	}, nil)

	offer := p.FetchAd(context.Background(), "native", "ZA")
	if offer == nil {
		t.Fatalf("expected offer, got nil")
	}
	if offer.AdID != "x_1" || offer.Title != "Spin" || offer.Reward != 2.5 {
		t.Errorf("mapped offer = %+v", offer)
	}
	if offer.Duration != 15 {
		t.Errorf("duration = %d, want default 15", offer.Duration)
	}
}

func TestNetworkProvider_FetchAdNoContent(t *testing.T) {
	p := newTestNetwork(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	if offer := p.FetchAd(context.Background(), "native", "ZA"); offer != nil {
		t.Fatalf("offer = %+v, want nil on 204", offer)
	}
}

func TestNetworkProvider_FetchAdBadResponse(t *testing.T) {
	p := newTestNetwork(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ad_id": "", "reward": 0}`))
	})

	if offer := p.FetchAd(context.Background(), "native", "ZA"); offer != nil {
		t.Fatalf("offer = %+v, want nil for empty ad", offer)
	}
}

func TestNetworkProvider_Unconfigured(t *testing.T) {
	p := NewNetworkProvider(NetworkConfig{Name: "adnetwork"}, nil)

	if p.Configured() {
		t.Fatalf("provider without credentials reported as configured")
	}
	if offer := p.FetchAd(context.Background(), "native", "ZA"); offer != nil {
		t.Fatalf("unconfigured provider returned offer %+v", offer)
	}
}

func TestNetworkProvider_TrackCompletion(t *testing.T) {
	var gotPath string
	p := newTestNetwork(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})

	p.TrackCompletion(context.Background(), "net_42", 7, 20)

	if gotPath != "/api/ads/completion" {
		t.Errorf("path = %q, want /api/ads/completion", gotPath)
	}
}
