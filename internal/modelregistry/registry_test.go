package modelregistry

import (
	"context"
	"testing"

	"golang.org/x/oauth2"
)

type stubProvider struct {
	id    string
	calls int
}

func (s *stubProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	s.calls++
	return &GenerateResponse{Content: "ok"}, nil
}

func (s *stubProvider) ModelID() string { return s.id }

func newTestRegistry() (*Registry, *int) {
	constructions := 0
	reg := New(Config{
		Tiers: map[Tier]string{
			TierDefault: "anthropic/claude-3-5-sonnet-latest",
			TierFast:    "anthropic/claude-3-5-haiku-latest",
		},
		Providers: map[string]ProviderConfig{
			"anthropic": {APIKey: "test-key"},
		},
	})
	reg.RegisterFactory("anthropic", func(modelID string, cfg ProviderConfig) (LLMProvider, error) {
		constructions++
		return &stubProvider{id: modelID}, nil
	})
	return reg, &constructions
}

func TestGetResolvesAndCaches(t *testing.T) {
	reg, constructions := newTestRegistry()

	p1, err := reg.Get(TierDefault, "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p1.ModelID() != "claude-3-5-sonnet-latest" {
		t.Errorf("ModelID = %q, want claude-3-5-sonnet-latest", p1.ModelID())
	}

	p2, err := reg.Get(TierDefault, "")
	if err != nil {
		t.Fatalf("Get (cached): %v", err)
	}
	if p1 != p2 {
		t.Error("expected second Get to return the cached instance")
	}
	if *constructions != 1 {
		t.Errorf("constructions = %d, want 1 (cache hit expected)", *constructions)
	}
}

func TestGetFallsBackToDefaultForUnknownTier(t *testing.T) {
	reg, _ := newTestRegistry()

	p, err := reg.Get(Tier("nonexistent"), "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.ModelID() != "claude-3-5-sonnet-latest" {
		t.Errorf("ModelID = %q, want default model", p.ModelID())
	}
}

func TestGetUsesLegacyTierAlias(t *testing.T) {
	reg, _ := newTestRegistry()

	p, err := reg.Get(Tier("flagship"), "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// "flagship" aliases to "powerful", which has no configured spec, so it
	// falls back to default.
	if p.ModelID() != "claude-3-5-sonnet-latest" {
		t.Errorf("ModelID = %q, want default model via fallback", p.ModelID())
	}
}

// TestSetOAuthCredentialsEvictsCache covers scenario S7: credential
// rotation must evict cached instances for the affected provider so the
// next Get reconstructs with fresh credentials.
func TestSetOAuthCredentialsEvictsCache(t *testing.T) {
	constructions := 0
	reg := New(Config{
		Tiers: map[Tier]string{
			TierDefault: "codex/gpt-5-codex",
		},
	})
	reg.RegisterFactory("codex", func(modelID string, cfg ProviderConfig) (LLMProvider, error) {
		constructions++
		return &stubProvider{id: modelID}, nil
	})

	if _, err := reg.Get(TierDefault, ""); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := reg.Get(TierDefault, ""); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if constructions != 1 {
		t.Fatalf("constructions = %d, want 1 before rotation", constructions)
	}

	reg.SetOAuthCredentials("codex", oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "new-token"}), "", "")

	if _, err := reg.Get(TierDefault, ""); err != nil {
		t.Fatalf("Get after rotation: %v", err)
	}
	if constructions != 2 {
		t.Errorf("constructions = %d, want 2 after credential rotation evicted the cache", constructions)
	}
}

func TestGetUnregisteredProviderFactory(t *testing.T) {
	reg := New(Config{
		Tiers: map[Tier]string{TierDefault: "mystery/model-x"},
	})
	if _, err := reg.Get(TierDefault, ""); err == nil {
		t.Fatal("expected error for unregistered provider factory")
	}
}

func TestGetMalformedSpec(t *testing.T) {
	reg := New(Config{
		Tiers: map[Tier]string{TierDefault: "no-slash-here"},
	})
	if _, err := reg.Get(TierDefault, ""); err == nil {
		t.Fatal("expected error for malformed model spec")
	}
}
