// Package modelregistry implements the tiered model resolution, lazy
// construction, and credential-rotation cache described in spec.md §4.7.
//
// It is grounded on the teacher's internal/models package — catalog.go's
// Provider enum and fallback.go's candidate/attempt bookkeeping — adapted
// from a static built-in catalog to spec-string-driven construction via
// registered provider factories, and on internal/auth/oauth.go's token
// idiom for the codex/copilot credential path.
package modelregistry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"github.com/syntrixbase/pegasus/internal/toolexec"
	"github.com/syntrixbase/pegasus/pkg/models"
)

// Tier is a logical model quality/cost tier, resolved to a concrete spec
// string via Config.Tiers.
type Tier string

const (
	TierDefault  Tier = "default"
	TierFast     Tier = "fast"
	TierBalanced Tier = "balanced"
	TierPowerful Tier = "powerful"
)

// legacyTierAliases maps older tier names (carried for config
// backward-compatibility) onto the current four.
var legacyTierAliases = map[Tier]Tier{
	"fastest":  TierFast,
	"cheap":    TierFast,
	"standard": TierBalanced,
	"best":     TierPowerful,
	"flagship": TierPowerful,
}

func normalizeTier(t Tier) Tier {
	if canon, ok := legacyTierAliases[t]; ok {
		return canon
	}
	return t
}

// GenerateRequest is the minimal shape a constructed LLMProvider consumes.
type GenerateRequest struct {
	System    string
	Messages  []models.Message
	Tools     []toolexec.LLMTool
	MaxTokens int
}

// GenerateResponse is what a cognitive stage reads back from a provider.
type GenerateResponse struct {
	Content    string
	ToolCalls  []models.ToolCall
	StopReason string
}

// LLMProvider is the language-model interface every constructed model
// instance satisfies. Concrete adapters (internal/providers) wrap
// anthropic-sdk-go, go-openai, or a worker's llm_request proxy behind it.
type LLMProvider interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	ModelID() string
}

// Factory constructs an LLMProvider for one base provider name (e.g.
// "anthropic", "openai", "codex", "copilot") given the model id portion of
// the spec string and the registry's current ProviderConfig for it.
type Factory func(modelID string, cfg ProviderConfig) (LLMProvider, error)

// ProviderConfig is the provider block read from spec.md §6 configuration
// (settings.providers.<name>).
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	// TokenSource serves fresh access tokens for OAuth-backed providers
	// (codex, copilot). Nil for API-key providers.
	TokenSource oauth2.TokenSource
}

var (
	ErrUnknownProvider = errors.New("modelregistry: unknown provider")
	ErrNoFactory       = errors.New("modelregistry: no factory registered for provider")
)

type cacheEntry struct {
	provider LLMProvider
	base     string // base provider name, for credential-rotation eviction
}

// Config seeds a Registry.
type Config struct {
	Tiers     map[Tier]string // tier -> "<provider>/<model>"
	Providers map[string]ProviderConfig
}

// Registry resolves tiers to lazily constructed, cached LLMProvider instances.
type Registry struct {
	mu        sync.Mutex
	tiers     map[Tier]string
	providers map[string]ProviderConfig
	factories map[string]Factory
	cache     map[string]cacheEntry
}

// New creates a Registry from cfg. cfg.Tiers[TierDefault] should always be
// present; Get falls back to it for an absent tier.
func New(cfg Config) *Registry {
	providers := make(map[string]ProviderConfig, len(cfg.Providers))
	for k, v := range cfg.Providers {
		providers[k] = v
	}
	tiers := make(map[Tier]string, len(cfg.Tiers))
	for k, v := range cfg.Tiers {
		tiers[k] = v
	}
	return &Registry{
		tiers:     tiers,
		providers: providers,
		factories: make(map[string]Factory),
		cache:     make(map[string]cacheEntry),
	}
}

// RegisterFactory wires a provider name ("anthropic", "openai", "codex", …)
// to the constructor that builds its LLMProvider.
func (r *Registry) RegisterFactory(providerName string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[providerName] = f
}

// Get resolves tier to an LLMProvider, constructing and caching it on first
// use. apiType, when non-empty, is appended to the cache key so the same
// model spec under a different protocol override gets its own instance.
func (r *Registry) Get(tier Tier, apiType string) (LLMProvider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	spec, ok := r.tiers[normalizeTier(tier)]
	if !ok {
		spec, ok = r.tiers[TierDefault]
		if !ok {
			return nil, fmt.Errorf("modelregistry: no spec configured for tier %q or default", tier)
		}
	}

	base, modelID, err := splitSpec(spec)
	if err != nil {
		return nil, err
	}

	cacheKey := spec
	if apiType != "" {
		cacheKey = spec + "@" + apiType
	}
	if entry, ok := r.cache[cacheKey]; ok {
		return entry.provider, nil
	}

	factoryKey := base
	if apiType != "" {
		factoryKey = apiType
	}
	factory, ok := r.factories[factoryKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoFactory, factoryKey)
	}

	providerCfg := r.providers[base]
	provider, err := factory(modelID, providerCfg)
	if err != nil {
		return nil, fmt.Errorf("modelregistry: construct %s: %w", spec, err)
	}

	r.cache[cacheKey] = cacheEntry{provider: provider, base: base}
	return provider, nil
}

// splitSpec parses "<provider>/<model>" on the first '/'.
func splitSpec(spec string) (provider, model string, err error) {
	idx := strings.IndexByte(spec, '/')
	if idx <= 0 || idx == len(spec)-1 {
		return "", "", fmt.Errorf("modelregistry: malformed model spec %q, want \"<provider>/<model>\"", spec)
	}
	return spec[:idx], spec[idx+1:], nil
}

// SetOAuthCredentials stores a fresh token source for provider (codex,
// copilot) and evicts every cached model instance tagged with it, so the
// next Get reconstructs with the new credentials.
func (r *Registry) SetOAuthCredentials(provider string, tokenSource oauth2.TokenSource, path, baseURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[provider] = ProviderConfig{
		BaseURL:     baseURL,
		TokenSource: tokenSource,
	}
	for key, entry := range r.cache {
		if entry.base == provider {
			delete(r.cache, key)
		}
	}
	_ = path // path is metadata the caller may log; the registry itself is path-agnostic.
}

// TierSpec returns the raw "<provider>/<model>" string configured for tier,
// without resolving the default fallback — used by callers reporting which
// model a task actually ran against.
func (r *Registry) TierSpec(tier Tier) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	spec, ok := r.tiers[normalizeTier(tier)]
	return spec, ok
}

// MarshalState returns a JSON-safe snapshot of configured tiers, for
// diagnostics endpoints; it never exposes credentials.
func (r *Registry) MarshalState() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make(map[string]string, len(r.tiers))
	for tier, spec := range r.tiers {
		snapshot[string(tier)] = spec
	}
	return json.Marshal(snapshot)
}
