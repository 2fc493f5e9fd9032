// Package intel provides threat intelligence feed integrations. Feed
// providers map CVE identifiers to exploitation weights in [0,1] which the
// scoring layer folds into vulnerability risk.
package intel

import (
	"context"
	"time"
)

// Provider is the interface for threat intelligence feeds.
type Provider interface {
	Name() string
	// FetchWeights returns exploitation weights keyed by CVE id for entries
	// modified since the given time. Weights are in [0,1].
	FetchWeights(ctx context.Context, since time.Time) (map[string]float64, error)
	HealthCheck(ctx context.Context) error
	RateLimit() RateLimitStatus
}

// RateLimitStatus represents API rate limiting.
type RateLimitStatus struct {
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"resetAt"`
}

// ProviderConfig holds common provider configuration.
type ProviderConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	RateLimit int           `yaml:"rate_limit"`
}

// DefaultProviderConfig returns sensible defaults.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout:   30 * time.Second,
		CacheTTL:  1 * time.Hour,
		RateLimit: 60,
	}
}

// StaticProvider serves a fixed weight table. Used for fixtures and for
// deployments that load intel from disk instead of a live feed.
type StaticProvider struct {
	ProviderName string
	Weights      map[string]float64
}

// Name implements Provider.
func (s *StaticProvider) Name() string {
	if s.ProviderName == "" {
		return "static"
	}
	return s.ProviderName
}

// FetchWeights implements Provider. The since parameter is ignored; static
// tables have no modification times.
func (s *StaticProvider) FetchWeights(ctx context.Context, since time.Time) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(s.Weights))
	for cve, w := range s.Weights {
		out[cve] = clampWeight(w)
	}
	return out, nil
}

// HealthCheck implements Provider.
func (s *StaticProvider) HealthCheck(ctx context.Context) error { return ctx.Err() }

// RateLimit implements Provider.
func (s *StaticProvider) RateLimit() RateLimitStatus {
	return RateLimitStatus{Remaining: 1 << 30, Limit: 1 << 30}
}

func clampWeight(w float64) float64 {
	if w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}
