package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

const kevDefaultBaseURL = "https://www.cisa.gov/sites/default/files/feeds"

// Weight model for known-exploited CVEs: every catalog entry is actively
// exploited, ransomware association and recency raise the weight further.
const (
	kevBaseWeight       = 0.6
	kevRansomwareWeight = 0.3
	kevRecencyWeight    = 0.1
	kevRecencyWindow    = 30 * 24 * time.Hour
)

// KEVClient fetches the CISA Known Exploited Vulnerabilities catalog and
// converts it into CVE exploitation weights. The catalog is a single public
// JSON document, so the whole fetch result is cached; a failed fetch is
// cached too (negative entry) to avoid hammering the feed.
type KEVClient struct {
	config     ProviderConfig
	httpClient *http.Client

	mu        sync.RWMutex
	cached    map[string]kevEntry
	fetchedAt time.Time
	fetchErr  error
	rateLimit RateLimitStatus
}

type kevEntry struct {
	DateAdded  time.Time
	Ransomware bool
}

// kevCatalog is the catalog document shape.
type kevCatalog struct {
	Title           string `json:"title"`
	CatalogVersion  string `json:"catalogVersion"`
	Count           int    `json:"count"`
	Vulnerabilities []struct {
		CVEID                      string `json:"cveID"`
		VendorProject              string `json:"vendorProject"`
		Product                    string `json:"product"`
		DateAdded                  string `json:"dateAdded"`
		KnownRansomwareCampaignUse string `json:"knownRansomwareCampaignUse"`
	} `json:"vulnerabilities"`
}

// NewKEVClient creates a KEV catalog client.
func NewKEVClient(config ProviderConfig) *KEVClient {
	if config.BaseURL == "" {
		config.BaseURL = kevDefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = 1 * time.Hour
	}
	return &KEVClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		rateLimit: RateLimitStatus{
			Remaining: config.RateLimit,
			Limit:     config.RateLimit,
			ResetAt:   time.Now().Add(time.Minute),
		},
	}
}

// Name implements Provider.
func (c *KEVClient) Name() string { return "kev" }

// FetchWeights implements Provider. Entries added before since are still
// returned; since only matters for the recency bonus.
func (c *KEVClient) FetchWeights(ctx context.Context, since time.Time) (map[string]float64, error) {
	entries, err := c.catalog(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	weights := make(map[string]float64, len(entries))
	for cve, entry := range entries {
		w := kevBaseWeight
		if entry.Ransomware {
			w += kevRansomwareWeight
		}
		if !entry.DateAdded.IsZero() && now.Sub(entry.DateAdded) <= kevRecencyWindow {
			w += kevRecencyWeight
		}
		weights[cve] = clampWeight(w)
	}
	return weights, nil
}

// CheckCVE reports whether a single CVE is in the catalog, with its weight.
func (c *KEVClient) CheckCVE(ctx context.Context, cveID string) (float64, bool, error) {
	weights, err := c.FetchWeights(ctx, time.Time{})
	if err != nil {
		return 0, false, err
	}
	w, ok := weights[strings.ToUpper(cveID)]
	return w, ok, nil
}

// HealthCheck implements Provider.
func (c *KEVClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.catalogURL(), nil)
	if err != nil {
		return fmt.Errorf("creating health check request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("KEV health check failed: %w", err)
	}
	defer resp.Body.Close()

	c.updateRateLimit(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("KEV feed returned status %d", resp.StatusCode)
	}
	return nil
}

// RateLimit implements Provider.
func (c *KEVClient) RateLimit() RateLimitStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rateLimit
}

// catalog returns the cached catalog, refreshing it when the TTL expired.
func (c *KEVClient) catalog(ctx context.Context) (map[string]kevEntry, error) {
	c.mu.RLock()
	fresh := time.Since(c.fetchedAt) < c.config.CacheTTL
	entries, fetchErr := c.cached, c.fetchErr
	c.mu.RUnlock()

	if fresh {
		return entries, fetchErr
	}

	entries, err := c.fetch(ctx)

	c.mu.Lock()
	c.fetchedAt = time.Now()
	if err != nil {
		// Negative cache: remember the failure for the TTL, but keep serving
		// the previous catalog if we have one.
		if c.cached != nil {
			c.fetchErr = nil
			entries, err = c.cached, nil
		} else {
			c.fetchErr = err
		}
	} else {
		c.cached = entries
		c.fetchErr = nil
	}
	c.mu.Unlock()

	return entries, err
}

func (c *KEVClient) fetch(ctx context.Context) (map[string]kevEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.catalogURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "RiskForge/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching KEV catalog: %w", err)
	}
	defer resp.Body.Close()

	c.updateRateLimit(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("KEV feed returned status %d", resp.StatusCode)
	}

	var catalog kevCatalog
	if err := json.NewDecoder(resp.Body).Decode(&catalog); err != nil {
		return nil, fmt.Errorf("decoding KEV catalog: %w", err)
	}

	entries := make(map[string]kevEntry, len(catalog.Vulnerabilities))
	for _, v := range catalog.Vulnerabilities {
		added, _ := time.Parse("2006-01-02", v.DateAdded)
		entries[strings.ToUpper(v.CVEID)] = kevEntry{
			DateAdded:  added,
			Ransomware: strings.EqualFold(v.KnownRansomwareCampaignUse, "Known"),
		}
	}
	return entries, nil
}

func (c *KEVClient) catalogURL() string {
	return strings.TrimSuffix(c.config.BaseURL, "/") + "/known_exploited_vulnerabilities.json"
}

func (c *KEVClient) updateRateLimit(resp *http.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if remaining := resp.Header.Get("X-RateLimit-Remaining"); remaining != "" {
		var r int
		fmt.Sscanf(remaining, "%d", &r)
		c.rateLimit.Remaining = r
	}
	if limit := resp.Header.Get("X-RateLimit-Limit"); limit != "" {
		var l int
		fmt.Sscanf(limit, "%d", &l)
		c.rateLimit.Limit = l
	}
}
