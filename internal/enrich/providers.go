package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/GeoAziz/netverse-engine/internal/packet"
)

// ProviderConfig selects and parameterizes the lookup providers. Reputation
// providers run only when their API key is configured; geolocation, reverse
// DNS and Tor-exit detection are always on.
type ProviderConfig struct {
	GeoURL         string        `mapstructure:"geo_url" yaml:"geo_url"`
	VirusTotalKey  string        `mapstructure:"virustotal_key" yaml:"virustotal_key"`
	AbuseIPDBKey   string        `mapstructure:"abuseipdb_key" yaml:"abuseipdb_key"`
	TorExitListURL string        `mapstructure:"tor_exit_list_url" yaml:"tor_exit_list_url"`
	DisableRDNS    bool          `mapstructure:"disable_rdns" yaml:"disable_rdns"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

const (
	defaultGeoURL     = "https://ipinfo.io"
	defaultTorExitURL = "https://check.torproject.org/torbulkexitlist"
	virusTotalURL     = "https://www.virustotal.com/api/v3/ip_addresses"
	abuseIPDBURL      = "https://api.abuseipdb.com/api/v2/check"
)

// BuildResolvers assembles the provider set from configuration.
func BuildResolvers(cfg ProviderConfig) []Resolver {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	client := &http.Client{Timeout: timeout}

	geoURL := cfg.GeoURL
	if geoURL == "" {
		geoURL = defaultGeoURL
	}
	torURL := cfg.TorExitListURL
	if torURL == "" {
		torURL = defaultTorExitURL
	}

	resolvers := []Resolver{
		&GeoResolver{BaseURL: geoURL, Client: client},
		&TorExitResolver{ListURL: torURL, Client: client, TTL: 30 * time.Minute},
	}
	if !cfg.DisableRDNS {
		resolvers = append(resolvers, &ReverseDNSResolver{})
	}
	if cfg.VirusTotalKey != "" {
		resolvers = append(resolvers, &VirusTotalResolver{APIKey: cfg.VirusTotalKey, Client: client})
	}
	if cfg.AbuseIPDBKey != "" {
		resolvers = append(resolvers, &AbuseIPDBResolver{APIKey: cfg.AbuseIPDBKey, Client: client})
	}
	return resolvers
}

// GeoInfo is the structured geolocation result.
type GeoInfo struct {
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
	Org     string `json:"org"`
}

// GeoResolver queries an ipinfo-compatible endpoint.
type GeoResolver struct {
	BaseURL string
	Client  *http.Client
}

func (r *GeoResolver) Kind() packet.LookupKind { return packet.LookupGeo }

func (r *GeoResolver) Resolve(ctx context.Context, address string) (interface{}, error) {
	var info GeoInfo
	url := fmt.Sprintf("%s/%s/json", strings.TrimSuffix(r.BaseURL, "/"), address)
	if err := getJSON(ctx, r.Client, url, nil, &info); err != nil {
		return nil, err
	}
	return info, nil
}

// VirusTotalResolver queries the VirusTotal v3 IP endpoint for the analysis
// verdict counters.
type VirusTotalResolver struct {
	APIKey string
	Client *http.Client
}

func (r *VirusTotalResolver) Kind() packet.LookupKind { return packet.LookupVirusTotal }

func (r *VirusTotalResolver) Resolve(ctx context.Context, address string) (interface{}, error) {
	var body struct {
		Data struct {
			Attributes struct {
				Reputation        int            `json:"reputation"`
				LastAnalysisStats map[string]int `json:"last_analysis_stats"`
			} `json:"attributes"`
		} `json:"data"`
	}
	url := fmt.Sprintf("%s/%s", virusTotalURL, address)
	headers := map[string]string{"x-apikey": r.APIKey}
	if err := getJSON(ctx, r.Client, url, headers, &body); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"reputation":          body.Data.Attributes.Reputation,
		"last_analysis_stats": body.Data.Attributes.LastAnalysisStats,
	}, nil
}

// AbuseIPDBResolver queries the AbuseIPDB check endpoint.
type AbuseIPDBResolver struct {
	APIKey string
	Client *http.Client
}

func (r *AbuseIPDBResolver) Kind() packet.LookupKind { return packet.LookupAbuseIPDB }

func (r *AbuseIPDBResolver) Resolve(ctx context.Context, address string) (interface{}, error) {
	var body struct {
		Data struct {
			AbuseConfidenceScore int  `json:"abuseConfidenceScore"`
			IsWhitelisted        bool `json:"isWhitelisted"`
			TotalReports         int  `json:"totalReports"`
		} `json:"data"`
	}
	url := fmt.Sprintf("%s?ipAddress=%s", abuseIPDBURL, address)
	headers := map[string]string{"Key": r.APIKey, "Accept": "application/json"}
	if err := getJSON(ctx, r.Client, url, headers, &body); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"abuse_confidence_score": body.Data.AbuseConfidenceScore,
		"is_whitelisted":         body.Data.IsWhitelisted,
		"total_reports":          body.Data.TotalReports,
	}, nil
}

// ReverseDNSResolver resolves the PTR name for an address.
type ReverseDNSResolver struct {
	// Resolver defaults to net.DefaultResolver.
	Resolver *net.Resolver
}

func (r *ReverseDNSResolver) Kind() packet.LookupKind { return packet.LookupReverseDNS }

func (r *ReverseDNSResolver) Resolve(ctx context.Context, address string) (interface{}, error) {
	resolver := r.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	names, err := resolver.LookupAddr(ctx, address)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no PTR record for %s", address)
	}
	return strings.TrimSuffix(names[0], "."), nil
}

// TorExitResolver checks membership in the Tor bulk exit list. The list is
// fetched lazily and cached for TTL.
type TorExitResolver struct {
	ListURL string
	Client  *http.Client
	TTL     time.Duration

	mu        sync.Mutex
	exits     map[string]struct{}
	fetchedAt time.Time
}

func (r *TorExitResolver) Kind() packet.LookupKind { return packet.LookupTorExit }

func (r *TorExitResolver) Resolve(ctx context.Context, address string) (interface{}, error) {
	exits, err := r.exitList(ctx)
	if err != nil {
		return nil, err
	}
	_, isExit := exits[address]
	return isExit, nil
}

// exitList returns the cached list, refreshing it when stale. The mutex
// only guards the cached state, never the fetch itself, so a slow refresh
// cannot block concurrent lookups past their own deadlines. Stale callers
// racing a refresh may fetch redundantly; last writer wins.
func (r *TorExitResolver) exitList(ctx context.Context) (map[string]struct{}, error) {
	r.mu.Lock()
	exits, fetchedAt := r.exits, r.fetchedAt
	r.mu.Unlock()

	if exits != nil && time.Since(fetchedAt) < r.TTL {
		return exits, nil
	}

	exits, err := r.fetchList(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.exits = exits
	r.fetchedAt = time.Now()
	r.mu.Unlock()
	return exits, nil
}

func (r *TorExitResolver) fetchList(ctx context.Context) (map[string]struct{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.ListURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tor exit list fetch: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	exits := make(map[string]struct{})
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			exits[line] = struct{}{}
		}
	}
	return exits, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
