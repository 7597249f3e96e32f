// Package enrich resolves auxiliary context (geolocation, reputation,
// reverse DNS, Tor-exit membership) for the addresses on a record. Lookups
// run concurrently, each with its own timeout, under an overall per-record
// budget; a provider failing or timing out only marks its own slot.
package enrich

import (
	"context"
	"time"

	"github.com/GeoAziz/netverse-engine/internal/metrics"
	"github.com/GeoAziz/netverse-engine/internal/packet"
)

const (
	// DefaultLookupTimeout bounds one provider call.
	DefaultLookupTimeout = 2 * time.Second
	// DefaultBudget bounds the whole enrichment of one address. Slots still
	// unresolved when it expires are marked timed-out.
	DefaultBudget = 3 * time.Second
)

// Resolver is the capability one lookup kind implements. Providers can be
// added or removed without touching pipeline logic.
type Resolver interface {
	Kind() packet.LookupKind
	Resolve(ctx context.Context, address string) (interface{}, error)
}

// Enricher fans one address out to every registered resolver.
type Enricher struct {
	resolvers     []Resolver
	lookupTimeout time.Duration
	budget        time.Duration
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithLookupTimeout overrides the per-provider timeout.
func WithLookupTimeout(d time.Duration) Option {
	return func(e *Enricher) { e.lookupTimeout = d }
}

// WithBudget overrides the per-address enrichment budget.
func WithBudget(d time.Duration) Option {
	return func(e *Enricher) { e.budget = d }
}

// New creates an Enricher over the given resolvers.
func New(resolvers []Resolver, opts ...Option) *Enricher {
	e := &Enricher{
		resolvers:     resolvers,
		lookupTimeout: DefaultLookupTimeout,
		budget:        DefaultBudget,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich populates the enrichment maps for the source and destination
// addresses of rec. It mutates only the enrichment fields and must be
// called before the record is published.
func (e *Enricher) Enrich(ctx context.Context, rec *packet.Record) {
	if len(e.resolvers) == 0 {
		return
	}

	start := time.Now()
	defer func() {
		metrics.EnrichmentDuration.Observe(time.Since(start).Seconds())
	}()

	done := make(chan packet.Enrichment, 1)
	go func() {
		done <- e.EnrichAddress(ctx, rec.DestAddress)
	}()
	rec.SourceEnrichment = e.EnrichAddress(ctx, rec.SourceAddress)
	rec.DestEnrichment = <-done
}

// EnrichAddress resolves every lookup kind for one address. The returned
// map always has one slot per registered resolver.
func (e *Enricher) EnrichAddress(ctx context.Context, address string) packet.Enrichment {
	type answer struct {
		kind   packet.LookupKind
		result packet.LookupResult
	}

	// Buffered so late resolvers never leak after the budget expires.
	answers := make(chan answer, len(e.resolvers))
	for _, r := range e.resolvers {
		go func(r Resolver) {
			lctx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
			defer cancel()

			value, err := r.Resolve(lctx, address)
			if err != nil {
				metrics.EnrichmentFailuresTotal.WithLabelValues(string(r.Kind())).Inc()
				answers <- answer{r.Kind(), packet.LookupResult{Error: err.Error()}}
				return
			}
			answers <- answer{r.Kind(), packet.LookupResult{Value: value}}
		}(r)
	}

	enrichment := make(packet.Enrichment, len(e.resolvers))
	deadline := time.NewTimer(e.budget)
	defer deadline.Stop()

	for range e.resolvers {
		select {
		case a := <-answers:
			enrichment[a.kind] = a.result
		case <-deadline.C:
			e.markTimedOut(enrichment)
			return enrichment
		case <-ctx.Done():
			e.markTimedOut(enrichment)
			return enrichment
		}
	}
	return enrichment
}

func (e *Enricher) markTimedOut(enrichment packet.Enrichment) {
	for _, r := range e.resolvers {
		if _, ok := enrichment[r.Kind()]; !ok {
			metrics.EnrichmentFailuresTotal.WithLabelValues(string(r.Kind())).Inc()
			enrichment[r.Kind()] = packet.LookupResult{Error: "lookup timed out"}
		}
	}
}
