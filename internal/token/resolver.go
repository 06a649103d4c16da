package token

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"safe-trade-bot/internal/cache"
	"safe-trade-bot/internal/errs"
)

const (
	bindingsTTL = 5 * time.Minute
	negativeTTL = 60 * time.Second
)

// Lookup is satisfied by the external token-metadata registry and the DEX
// listing index. Both return candidate bindings for a symbol.
type Lookup interface {
	LookupTokenBindings(ctx context.Context, symbol string) ([]Binding, error)
	Name() string
}

// Resolver resolves a token symbol to the ordered list of chains it is known
// on. Sources are consulted built-in first, then the registry, then the
// listing index; results are union-merged and de-duplicated by
// (network, contract).
type Resolver struct {
	builtin map[string][]Binding
	sources []Lookup
	cache   *cache.Cache[[]Binding]
}

// NewResolver builds a resolver over a built-in binding table and zero or
// more external lookup sources, given in priority order.
func NewResolver(builtin []Binding, sources ...Lookup) *Resolver {
	byKey := make(map[string][]Binding)
	for _, b := range builtin {
		b.Source = SourceKnown
		b.Verified = true
		key := normalizeSymbol(b.Symbol)
		byKey[key] = append(byKey[key], b)
	}
	return &Resolver{
		builtin: byKey,
		sources: sources,
		cache:   cache.New[[]Binding](bindingsTTL),
	}
}

// Resolve returns the bindings for a symbol ordered by source priority,
// verification, and presence of the network in activeNetworks (active chains
// move to the front without dropping the rest). Empty means TOKEN_NOT_FOUND.
func (r *Resolver) Resolve(ctx context.Context, symbol string, activeNetworks []NetworkKey) ([]Binding, error) {
	key := normalizeSymbol(symbol)
	if key == "" {
		return nil, errs.New(errs.InvalidSignalFormat, "empty token symbol")
	}

	bindings, err := r.cache.GetOrLoad(ctx, key, func(ctx context.Context) ([]Binding, error) {
		return r.load(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	if len(bindings) == 0 {
		// Negative result: shrink the entry's lifetime so a late listing is
		// picked up quickly.
		r.cache.SetTTL(key, nil, negativeTTL)
		return nil, errs.Newf(errs.TokenNotFound, "no contract known for %s on any network", symbol).
			WithContext(errs.Context{Symbol: symbol})
	}

	return rank(bindings, activeNetworks), nil
}

// ResolveOn returns the single best binding for a symbol on one network.
func (r *Resolver) ResolveOn(ctx context.Context, symbol string, network NetworkKey) (Binding, error) {
	bindings, err := r.Resolve(ctx, symbol, []NetworkKey{network})
	if err != nil {
		return Binding{}, err
	}
	for _, b := range bindings {
		if b.Network == network {
			return b, nil
		}
	}
	return Binding{}, errs.Newf(errs.TokenNotFound, "no contract known for %s on %s", symbol, network).
		WithContext(errs.Context{Symbol: symbol, Network: string(network)})
}

// Invalidate drops a symbol from the cache.
func (r *Resolver) Invalidate(symbol string) {
	r.cache.Invalidate(normalizeSymbol(symbol))
}

func (r *Resolver) load(ctx context.Context, key string) ([]Binding, error) {
	merged := make([]Binding, 0, 4)
	seen := make(map[string]bool)

	add := func(bs []Binding) {
		for _, b := range bs {
			dk := string(b.Network) + "|" + strings.ToLower(b.ContractAddress)
			if seen[dk] {
				continue
			}
			seen[dk] = true
			merged = append(merged, b)
		}
	}

	add(r.builtin[key])

	networkFailures := 0
	for _, src := range r.sources {
		bs, err := src.LookupTokenBindings(ctx, key)
		if err != nil {
			if errs.From(err).Kind == errs.KindNetwork {
				networkFailures++
			}
			log.Warn().Str("source", src.Name()).Str("symbol", key).Err(err).Msg("token lookup source failed")
			continue
		}
		add(bs)
	}

	// A lookup only fails hard when nothing was found locally and every
	// external source failed with a network error.
	if len(merged) == 0 && len(r.sources) > 0 && networkFailures == len(r.sources) {
		return nil, errs.Newf(errs.PriceDataUnavailable, "all token metadata sources unreachable for %s", key)
	}

	return merged, nil
}

// rank orders bindings by (active network, source priority, verified), with a
// stable sort so the incoming source order breaks remaining ties.
func rank(bindings []Binding, activeNetworks []NetworkKey) []Binding {
	active := make(map[NetworkKey]bool, len(activeNetworks))
	for _, n := range activeNetworks {
		active[n] = true
	}

	out := make([]Binding, len(bindings))
	copy(out, bindings)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if active[a.Network] != active[b.Network] {
			return active[a.Network]
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Verified != b.Verified {
			return a.Verified
		}
		return false
	})
	return out
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// String implements fmt.Stringer for logging.
func (b Binding) String() string {
	return fmt.Sprintf("%s@%s(%s)", b.Symbol, b.Network, b.ContractAddress)
}
