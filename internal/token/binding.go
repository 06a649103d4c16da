package token

// NetworkKey identifies a chain. It is opaque to the core and round-trips
// through the adapters unchanged ("base", "arbitrum", ...).
type NetworkKey string

// Source ranks where a binding came from. Lower value wins.
type Source int

const (
	SourceKnown Source = iota // built-in registry of canonical tokens
	SourceRegistry
	SourceDexListing
)

func (s Source) String() string {
	switch s {
	case SourceKnown:
		return "known"
	case SourceRegistry:
		return "registry"
	case SourceDexListing:
		return "dex-listing"
	}
	return "unknown"
}

// NativeSentinel is the pseudo contract address agreed with the aggregator
// for native assets.
const NativeSentinel = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

// Binding ties a symbol to a contract on one network.
type Binding struct {
	Symbol          string
	Network         NetworkKey
	ContractAddress string
	Decimals        int
	IsNative        bool
	Source          Source
	// Verified is set by the listing index when the pair clears the
	// configured liquidity threshold; known-registry bindings are always
	// verified.
	Verified bool
}

// stablecoins recognized for 1:1 USD sizing. Symbols only; the contract per
// network comes from the resolver like any other token.
var stablecoins = map[string]bool{
	"USDC":   true,
	"USDC.E": true,
	"USDT":   true,
	"DAI":    true,
	"FDUSD":  true,
	"USDS":   true,
}

// IsStablecoin reports whether a symbol is assumed 1:1 to USD by the sizer.
func IsStablecoin(symbol string) bool {
	return stablecoins[normalizeSymbol(symbol)]
}
