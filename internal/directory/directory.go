// Package directory answers "which multi-sig deployments does this caller's
// wallet have, and on which networks". The orchestrator never trusts the
// signal's word for it; admission always goes through here.
package directory

import (
	"context"
	"strings"

	"safe-trade-bot/internal/errs"
	"safe-trade-bot/internal/token"
)

// Deployment is one on-chain instance of a caller's wallet.
type Deployment struct {
	Network token.NetworkKey
	Address string
	Active  bool
}

// Record is the directory entry for one (caller, wallet) pair.
type Record struct {
	CallerID      string
	WalletAddress string
	Deployments   []Deployment
}

// ActiveOn reports whether the wallet has an active deployment on a network.
func (r Record) ActiveOn(network token.NetworkKey) bool {
	for _, d := range r.Deployments {
		if d.Network == network && d.Active {
			return true
		}
	}
	return false
}

// Networks returns the networks with an active deployment, in directory order.
func (r Record) Networks() []token.NetworkKey {
	out := make([]token.NetworkKey, 0, len(r.Deployments))
	for _, d := range r.Deployments {
		if d.Active {
			out = append(out, d.Network)
		}
	}
	return out
}

// Directory resolves callers to their wallet records.
type Directory interface {
	GetWallet(ctx context.Context, callerID, walletAddress string) (Record, error)
}

// Static is a config-backed directory. Lookups are case-insensitive on the
// wallet address.
type Static struct {
	records map[string]Record
}

func NewStatic(records []Record) *Static {
	byKey := make(map[string]Record, len(records))
	for _, r := range records {
		byKey[key(r.CallerID, r.WalletAddress)] = r
	}
	return &Static{records: byKey}
}

// Records returns every registered entry.
func (s *Static) Records() []Record {
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out
}

func (s *Static) GetWallet(ctx context.Context, callerID, walletAddress string) (Record, error) {
	r, ok := s.records[key(callerID, walletAddress)]
	if !ok {
		return Record{}, errs.Newf(errs.SafeNotDeployed, "no wallet %s registered for caller %s", walletAddress, callerID).
			WithContext(errs.Context{WalletAddress: walletAddress})
	}
	return r, nil
}

func key(callerID, walletAddress string) string {
	return callerID + "|" + strings.ToLower(walletAddress)
}
