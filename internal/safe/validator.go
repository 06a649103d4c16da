package safe

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"safe-trade-bot/internal/cache"
	"safe-trade-bot/internal/directory"
	"safe-trade-bot/internal/errs"
	"safe-trade-bot/internal/token"
)

const validationTTL = 2 * time.Minute

// ChainReader is the read-only slice of the chain client the validator needs.
type ChainReader interface {
	Code(ctx context.Context, addr common.Address) ([]byte, error)
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Result is a validated wallet deployment. Cached for a short window; any
// executed transaction invalidates it.
type Result struct {
	Record        directory.Record
	Network       token.NetworkKey
	Owners        []common.Address
	Threshold     int
	NativeBalance *big.Int
}

// Validator checks that a wallet referenced by a signal is deployed, sanely
// configured, and operable by our signer on the requested network.
type Validator struct {
	dir          directory.Directory
	readers      map[token.NetworkKey]ChainReader
	signer       common.Address
	minNativeWei *big.Int

	cache *cache.Cache[Result]
}

func NewValidator(dir directory.Directory, readers map[token.NetworkKey]ChainReader, signer common.Address, minNativeWei *big.Int) *Validator {
	if minNativeWei == nil {
		minNativeWei = new(big.Int)
	}
	return &Validator{
		dir:          dir,
		readers:      readers,
		signer:       signer,
		minNativeWei: minNativeWei,
		cache:        cache.New[Result](validationTTL),
	}
}

// Validate runs the full check chain for a (caller, wallet, network) triple.
// nativeDenominated turns the low-gas advisory into a hard failure, since a
// native-funded trade cannot both pay gas and fund the position.
func (v *Validator) Validate(ctx context.Context, callerID, walletAddress string, network token.NetworkKey, nativeDenominated bool) (Result, error) {
	reader, ok := v.readers[network]
	if !ok {
		return Result{}, errs.Newf(errs.UnsupportedNetwork, "network %s is not configured", network).
			WithContext(errs.Context{Network: string(network)})
	}

	key := validationKey(walletAddress, network)
	res, err := v.cache.GetOrLoad(ctx, key, func(ctx context.Context) (Result, error) {
		return v.validate(ctx, reader, callerID, walletAddress, network)
	})
	if err != nil {
		return Result{}, err
	}

	if res.NativeBalance.Cmp(v.minNativeWei) < 0 {
		if nativeDenominated {
			return Result{}, errs.Newf(errs.SafeInsufficientBalance,
				"wallet holds %s wei of native balance, below the %s gas reserve", res.NativeBalance, v.minNativeWei).
				WithContext(errs.Context{WalletAddress: walletAddress, Network: string(network)})
		}
		log.Warn().
			Str("wallet", walletAddress).
			Str("network", string(network)).
			Str("native", res.NativeBalance.String()).
			Msg("wallet native balance below gas reserve")
	}
	return res, nil
}

func (v *Validator) validate(ctx context.Context, reader ChainReader, callerID, walletAddress string, network token.NetworkKey) (Result, error) {
	record, err := v.dir.GetWallet(ctx, callerID, walletAddress)
	if err != nil {
		return Result{}, err
	}
	if !record.ActiveOn(network) {
		return Result{}, errs.Newf(errs.SafeNotDeployed, "wallet %s has no active deployment on %s", walletAddress, network).
			WithContext(errs.Context{WalletAddress: walletAddress, Network: string(network)})
	}

	addr := common.HexToAddress(walletAddress)
	code, err := reader.Code(ctx, addr)
	if err != nil {
		return Result{}, err
	}
	if len(code) == 0 {
		return Result{}, errs.Newf(errs.SafeNotDeployed, "no contract code at %s on %s", walletAddress, network).
			WithContext(errs.Context{WalletAddress: walletAddress, Network: string(network)})
	}

	owners, err := readOwners(ctx, reader, addr)
	if err != nil {
		return Result{}, err
	}
	threshold, err := readThreshold(ctx, reader, addr)
	if err != nil {
		return Result{}, err
	}
	if len(owners) == 0 || threshold < 1 || threshold > len(owners) {
		return Result{}, errs.Newf(errs.SafeInvalidConfiguration,
			"wallet has %d owners with threshold %d", len(owners), threshold).
			WithContext(errs.Context{WalletAddress: walletAddress, Network: string(network)})
	}
	if threshold > 1 {
		return Result{}, errs.Newf(errs.SafeInvalidConfiguration,
			"threshold %d requires co-signers; only automated execution with threshold 1 is supported", threshold).
			WithContext(errs.Context{WalletAddress: walletAddress, Network: string(network)})
	}
	if !containsAddr(owners, v.signer) {
		return Result{}, errs.Newf(errs.SafeInvalidConfiguration,
			"signer %s is not an owner of %s", v.signer.Hex(), walletAddress).
			WithContext(errs.Context{WalletAddress: walletAddress, Network: string(network)})
	}

	native, err := reader.Balance(ctx, addr)
	if err != nil {
		return Result{}, err
	}

	log.Debug().
		Str("wallet", walletAddress).
		Str("network", string(network)).
		Int("owners", len(owners)).
		Int("threshold", threshold).
		Msg("wallet validated")

	return Result{
		Record:        record,
		Network:       network,
		Owners:        owners,
		Threshold:     threshold,
		NativeBalance: native,
	}, nil
}

// Invalidate drops the cached validation, called after every executed
// transaction since balances moved.
func (v *Validator) Invalidate(walletAddress string, network token.NetworkKey) {
	v.cache.Invalidate(validationKey(walletAddress, network))
}

func validationKey(walletAddress string, network token.NetworkKey) string {
	return strings.ToLower(walletAddress) + "|" + string(network)
}

func containsAddr(addrs []common.Address, want common.Address) bool {
	for _, a := range addrs {
		if a == want {
			return true
		}
	}
	return false
}

type contractCaller interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

func readOwners(ctx context.Context, caller contractCaller, wallet common.Address) ([]common.Address, error) {
	out, err := viewCall(ctx, caller, wallet, "getOwners")
	if err != nil {
		return nil, err
	}
	owners, ok := out[0].([]common.Address)
	if !ok {
		return nil, errs.New(errs.SafeInvalidConfiguration, "getOwners returned unexpected shape")
	}
	return owners, nil
}

func readThreshold(ctx context.Context, caller contractCaller, wallet common.Address) (int, error) {
	out, err := viewCall(ctx, caller, wallet, "getThreshold")
	if err != nil {
		return 0, err
	}
	th, ok := out[0].(*big.Int)
	if !ok {
		return 0, errs.New(errs.SafeInvalidConfiguration, "getThreshold returned unexpected shape")
	}
	return int(th.Int64()), nil
}

func viewCall(ctx context.Context, caller contractCaller, wallet common.Address, method string) ([]any, error) {
	data, err := walletABI.Pack(method)
	if err != nil {
		return nil, errs.Wrap(errs.UnknownError, err, "pack "+method)
	}
	ret, err := caller.CallContract(ctx, wallet, data)
	if err != nil {
		return nil, err
	}
	out, err := walletABI.Unpack(method, ret)
	if err != nil {
		return nil, errs.Wrap(errs.SafeInvalidConfiguration, err, "decode "+method)
	}
	return out, nil
}
