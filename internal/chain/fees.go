package chain

import (
	"context"
	"math/big"
)

// Fees holds the selected gas pricing for one transaction. Dynamic means
// EIP-1559 fields are set; otherwise GasPrice drives a legacy transaction.
type Fees struct {
	Dynamic   bool
	GasTipCap *big.Int
	GasFeeCap *big.Int
	GasPrice  *big.Int
}

// FeeOptions tunes fee selection per network.
type FeeOptions struct {
	// GasBumpPercent is added on top of the suggested legacy gas price
	// (20 means +20%).
	GasBumpPercent int64
	// MinGasPrice clamps the legacy price from below; some L2 RPCs suggest
	// zero under light load.
	MinGasPrice *big.Int
}

// SuggestFees picks fees for the next transaction. When the network supports
// EIP-1559 the fee cap leaves headroom for two base-fee doublings; otherwise
// it falls back to a bumped legacy price.
func (c *Client) SuggestFees(ctx context.Context, opts FeeOptions) (Fees, error) {
	tip, tipErr := c.eth.SuggestGasTipCap(ctx)
	if tipErr == nil {
		head, err := c.eth.HeaderByNumber(ctx, nil)
		if err != nil {
			return Fees{}, c.rpcErr(err, "read head for base fee")
		}
		if head.BaseFee != nil {
			return DynamicFees(head.BaseFee, tip), nil
		}
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return Fees{}, c.rpcErr(err, "suggest gas price")
	}
	return LegacyFees(gasPrice, opts), nil
}

// DynamicFees builds EIP-1559 pricing: feeCap = baseFee*2 + tip.
func DynamicFees(baseFee, tip *big.Int) Fees {
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)
	return Fees{
		Dynamic:   true,
		GasTipCap: new(big.Int).Set(tip),
		GasFeeCap: feeCap,
	}
}

// LegacyFees bumps the suggested price by GasBumpPercent and clamps it to the
// configured floor.
func LegacyFees(suggested *big.Int, opts FeeOptions) Fees {
	bump := opts.GasBumpPercent
	if bump <= 0 {
		bump = 20
	}
	price := new(big.Int).Mul(suggested, big.NewInt(100+bump))
	price.Quo(price, big.NewInt(100))
	if opts.MinGasPrice != nil && price.Cmp(opts.MinGasPrice) < 0 {
		price.Set(opts.MinGasPrice)
	}
	return Fees{GasPrice: price}
}
