package directory

import (
	"context"
	"testing"

	"safe-trade-bot/internal/errs"
)

func testRecords() []Record {
	return []Record{
		{
			CallerID:      "caller-1",
			WalletAddress: "0xABCDEF0000000000000000000000000000000001",
			Deployments: []Deployment{
				{Network: "base", Address: "0xABCDEF0000000000000000000000000000000001", Active: true},
				{Network: "arbitrum", Address: "0xABCDEF0000000000000000000000000000000001", Active: false},
			},
		},
	}
}

func TestGetWallet(t *testing.T) {
	d := NewStatic(testRecords())

	// case-insensitive address match
	r, err := d.GetWallet(context.Background(), "caller-1", "0xabcdef0000000000000000000000000000000001")
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	if !r.ActiveOn("base") {
		t.Error("base deployment should be active")
	}
	if r.ActiveOn("arbitrum") {
		t.Error("inactive deployment must not count")
	}
	if nets := r.Networks(); len(nets) != 1 || nets[0] != "base" {
		t.Errorf("Networks() = %v", nets)
	}
}

func TestGetWalletUnknown(t *testing.T) {
	d := NewStatic(testRecords())

	_, err := d.GetWallet(context.Background(), "caller-2", "0xABCDEF0000000000000000000000000000000001")
	if errs.CodeOf(err) != errs.SafeNotDeployed {
		t.Errorf("unknown caller: expected SAFE_NOT_DEPLOYED, got %v", err)
	}

	_, err = d.GetWallet(context.Background(), "caller-1", "0x0000000000000000000000000000000000000099")
	if errs.CodeOf(err) != errs.SafeNotDeployed {
		t.Errorf("unknown wallet: expected SAFE_NOT_DEPLOYED, got %v", err)
	}
}
